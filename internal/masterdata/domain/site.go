package masterdata

import (
	"context"
	"errors"
	"time"
)

// Site is a physical location owned by one organization.
type Site struct {
	ID             string
	OrganizationID string
	Name           string
	Timezone       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks site invariants.
func (s Site) Validate() error {
	if s.ID == "" {
		return errors.New("site: empty id")
	}
	if s.OrganizationID == "" {
		return errors.New("site: empty organization id")
	}
	if s.Name == "" {
		return errors.New("site: empty name")
	}
	return nil
}

// Unit is a refrigerated unit (cooler, freezer, display case) at a site.
type Unit struct {
	ID             string
	OrganizationID string
	SiteID         string
	Name           string
	Kind           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks unit invariants.
func (u Unit) Validate() error {
	if u.ID == "" {
		return errors.New("unit: empty id")
	}
	if u.OrganizationID == "" {
		return errors.New("unit: empty organization id")
	}
	if u.SiteID == "" {
		return errors.New("unit: empty site id")
	}
	if u.Name == "" {
		return errors.New("unit: empty name")
	}
	return nil
}

// SiteRepository manages site persistence.
type SiteRepository interface {
	GetSite(ctx context.Context, id string) (*Site, error)
	SaveSite(ctx context.Context, site *Site) error
}

// UnitRepository manages unit persistence.
type UnitRepository interface {
	GetUnit(ctx context.Context, id string) (*Unit, error)
	SaveUnit(ctx context.Context, unit *Unit) error
}

// Directory answers ownership lookups for sites and units. Missing entries return nil, nil.
type Directory interface {
	GetSite(ctx context.Context, id string) (*Site, error)
	GetUnit(ctx context.Context, id string) (*Unit, error)
}
