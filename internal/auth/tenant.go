package auth

import (
	"context"
	"errors"

	masterdata "github.com/getdatasurge/fresh-staged-sub013/internal/masterdata/domain"
)

// TenantChecker validates that sites and units belong to an organization.
type TenantChecker interface {
	EnsureSite(ctx context.Context, organizationID, siteID string) error
	EnsureUnit(ctx context.Context, organizationID, unitID string) error
}

// DirectoryChecker checks ownership using masterdata.
type DirectoryChecker struct {
	directory masterdata.Directory
}

// NewDirectoryChecker constructs a DirectoryChecker.
func NewDirectoryChecker(directory masterdata.Directory) (*DirectoryChecker, error) {
	if directory == nil {
		return nil, errors.New("auth: nil directory")
	}
	return &DirectoryChecker{directory: directory}, nil
}

// EnsureSite verifies the site belongs to the organization.
func (c *DirectoryChecker) EnsureSite(ctx context.Context, organizationID, siteID string) error {
	if organizationID == "" || siteID == "" {
		return ErrNotFound
	}
	site, err := c.directory.GetSite(ctx, siteID)
	if err != nil {
		return err
	}
	if site == nil {
		return ErrNotFound
	}
	if site.OrganizationID != organizationID {
		return ErrTenantMismatch
	}
	return nil
}

// EnsureUnit verifies the unit belongs to the organization.
func (c *DirectoryChecker) EnsureUnit(ctx context.Context, organizationID, unitID string) error {
	if organizationID == "" || unitID == "" {
		return ErrNotFound
	}
	unit, err := c.directory.GetUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if unit == nil {
		return ErrNotFound
	}
	if unit.OrganizationID != organizationID {
		return ErrTenantMismatch
	}
	return nil
}
