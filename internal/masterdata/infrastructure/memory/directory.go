package memory

import (
	"context"
	"errors"
	"sync"

	masterdata "github.com/getdatasurge/fresh-staged-sub013/internal/masterdata/domain"
)

// Directory keeps sites and units in memory.
type Directory struct {
	mu    sync.RWMutex
	sites map[string]masterdata.Site
	units map[string]masterdata.Unit
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		sites: make(map[string]masterdata.Site),
		units: make(map[string]masterdata.Unit),
	}
}

// GetSite returns the site or nil.
func (d *Directory) GetSite(_ context.Context, id string) (*masterdata.Site, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	site, ok := d.sites[id]
	if !ok {
		return nil, nil
	}
	return &site, nil
}

// SaveSite stores a site.
func (d *Directory) SaveSite(_ context.Context, site *masterdata.Site) error {
	if site == nil {
		return errors.New("directory: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sites[site.ID] = *site
	return nil
}

// GetUnit returns the unit or nil.
func (d *Directory) GetUnit(_ context.Context, id string) (*masterdata.Unit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	unit, ok := d.units[id]
	if !ok {
		return nil, nil
	}
	return &unit, nil
}

// SaveUnit stores a unit.
func (d *Directory) SaveUnit(_ context.Context, unit *masterdata.Unit) error {
	if unit == nil {
		return errors.New("directory: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.units[unit.ID] = *unit
	return nil
}
