package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "github.com/getdatasurge/fresh-staged-sub013/internal/masterdata/domain"
)

const (
	defaultSitesTable = "sites"
	defaultUnitsTable = "units"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DirectoryRepository is the Postgres implementation for sites and units.
type DirectoryRepository struct {
	db         DBTX
	sitesTable string
	unitsTable string
}

// Option configures the repository.
type Option func(*DirectoryRepository)

// WithTables overrides the default table names.
func WithTables(sites, units string) Option {
	return func(repo *DirectoryRepository) {
		if sites != "" {
			repo.sitesTable = sites
		}
		if units != "" {
			repo.unitsTable = units
		}
	}
}

// NewDirectoryRepository constructs a repository.
func NewDirectoryRepository(db DBTX, opts ...Option) *DirectoryRepository {
	repo := &DirectoryRepository{db: db, sitesTable: defaultSitesTable, unitsTable: defaultUnitsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// GetSite loads a site by id.
func (r *DirectoryRepository) GetSite(ctx context.Context, id string) (*masterdata.Site, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}
	if id == "" {
		return nil, errors.New("site repo: empty id")
	}
	query := fmt.Sprintf(`
SELECT id, organization_id, name, timezone, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.sitesTable)

	var site masterdata.Site
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&site.ID,
		&site.OrganizationID,
		&site.Name,
		&site.Timezone,
		&site.CreatedAt,
		&site.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	site.CreatedAt = site.CreatedAt.UTC()
	site.UpdatedAt = site.UpdatedAt.UTC()
	return &site, nil
}

// SaveSite upserts a site.
func (r *DirectoryRepository) SaveSite(ctx context.Context, site *masterdata.Site) error {
	if r == nil || r.db == nil {
		return errors.New("site repo: nil db")
	}
	if site == nil {
		return errors.New("site repo: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if site.CreatedAt.IsZero() {
		site.CreatedAt = now
	}
	site.UpdatedAt = now

	query := fmt.Sprintf(`
INSERT INTO %s (id, organization_id, name, timezone, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	timezone = EXCLUDED.timezone,
	updated_at = EXCLUDED.updated_at`, r.sitesTable)
	_, err := r.db.ExecContext(ctx, query, site.ID, site.OrganizationID, site.Name, site.Timezone, site.CreatedAt, site.UpdatedAt)
	return err
}

// GetUnit loads a unit by id.
func (r *DirectoryRepository) GetUnit(ctx context.Context, id string) (*masterdata.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if id == "" {
		return nil, errors.New("unit repo: empty id")
	}
	query := fmt.Sprintf(`
SELECT id, organization_id, site_id, name, kind, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.unitsTable)

	var unit masterdata.Unit
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&unit.ID,
		&unit.OrganizationID,
		&unit.SiteID,
		&unit.Name,
		&unit.Kind,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	unit.CreatedAt = unit.CreatedAt.UTC()
	unit.UpdatedAt = unit.UpdatedAt.UTC()
	return &unit, nil
}

// SaveUnit upserts a unit.
func (r *DirectoryRepository) SaveUnit(ctx context.Context, unit *masterdata.Unit) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if unit == nil {
		return errors.New("unit repo: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = now
	}
	unit.UpdatedAt = now

	query := fmt.Sprintf(`
INSERT INTO %s (id, organization_id, site_id, name, kind, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id)
DO UPDATE SET
	site_id = EXCLUDED.site_id,
	name = EXCLUDED.name,
	kind = EXCLUDED.kind,
	updated_at = EXCLUDED.updated_at`, r.unitsTable)
	_, err := r.db.ExecContext(ctx, query, unit.ID, unit.OrganizationID, unit.SiteID, unit.Name, unit.Kind, unit.CreatedAt, unit.UpdatedAt)
	return err
}
