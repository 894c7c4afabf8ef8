package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

const defaultReadingsTable = "sensor_readings"

// ReadingRepository appends readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db, table: defaultReadingsTable}
}

// Append inserts a reading; a replayed reading id is ignored.
func (r *ReadingRepository) Append(ctx context.Context, reading alerts.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading.ID == "" {
		return alerts.Validation("reading.append", "empty id")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, organization_id, site_id, unit_id, sensor_id, value, recorded_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
ON CONFLICT (id)
DO NOTHING`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		reading.ID, reading.OrganizationID, reading.SiteID, reading.UnitID, reading.SensorID, reading.Value, reading.RecordedAt.UTC())
	return err
}
