package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

// RecipientRepository reads recipients and manages suppressions.
type RecipientRepository struct {
	db                *sql.DB
	recipientsTable   string
	suppressionsTable string
}

// NewRecipientRepository constructs a repository.
func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{
		db:                db,
		recipientsTable:   "notification_recipients",
		suppressionsTable: "recipient_suppressions",
	}
}

// ListRecipients implements notifications.RecipientDirectory.
func (r *RecipientRepository) ListRecipients(ctx context.Context, organizationID string) ([]notifications.Recipient, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("recipient repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, organization_id, COALESCE(site_id, ''), channel, address, COALESCE(min_severity, '')
FROM %s
WHERE organization_id = $1 AND enabled = TRUE
ORDER BY id`, r.recipientsTable)
	rows, err := r.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []notifications.Recipient
	for rows.Next() {
		var (
			rec      notifications.Recipient
			channel  string
			severity string
		)
		if err := rows.Scan(&rec.ID, &rec.OrganizationID, &rec.SiteID, &channel, &rec.Address, &severity); err != nil {
			return nil, err
		}
		rec.Channel = notifications.Channel(channel)
		rec.MinSeverity = alerts.Severity(severity)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// IsSuppressed implements notifications.SuppressionStore.
func (r *RecipientRepository) IsSuppressed(ctx context.Context, channel notifications.Channel, address string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("recipient repo: nil db")
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE channel = $1 AND address = $2)`, r.suppressionsTable)
	var exists bool
	err := r.db.QueryRowContext(ctx, query, string(channel), notifications.NormalizeAddress(address)).Scan(&exists)
	return exists, err
}

// Suppress implements notifications.SuppressionStore.
func (r *RecipientRepository) Suppress(ctx context.Context, s notifications.Suppression) error {
	if r == nil || r.db == nil {
		return errors.New("recipient repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (channel, address, reason, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (channel, address) DO UPDATE SET reason = EXCLUDED.reason`, r.suppressionsTable)
	_, err := r.db.ExecContext(ctx, query, string(s.Channel), notifications.NormalizeAddress(s.Address), s.Reason, s.CreatedAt.UTC())
	return err
}

// Lift implements notifications.SuppressionStore.
func (r *RecipientRepository) Lift(ctx context.Context, channel notifications.Channel, address string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("recipient repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE channel = $1 AND address = $2`, r.suppressionsTable)
	res, err := r.db.ExecContext(ctx, query, string(channel), notifications.NormalizeAddress(address))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// ListSuppressions implements notifications.SuppressionStore.
func (r *RecipientRepository) ListSuppressions(ctx context.Context) ([]notifications.Suppression, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("recipient repo: nil db")
	}
	query := fmt.Sprintf(`SELECT channel, address, COALESCE(reason, ''), created_at FROM %s ORDER BY created_at`, r.suppressionsTable)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []notifications.Suppression
	for rows.Next() {
		var (
			s       notifications.Suppression
			channel string
		)
		if err := rows.Scan(&channel, &s.Address, &s.Reason, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Channel = notifications.Channel(channel)
		out = append(out, s)
	}
	return out, rows.Err()
}
