package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

const defaultBreachTable = "alert_breach_states"

// BreachRepository stores debounce windows per (unit, rule).
type BreachRepository struct {
	db    *sql.DB
	table string
}

// NewBreachRepository constructs a repository.
func NewBreachRepository(db *sql.DB) *BreachRepository {
	return &BreachRepository{db: db, table: defaultBreachTable}
}

// Get fetches tracked breach state.
func (r *BreachRepository) Get(ctx context.Context, unitID, ruleID string) (*alerts.BreachState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("breach repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT organization_id, unit_id, rule_id, since, last_value, updated_at
FROM %s
WHERE unit_id = $1 AND rule_id = $2`, r.table)

	var state alerts.BreachState
	if err := r.db.QueryRowContext(ctx, query, unitID, ruleID).Scan(
		&state.OrganizationID,
		&state.UnitID,
		&state.RuleID,
		&state.Since,
		&state.LastValue,
		&state.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	state.Since = state.Since.UTC()
	state.UpdatedAt = state.UpdatedAt.UTC()
	return &state, nil
}

// Upsert records the breach, keeping the earliest start.
func (r *BreachRepository) Upsert(ctx context.Context, state alerts.BreachState) error {
	if r == nil || r.db == nil {
		return errors.New("breach repo: nil db")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (organization_id, unit_id, rule_id, since, last_value, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (unit_id, rule_id)
DO UPDATE SET
	since = LEAST(%s.since, EXCLUDED.since),
	last_value = EXCLUDED.last_value,
	updated_at = EXCLUDED.updated_at`, r.table, r.table)
	_, err := r.db.ExecContext(ctx, query,
		state.OrganizationID, state.UnitID, state.RuleID, state.Since.UTC(), state.LastValue, state.UpdatedAt.UTC())
	return err
}

// Clear deletes tracking for the pair.
func (r *BreachRepository) Clear(ctx context.Context, unitID, ruleID string) error {
	if r == nil || r.db == nil {
		return errors.New("breach repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE unit_id = $1 AND rule_id = $2`, r.table)
	_, err := r.db.ExecContext(ctx, query, unitID, ruleID)
	return err
}

// RuleIDs lists the rules with tracked breaches on the unit.
func (r *BreachRepository) RuleIDs(ctx context.Context, unitID string) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("breach repo: nil db")
	}
	query := fmt.Sprintf(`SELECT rule_id FROM %s WHERE unit_id = $1 ORDER BY rule_id`, r.table)
	rows, err := r.db.QueryContext(ctx, query, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
