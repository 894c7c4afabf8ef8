package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

const defaultRulesTable = "alert_rules"

const ruleColumns = `id, organization_id, site_id, unit_id, name, min_temp, max_temp, critical_min, critical_max,
	hysteresis, duration_seconds, severity, enabled, created_at, updated_at`

// RuleRepository is the Postgres threshold store.
type RuleRepository struct {
	db    *sql.DB
	table string
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db, table: defaultRulesTable}
}

// ListForUnit returns enabled rules for a unit.
func (r *RuleRepository) ListForUnit(ctx context.Context, organizationID, unitID string) ([]alerts.AlertRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	if organizationID == "" || unitID == "" {
		return nil, alerts.Validation("rule.list", "organization and unit required")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE organization_id = $1 AND unit_id = $2 AND enabled = TRUE
ORDER BY id`, ruleColumns, r.table)
	rows, err := r.db.QueryContext(ctx, query, organizationID, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			result = append(result, *rule)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns a rule regardless of enabled state.
func (r *RuleRepository) Get(ctx context.Context, organizationID, ruleID string) (*alerts.AlertRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE organization_id = $1 AND id = $2`, ruleColumns, r.table)
	return scanRule(r.db.QueryRowContext(ctx, query, organizationID, ruleID))
}

// Upsert validates and stores a rule.
func (r *RuleRepository) Upsert(ctx context.Context, rule alerts.AlertRule) error {
	if r == nil || r.db == nil {
		return errors.New("alert rule repo: nil db")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, organization_id, site_id, unit_id, name, min_temp, max_temp, critical_min, critical_max,
	hysteresis, duration_seconds, severity, enabled, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW()
)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	min_temp = EXCLUDED.min_temp,
	max_temp = EXCLUDED.max_temp,
	critical_min = EXCLUDED.critical_min,
	critical_max = EXCLUDED.critical_max,
	hysteresis = EXCLUDED.hysteresis,
	duration_seconds = EXCLUDED.duration_seconds,
	severity = EXCLUDED.severity,
	enabled = EXCLUDED.enabled,
	updated_at = NOW()`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.OrganizationID, rule.SiteID, rule.UnitID, rule.Name,
		nullableFloat(rule.MinTemp), nullableFloat(rule.MaxTemp),
		nullableFloat(rule.CriticalMin), nullableFloat(rule.CriticalMax),
		rule.Hysteresis, rule.DurationSeconds, string(rule.BaseSeverity()), rule.Enabled)
	return err
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*alerts.AlertRule, error) {
	var (
		rule        alerts.AlertRule
		minTemp     sql.NullFloat64
		maxTemp     sql.NullFloat64
		criticalMin sql.NullFloat64
		criticalMax sql.NullFloat64
		severity    string
	)
	if err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.SiteID,
		&rule.UnitID,
		&rule.Name,
		&minTemp,
		&maxTemp,
		&criticalMin,
		&criticalMax,
		&rule.Hysteresis,
		&rule.DurationSeconds,
		&severity,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rule.MinTemp = floatPtr(minTemp)
	rule.MaxTemp = floatPtr(maxTemp)
	rule.CriticalMin = floatPtr(criticalMin)
	rule.CriticalMax = floatPtr(criticalMax)
	rule.Severity = alerts.Severity(severity)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
