package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

const (
	defaultAlertsTable = "alerts"
	// openAlertIndex is the partial unique index on (unit_id, rule_id) for open statuses.
	openAlertIndex = "alerts_one_open_per_unit_rule"

	uniqueViolation = "23505"
)

const alertColumns = `id, organization_id, site_id, unit_id, rule_id, status, severity, peak_severity,
	breach_value, last_value, breach_started_at, opened_at, last_reading_at,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by, resolution_reason, resolution_note,
	created_at, updated_at`

// EventRecorder appends an event inside the caller's transaction.
type EventRecorder interface {
	RecordTx(ctx context.Context, tx *sql.Tx, event alerts.Event) error
}

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db       *sql.DB
	table    string
	recorder EventRecorder
}

// AlertOption configures the repository.
type AlertOption func(*AlertRepository)

// WithAlertsTable overrides the table name.
func WithAlertsTable(table string) AlertOption {
	return func(r *AlertRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// WithEventRecorder commits the events carried by OpenAttrs and TransitionAttrs
// in the same transaction as the alert change.
func WithEventRecorder(recorder EventRecorder) AlertOption {
	return func(r *AlertRepository) {
		r.recorder = recorder
	}
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB, opts ...AlertOption) *AlertRepository {
	repo := &AlertRepository{db: db, table: defaultAlertsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// UpsertOpenAlert inserts a triggered alert. The partial unique index turns a concurrent
// open for the same (unit, rule) into *alerts.AlreadyOpenError.
func (r *AlertRepository) UpsertOpenAlert(ctx context.Context, attrs alerts.OpenAttrs) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if attrs.ID == "" || attrs.OrganizationID == "" || attrs.UnitID == "" || attrs.RuleID == "" {
		return nil, alerts.Validation("alert.upsert_open", "missing fields")
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, organization_id, site_id, unit_id, rule_id, status, severity, peak_severity,
	breach_value, last_value, breach_started_at, opened_at, last_reading_at, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, 'triggered', $6, $6,
	$7, $7, $8, $9, $9, $10, $10
)
RETURNING %s`, r.table, alertColumns)

	alert, err := r.withEvent(ctx, attrs.Event, func(q rowQueryer) (*alerts.Alert, error) {
		return scanAlert(q.QueryRowContext(ctx, query,
			attrs.ID,
			attrs.OrganizationID,
			attrs.SiteID,
			attrs.UnitID,
			attrs.RuleID,
			string(attrs.Severity),
			attrs.BreachValue,
			nullableTime(attrs.BreachStartedAt),
			attrs.OpenedAt.UTC(),
			now,
		))
	})
	if err != nil {
		if isUniqueViolation(err, openAlertIndex) {
			return nil, &alerts.AlreadyOpenError{
				OrganizationID: attrs.OrganizationID,
				UnitID:         attrs.UnitID,
				RuleID:         attrs.RuleID,
				Err:            err,
			}
		}
		return nil, err
	}
	return alert, nil
}

// FindOpen returns the triggered or acknowledged alert for the pair.
func (r *AlertRepository) FindOpen(ctx context.Context, unitID, ruleID string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if unitID == "" || ruleID == "" {
		return nil, alerts.Validation("alert.find_open", "unit and rule required")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE unit_id = $1 AND rule_id = $2 AND status IN ('triggered', 'acknowledged')
LIMIT 2`, alertColumns, r.table)
	list, err := r.query(ctx, query, unitID, ruleID)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return &list[0], nil
	default:
		return nil, alerts.Corruption("alert.find_open", fmt.Sprintf("multiple open alerts for unit %s rule %s", unitID, ruleID))
	}
}

// ListOpenForUnit returns open alerts for a unit.
func (r *AlertRepository) ListOpenForUnit(ctx context.Context, organizationID, unitID string) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE organization_id = $1 AND unit_id = $2 AND status IN ('triggered', 'acknowledged')
ORDER BY rule_id`, alertColumns, r.table)
	return r.query(ctx, query, organizationID, unitID)
}

// Get fetches an alert by id.
func (r *AlertRepository) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, alertColumns, r.table)
	return scanAlert(r.db.QueryRowContext(ctx, query, id))
}

// Transition updates status only while the current status is one of attrs.From.
func (r *AlertRepository) Transition(ctx context.Context, id string, attrs alerts.TransitionAttrs) (*alerts.Alert, error) {
	const op = "alert.transition"
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if len(attrs.From) == 0 {
		return nil, alerts.Validation(op, "no source statuses")
	}
	at := attrs.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	from := make([]string, 0, len(attrs.From))
	for _, status := range attrs.From {
		from = append(from, string(status))
	}
	value := sql.NullFloat64{}
	if attrs.Value != nil {
		value = sql.NullFloat64{Float64: *attrs.Value, Valid: true}
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1::text,
	updated_at = $2,
	acknowledged_at = CASE WHEN $1::text = 'acknowledged' THEN $2 ELSE acknowledged_at END,
	acknowledged_by = CASE WHEN $1::text = 'acknowledged' THEN NULLIF($3::text, '') ELSE acknowledged_by END,
	resolved_at = CASE WHEN $1::text = 'resolved' THEN $2 ELSE resolved_at END,
	resolved_by = CASE WHEN $1::text = 'resolved' THEN NULLIF($3::text, '') ELSE resolved_by END,
	resolution_reason = CASE WHEN $1::text = 'resolved' THEN NULLIF($4::text, '') ELSE resolution_reason END,
	resolution_note = CASE WHEN $1::text = 'resolved' THEN NULLIF($5::text, '') ELSE resolution_note END,
	last_value = COALESCE($6, last_value)
WHERE id = $7 AND status = ANY($8::text[])
RETURNING %s`, r.table, alertColumns)

	alert, err := r.withEvent(ctx, attrs.Event, func(q rowQueryer) (*alerts.Alert, error) {
		return scanAlert(q.QueryRowContext(ctx, query,
			string(attrs.To), at.UTC(), attrs.Actor, attrs.Reason, attrs.Note, value, id, pq.Array(from)))
	})
	if err != nil {
		return nil, err
	}
	if alert != nil {
		return alert, nil
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, alerts.NotFound(op, "alert "+id)
	}
	return nil, alerts.Conflict(op, "alert "+id+" is "+string(current.Status))
}

// LastResolved returns the most recently resolved alert for the pair, or nil.
func (r *AlertRepository) LastResolved(ctx context.Context, unitID, ruleID string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE unit_id = $1 AND rule_id = $2 AND status = 'resolved'
ORDER BY resolved_at DESC
LIMIT 1`, alertColumns, r.table)
	return scanAlert(r.db.QueryRowContext(ctx, query, unitID, ruleID))
}

// UpdateSeverity changes the current tier while it still equals from.
func (r *AlertRepository) UpdateSeverity(ctx context.Context, id string, from, to, peak alerts.Severity, value float64, at time.Time) (*alerts.Alert, error) {
	const op = "alert.update_severity"
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET severity = $1,
	peak_severity = CASE
		WHEN (CASE $2 WHEN 'critical' THEN 3 WHEN 'warning' THEN 2 WHEN 'info' THEN 1 ELSE 0 END) >
		     (CASE peak_severity WHEN 'critical' THEN 3 WHEN 'warning' THEN 2 WHEN 'info' THEN 1 ELSE 0 END)
		THEN $2 ELSE peak_severity END,
	last_value = $3,
	last_reading_at = $4,
	updated_at = $4
WHERE id = $5 AND severity = $6 AND status IN ('triggered', 'acknowledged')
RETURNING %s`, r.table, alertColumns)
	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, string(to), string(peak), value, at.UTC(), id, string(from)))
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.Conflict(op, "severity changed concurrently")
	}
	return alert, nil
}

// Touch updates the last value unless a newer reading was already recorded.
func (r *AlertRepository) Touch(ctx context.Context, id string, value float64, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET last_value = $1, last_reading_at = $2, updated_at = $2
WHERE id = $3 AND last_reading_at <= $2`, r.table)
	_, err := r.db.ExecContext(ctx, query, value, at.UTC(), id)
	return err
}

// List returns alerts matching filter, newest first.
func (r *AlertRepository) List(ctx context.Context, filter alerts.AlertFilter) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if filter.OrganizationID == "" {
		return nil, alerts.Validation("alert.list", "organization id required")
	}
	var (
		clauses = []string{"organization_id = $1"}
		args    = []any{filter.OrganizationID}
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.SiteID != "" {
		add("site_id = $%d", filter.SiteID)
	}
	if filter.UnitID != "" {
		add("unit_id = $%d", filter.UnitID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if !filter.From.IsZero() {
		add("opened_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("opened_at < $%d", filter.To.UTC())
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE %s
ORDER BY opened_at DESC
LIMIT $%d`, alertColumns, r.table, strings.Join(clauses, " AND "), len(args))
	return r.query(ctx, query, args...)
}

func (r *AlertRepository) query(ctx context.Context, query string, args ...any) ([]alerts.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		if alert != nil {
			result = append(result, *alert)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withEvent runs write on its own, or together with event in one transaction when a
// recorder is configured. A write that matched no row records nothing.
func (r *AlertRepository) withEvent(ctx context.Context, event *alerts.Event, write func(rowQueryer) (*alerts.Alert, error)) (*alerts.Alert, error) {
	if r.recorder == nil || event == nil {
		return write(r.db)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	alert, err := write(tx)
	if err != nil || alert == nil {
		_ = tx.Rollback()
		return alert, err
	}
	if err := r.recorder.RecordTx(ctx, tx, *event); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("alert repo: record %s: %w", event.Type, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return alert, nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var (
		alert          alerts.Alert
		status         string
		severity       string
		peak           string
		breachStarted  sql.NullTime
		acknowledgedAt sql.NullTime
		acknowledgedBy sql.NullString
		resolvedAt     sql.NullTime
		resolvedBy     sql.NullString
		reason         sql.NullString
		note           sql.NullString
	)
	if err := row.Scan(
		&alert.ID,
		&alert.OrganizationID,
		&alert.SiteID,
		&alert.UnitID,
		&alert.RuleID,
		&status,
		&severity,
		&peak,
		&alert.BreachValue,
		&alert.LastValue,
		&breachStarted,
		&alert.OpenedAt,
		&alert.LastReadingAt,
		&acknowledgedAt,
		&acknowledgedBy,
		&resolvedAt,
		&resolvedBy,
		&reason,
		&note,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.Status = alerts.Status(status)
	alert.Severity = alerts.Severity(severity)
	alert.PeakSeverity = alerts.Severity(peak)
	alert.OpenedAt = alert.OpenedAt.UTC()
	alert.LastReadingAt = alert.LastReadingAt.UTC()
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if breachStarted.Valid {
		alert.BreachStartedAt = breachStarted.Time.UTC()
	}
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = acknowledgedAt.Time.UTC()
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = resolvedAt.Time.UTC()
	}
	alert.AcknowledgedBy = acknowledgedBy.String
	alert.ResolvedBy = resolvedBy.String
	alert.ResolutionReason = reason.String
	alert.ResolutionNote = note.String
	return &alert, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
