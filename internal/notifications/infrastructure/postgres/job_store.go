package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

const defaultJobsTable = "notification_jobs"

const jobColumns = `id, seq, organization_id, alert_id, unit_id, rule_id, transition, kind, channel,
	recipient, subject, message, dedup_key, ordering_key, status, attempt_count, last_error,
	last_error_tier, provider_ref, next_attempt_at, lease_until, delivered_at, created_at, updated_at`

// JobStore is a Postgres notifications.JobStore.
type JobStore struct {
	db    *sql.DB
	table string
}

// JobStoreOption configures the store.
type JobStoreOption func(*JobStore)

// WithJobsTable overrides the table name.
func WithJobsTable(table string) JobStoreOption {
	return func(s *JobStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewJobStore constructs a store.
func NewJobStore(db *sql.DB, opts ...JobStoreOption) *JobStore {
	store := &JobStore{db: db, table: defaultJobsTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Enqueue implements notifications.JobStore. The unique dedup_key makes redelivery a no-op.
func (s *JobStore) Enqueue(ctx context.Context, job notifications.Job) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("notification job store: nil db")
	}
	if err := job.Validate(); err != nil {
		return false, err
	}
	if job.Status == "" {
		job.Status = notifications.StatusPending
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = job.CreatedAt
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, organization_id, alert_id, unit_id, rule_id, transition, kind, channel,
	recipient, subject, message, dedup_key, ordering_key, status, attempt_count, last_error,
	next_attempt_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0, $15, $16, $17, $17)
ON CONFLICT (dedup_key) DO NOTHING`, s.table)
	res, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.OrganizationID,
		job.AlertID,
		job.UnitID,
		job.RuleID,
		string(job.Transition),
		string(job.Kind),
		string(job.Channel),
		job.Recipient,
		job.Subject,
		job.Message,
		job.DedupKey,
		job.OrderingKey,
		string(job.Status),
		job.LastError,
		job.NextAttemptAt.UTC(),
		job.CreatedAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClaimDue implements notifications.JobStore. Only the oldest unfinished job of each
// ordering key is eligible. SKIP LOCKED keeps concurrent workers off the same rows, and
// comparing j with h drops rows another worker claimed after this statement's snapshot.
func (s *JobStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]notifications.Job, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("notification job store: nil db")
	}
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()
	leaseUntil := now.Add(lease).Truncate(time.Microsecond)
	query := fmt.Sprintf(`
WITH heads AS (
	SELECT DISTINCT ON (ordering_key) id, status, next_attempt_at, lease_until
	FROM %[1]s
	WHERE status IN ('pending', 'retrying', 'delivering')
	ORDER BY ordering_key, seq
), due AS (
	SELECT j.id
	FROM %[1]s j
	JOIN heads h ON h.id = j.id
	WHERE j.status = h.status
		AND j.lease_until IS NOT DISTINCT FROM h.lease_until
		AND (
			(h.status = 'delivering' AND h.lease_until <= $1)
			OR (h.status <> 'delivering' AND h.next_attempt_at <= $1)
		)
	ORDER BY j.seq
	LIMIT $2
	FOR UPDATE OF j SKIP LOCKED
)
UPDATE %[1]s j
SET status = 'delivering', lease_until = $3, updated_at = $1
FROM due
WHERE j.id = due.id
RETURNING %[2]s`, s.table, prefixed("j", jobColumns))

	rows, err := s.db.QueryContext(ctx, query, now, limit, leaseUntil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []notifications.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Finish implements notifications.JobStore.
func (s *JobStore) Finish(ctx context.Context, job notifications.Job) error {
	if s == nil || s.db == nil {
		return errors.New("notification job store: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, recipient = $2, attempt_count = $3, last_error = $4, last_error_tier = $5,
	provider_ref = $6, next_attempt_at = $7, delivered_at = $8, updated_at = $9, lease_until = NULL
WHERE id = $10 AND status = 'delivering' AND lease_until = $11`, s.table)
	nextAttempt := job.NextAttemptAt
	if nextAttempt.IsZero() {
		nextAttempt = job.UpdatedAt
	}
	updatedAt := job.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, query,
		string(job.Status),
		job.Recipient,
		job.AttemptCount,
		job.LastError,
		string(job.LastErrorTier),
		job.ProviderRef,
		nextAttempt.UTC(),
		nullableTime(job.DeliveredAt),
		updatedAt.UTC(),
		job.ID,
		job.LeaseUntil.UTC(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	existing, err := s.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return notifications.ErrJobNotFound
	}
	return notifications.ErrLeaseLost
}

// Requeue implements notifications.JobStore.
func (s *JobStore) Requeue(ctx context.Context, id, recipient string, now time.Time) (*notifications.Job, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("notification job store: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'pending', recipient = COALESCE(NULLIF($2, ''), recipient), next_attempt_at = $3, updated_at = $3
WHERE id = $1 AND status = 'held'
RETURNING %s`, s.table, jobColumns)
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id, recipient, now.UTC()))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, notifications.ErrJobNotFound
	}
	return nil, notifications.ErrJobNotHeld
}

// Get implements notifications.JobStore.
func (s *JobStore) Get(ctx context.Context, id string) (*notifications.Job, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("notification job store: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// List implements notifications.JobStore, newest first.
func (s *JobStore) List(ctx context.Context, filter notifications.JobFilter) ([]notifications.Job, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("notification job store: nil db")
	}
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.AlertID != "" {
		add("alert_id = $%d", filter.AlertID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY seq DESC LIMIT $%d`, jobColumns, s.table, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []notifications.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type jobScanner interface {
	Scan(dest ...any) error
}

func scanJob(row jobScanner) (*notifications.Job, error) {
	var (
		job         notifications.Job
		transition  string
		kind        string
		channel     string
		status      string
		tier        sql.NullString
		lastError   sql.NullString
		providerRef sql.NullString
		leaseUntil  sql.NullTime
		deliveredAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.Seq,
		&job.OrganizationID,
		&job.AlertID,
		&job.UnitID,
		&job.RuleID,
		&transition,
		&kind,
		&channel,
		&job.Recipient,
		&job.Subject,
		&job.Message,
		&job.DedupKey,
		&job.OrderingKey,
		&status,
		&job.AttemptCount,
		&lastError,
		&tier,
		&providerRef,
		&job.NextAttemptAt,
		&leaseUntil,
		&deliveredAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Transition = alerts.EventType(transition)
	job.Kind = notifications.Kind(kind)
	job.Channel = notifications.Channel(channel)
	job.Status = notifications.JobStatus(status)
	job.LastError = lastError.String
	job.LastErrorTier = notifications.Tier(tier.String)
	job.ProviderRef = providerRef.String
	if leaseUntil.Valid {
		job.LeaseUntil = leaseUntil.Time.UTC()
	}
	if deliveredAt.Valid {
		job.DeliveredAt = deliveredAt.Time.UTC()
	}
	job.NextAttemptAt = job.NextAttemptAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
