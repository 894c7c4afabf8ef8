package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/eventing"
	"github.com/getdatasurge/fresh-staged-sub013/internal/observability/metrics"
)

const outboxTable = "event_outbox"

// OutboxStore keeps alert events until the dispatcher hands them to the bus.
// An event id is stored at most once, so publisher retries never duplicate a row.
type OutboxStore struct {
	db *sql.DB
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Insert stores env and returns the outbox row id; an already stored event returns its existing id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	return insertEnvelope(ctx, s.db, env)
}

// RecordTx stores event inside tx, so the event commits or rolls back with the
// state change that produced it.
func (s *OutboxStore) RecordTx(ctx context.Context, tx *sql.Tx, event alerts.Event) error {
	if tx == nil {
		return errors.New("outbox store: nil tx")
	}
	start := time.Now()
	env, err := eventing.EnvelopeFor(event)
	if err == nil {
		_, err = insertEnvelope(ctx, tx, env)
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveOutboxPublish(result, time.Since(start))
	return err
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertEnvelope(ctx context.Context, q rowQueryer, env eventing.Envelope) (string, error) {
	if env.EventID == "" {
		return "", errors.New("outbox store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	var id string
	err = q.QueryRowContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, event_id, event_type, organization_id, ordering_key, payload)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (event_id) DO NOTHING
RETURNING id`, outboxTable),
		eventing.NewEventID(), env.EventID, env.EventType, env.OrganizationID, env.OrderingKey, payload,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = q.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE event_id = $1`, outboxTable), env.EventID).Scan(&id)
	}
	if err != nil {
		return "", fmt.Errorf("outbox store: insert %s: %w", env.EventID, err)
	}
	return id, nil
}

// ListPending returns up to limit pending records in insertion order.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, payload FROM %s
WHERE status = 'pending'
ORDER BY seq
LIMIT $1`, outboxTable), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]eventing.OutboxRecord, 0, limit)
	for rows.Next() {
		var (
			record  eventing.OutboxRecord
			payload []byte
		)
		if err := rows.Scan(&record.ID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &record.Envelope); err != nil {
			return nil, fmt.Errorf("outbox store: decode %s: %w", record.ID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// MarkSent records a successful hand-off.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.settle(ctx, id, `status = 'sent', sent_at = NOW()`)
}

// MarkFailed takes the record out of the pending set; the dispatcher has dead-lettered it.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.settle(ctx, id, `status = 'failed', attempts = attempts + 1, failed_at = NOW()`)
}

func (s *OutboxStore) settle(ctx context.Context, id, set string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 AND status = 'pending'`, outboxTable, set), id)
	return err
}
