package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getdatasurge/fresh-staged-sub013/internal/eventing"
)

const deadLetterTable = "dead_letter_events"

// DLQStore parks events that exhausted their delivery attempts.
// Repeated failures of the same event bump attempts and keep the latest error.
type DLQStore struct {
	db *sql.DB
}

// NewDLQStore constructs a dead-letter store.
func NewDLQStore(db *sql.DB) *DLQStore {
	return &DLQStore{db: db}
}

// RecordFailure upserts the dead-letter row for env.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %[1]s (event_id, event_type, organization_id, ordering_key, payload, error, first_seen_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
ON CONFLICT (event_id) DO UPDATE SET
	payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = %[1]s.attempts + 1`, deadLetterTable),
		env.EventID, env.EventType, env.OrganizationID, env.OrderingKey, payload, reason,
	)
	return err
}
