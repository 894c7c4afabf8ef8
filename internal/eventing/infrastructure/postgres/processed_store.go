package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const processedTable = "processed_events"

// ProcessedStore remembers which consumer already handled which event.
type ProcessedStore struct {
	db *sql.DB
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(db *sql.DB) *ProcessedStore {
	return &ProcessedStore{db: db}
}

func (s *ProcessedStore) check(eventID, consumerName string) error {
	switch {
	case s == nil || s.db == nil:
		return errors.New("processed store: nil db")
	case eventID == "" || consumerName == "":
		return errors.New("processed store: event id and consumer are required")
	}
	return nil
}

// HasProcessed reports whether consumerName recorded eventID.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if err := s.check(eventID, consumerName); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE event_id = $1 AND consumer_name = $2`, processedTable),
		eventID, consumerName,
	).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// MarkProcessed records eventID for consumerName. Marking twice is a no-op.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if err := s.check(eventID, consumerName); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (event_id, consumer_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`, processedTable),
		eventID, consumerName,
	)
	return err
}
