package memory

import (
	"context"
	"sync"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// ReadingRepository keeps readings per unit, bounded to the most recent entries.
type ReadingRepository struct {
	mu     sync.Mutex
	limit  int
	byUnit map[string][]alerts.Reading
}

// NewReadingRepository constructs a repository keeping up to limit readings per unit.
func NewReadingRepository(limit int) *ReadingRepository {
	if limit <= 0 {
		limit = 1000
	}
	return &ReadingRepository{limit: limit, byUnit: make(map[string][]alerts.Reading)}
}

// Append stores a reading.
func (r *ReadingRepository) Append(_ context.Context, reading alerts.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.byUnit[reading.UnitID], reading)
	if len(list) > r.limit {
		list = list[len(list)-r.limit:]
	}
	r.byUnit[reading.UnitID] = list
	return nil
}

// Recent returns stored readings for a unit, oldest first.
func (r *ReadingRepository) Recent(unitID string) []alerts.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerts.Reading(nil), r.byUnit[unitID]...)
}
