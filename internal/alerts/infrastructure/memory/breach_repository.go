package memory

import (
	"context"
	"slices"
	"sync"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// BreachRepository keeps debounce state in memory.
type BreachRepository struct {
	mu     sync.Mutex
	states map[string]alerts.BreachState
}

// NewBreachRepository constructs a repository.
func NewBreachRepository() *BreachRepository {
	return &BreachRepository{states: make(map[string]alerts.BreachState)}
}

// Get returns the tracked breach or nil.
func (r *BreachRepository) Get(_ context.Context, unitID, ruleID string) (*alerts.BreachState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[openKey(unitID, ruleID)]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// Upsert keeps the earliest Since for the pair.
func (r *BreachRepository) Upsert(_ context.Context, state alerts.BreachState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := openKey(state.UnitID, state.RuleID)
	if existing, ok := r.states[key]; ok && existing.Since.Before(state.Since) {
		state.Since = existing.Since
	}
	r.states[key] = state
	return nil
}

// Clear drops tracking for the pair.
func (r *BreachRepository) Clear(_ context.Context, unitID, ruleID string) error {
	r.mu.Lock()
	delete(r.states, openKey(unitID, ruleID))
	r.mu.Unlock()
	return nil
}

// RuleIDs lists the rules with tracked breaches on the unit.
func (r *BreachRepository) RuleIDs(_ context.Context, unitID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, state := range r.states {
		if state.UnitID == unitID {
			ids = append(ids, state.RuleID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
