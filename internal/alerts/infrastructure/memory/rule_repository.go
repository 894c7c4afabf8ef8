package memory

import (
	"context"
	"sort"
	"sync"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// RuleRepository is an in-memory threshold store.
type RuleRepository struct {
	mu    sync.RWMutex
	rules map[string]alerts.AlertRule
}

// NewRuleRepository constructs a repository seeded with rules.
func NewRuleRepository(rules ...alerts.AlertRule) *RuleRepository {
	repo := &RuleRepository{rules: make(map[string]alerts.AlertRule)}
	for _, rule := range rules {
		repo.rules[rule.ID] = rule
	}
	return repo
}

// Put validates and stores a rule.
func (r *RuleRepository) Put(rule alerts.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.rules[rule.ID] = rule
	r.mu.Unlock()
	return nil
}

// Delete removes a rule.
func (r *RuleRepository) Delete(ruleID string) {
	r.mu.Lock()
	delete(r.rules, ruleID)
	r.mu.Unlock()
}

// ListForUnit returns enabled rules for a unit.
func (r *RuleRepository) ListForUnit(_ context.Context, organizationID, unitID string) ([]alerts.AlertRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []alerts.AlertRule
	for _, rule := range r.rules {
		if rule.OrganizationID == organizationID && rule.UnitID == unitID && rule.Enabled {
			result = append(result, rule)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Get returns a rule in any state, or nil.
func (r *RuleRepository) Get(_ context.Context, organizationID, ruleID string) (*alerts.AlertRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[ruleID]
	if !ok || rule.OrganizationID != organizationID {
		return nil, nil
	}
	return &rule, nil
}
