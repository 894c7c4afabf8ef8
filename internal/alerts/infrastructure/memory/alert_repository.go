package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// AlertRepository is an in-memory alert store with the same open-alert constraint as postgres.
type AlertRepository struct {
	mu     sync.Mutex
	byID   map[string]*alerts.Alert
	openBy map[string]string
	now    func() time.Time
}

// NewAlertRepository constructs a repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{
		byID:   make(map[string]*alerts.Alert),
		openBy: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func openKey(unitID, ruleID string) string {
	return unitID + "|" + ruleID
}

// UpsertOpenAlert inserts a triggered alert unless one is already open for the pair.
func (r *AlertRepository) UpsertOpenAlert(_ context.Context, attrs alerts.OpenAttrs) (*alerts.Alert, error) {
	if r == nil {
		return nil, errors.New("alert repo: nil repository")
	}
	if attrs.ID == "" || attrs.OrganizationID == "" || attrs.UnitID == "" || attrs.RuleID == "" {
		return nil, alerts.Validation("alert.upsert_open", "missing fields")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := openKey(attrs.UnitID, attrs.RuleID)
	if _, exists := r.openBy[key]; exists {
		return nil, &alerts.AlreadyOpenError{OrganizationID: attrs.OrganizationID, UnitID: attrs.UnitID, RuleID: attrs.RuleID, ExistingID: r.openBy[key]}
	}
	if _, exists := r.byID[attrs.ID]; exists {
		return nil, alerts.Conflict("alert.upsert_open", "duplicate alert id")
	}
	now := r.now()
	alert := &alerts.Alert{
		ID:              attrs.ID,
		OrganizationID:  attrs.OrganizationID,
		SiteID:          attrs.SiteID,
		UnitID:          attrs.UnitID,
		RuleID:          attrs.RuleID,
		Status:          alerts.StatusTriggered,
		Severity:        attrs.Severity,
		PeakSeverity:    attrs.Severity,
		BreachValue:     attrs.BreachValue,
		LastValue:       attrs.BreachValue,
		BreachStartedAt: attrs.BreachStartedAt,
		OpenedAt:        attrs.OpenedAt,
		LastReadingAt:   attrs.OpenedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.byID[alert.ID] = alert
	r.openBy[key] = alert.ID
	copied := *alert
	return &copied, nil
}

// FindOpen returns the open alert for the pair or nil.
func (r *AlertRepository) FindOpen(_ context.Context, unitID, ruleID string) (*alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.openBy[openKey(unitID, ruleID)]
	if !ok {
		return nil, nil
	}
	copied := *r.byID[id]
	return &copied, nil
}

// ListOpenForUnit returns open alerts for a unit.
func (r *AlertRepository) ListOpenForUnit(_ context.Context, organizationID, unitID string) ([]alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []alerts.Alert
	for _, id := range r.openBy {
		alert := r.byID[id]
		if alert.UnitID == unitID && alert.OrganizationID == organizationID {
			result = append(result, *alert)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RuleID < result[j].RuleID })
	return result, nil
}

// Get returns an alert by id or nil.
func (r *AlertRepository) Get(_ context.Context, id string) (*alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *alert
	return &copied, nil
}

// Transition moves an alert between statuses when its current status is in attrs.From.
func (r *AlertRepository) Transition(_ context.Context, id string, attrs alerts.TransitionAttrs) (*alerts.Alert, error) {
	const op = "alert.transition"
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.byID[id]
	if !ok {
		return nil, alerts.NotFound(op, "alert "+id)
	}
	if !slices.Contains(attrs.From, alert.Status) {
		return nil, alerts.Conflict(op, "alert "+id+" is "+string(alert.Status))
	}
	at := attrs.At
	if at.IsZero() {
		at = r.now()
	}
	alert.Status = attrs.To
	alert.UpdatedAt = at
	if attrs.Value != nil {
		alert.LastValue = *attrs.Value
	}
	switch attrs.To {
	case alerts.StatusAcknowledged:
		alert.AcknowledgedAt = at
		alert.AcknowledgedBy = attrs.Actor
	case alerts.StatusResolved:
		alert.ResolvedAt = at
		alert.ResolvedBy = attrs.Actor
		alert.ResolutionReason = attrs.Reason
		alert.ResolutionNote = attrs.Note
		delete(r.openBy, openKey(alert.UnitID, alert.RuleID))
	}
	copied := *alert
	return &copied, nil
}

// LastResolved returns the most recently resolved alert for the pair, or nil.
func (r *AlertRepository) LastResolved(_ context.Context, unitID, ruleID string) (*alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *alerts.Alert
	for _, alert := range r.byID {
		if alert.UnitID != unitID || alert.RuleID != ruleID || alert.Status != alerts.StatusResolved {
			continue
		}
		if latest == nil || alert.ResolvedAt.After(latest.ResolvedAt) {
			latest = alert
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

// UpdateSeverity changes the current tier of an open alert if it still equals from.
func (r *AlertRepository) UpdateSeverity(_ context.Context, id string, from, to, peak alerts.Severity, value float64, at time.Time) (*alerts.Alert, error) {
	const op = "alert.update_severity"
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.byID[id]
	if !ok {
		return nil, alerts.NotFound(op, "alert "+id)
	}
	if !alert.Status.Open() || alert.Severity != from {
		return nil, alerts.Conflict(op, "severity changed concurrently")
	}
	alert.Severity = to
	if peak.Rank() > alert.PeakSeverity.Rank() {
		alert.PeakSeverity = peak
	}
	alert.LastValue = value
	alert.LastReadingAt = at
	alert.UpdatedAt = at
	copied := *alert
	return &copied, nil
}

// Touch records the latest value seen for an open alert.
func (r *AlertRepository) Touch(_ context.Context, id string, value float64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.byID[id]
	if !ok {
		return alerts.NotFound("alert.touch", "alert "+id)
	}
	if at.Before(alert.LastReadingAt) {
		return nil
	}
	alert.LastValue = value
	alert.LastReadingAt = at
	alert.UpdatedAt = at
	return nil
}

// List filters alerts, newest first.
func (r *AlertRepository) List(_ context.Context, filter alerts.AlertFilter) ([]alerts.Alert, error) {
	if filter.OrganizationID == "" {
		return nil, alerts.Validation("alert.list", "organization id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []alerts.Alert
	for _, alert := range r.byID {
		if alert.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.SiteID != "" && alert.SiteID != filter.SiteID {
			continue
		}
		if filter.UnitID != "" && alert.UnitID != filter.UnitID {
			continue
		}
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && alert.OpenedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !alert.OpenedAt.Before(filter.To) {
			continue
		}
		result = append(result, *alert)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OpenedAt.After(result[j].OpenedAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// OpenCount returns the number of open alerts for the pair. Used by invariant checks.
func (r *AlertRepository) OpenCount(unitID, ruleID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, alert := range r.byID {
		if alert.UnitID == unitID && alert.RuleID == ruleID && alert.Status.Open() {
			count++
		}
	}
	return count
}
