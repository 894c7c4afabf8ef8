package application

import (
	"context"
	"time"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// RuleStore is the threshold store lookup.
type RuleStore interface {
	ListForUnit(ctx context.Context, organizationID, unitID string) ([]alerts.AlertRule, error)
	Get(ctx context.Context, organizationID, ruleID string) (*alerts.AlertRule, error)
}

// AlertStore persists alerts and enforces at most one open alert per (unit, rule).
type AlertStore interface {
	// UpsertOpenAlert returns *alerts.AlreadyOpenError when an open alert exists.
	UpsertOpenAlert(ctx context.Context, attrs alerts.OpenAttrs) (*alerts.Alert, error)
	FindOpen(ctx context.Context, unitID, ruleID string) (*alerts.Alert, error)
	ListOpenForUnit(ctx context.Context, organizationID, unitID string) ([]alerts.Alert, error)
	// LastResolved returns the pair's most recently resolved alert, or nil.
	LastResolved(ctx context.Context, unitID, ruleID string) (*alerts.Alert, error)
	Get(ctx context.Context, id string) (*alerts.Alert, error)
	// Transition is a compare-and-set on attrs.From; a lost race returns a conflict error.
	Transition(ctx context.Context, id string, attrs alerts.TransitionAttrs) (*alerts.Alert, error)
	// UpdateSeverity applies only while the stored tier equals from.
	UpdateSeverity(ctx context.Context, id string, from, to, peak alerts.Severity, value float64, at time.Time) (*alerts.Alert, error)
	Touch(ctx context.Context, id string, value float64, at time.Time) error
	List(ctx context.Context, filter alerts.AlertFilter) ([]alerts.Alert, error)
}

// BreachStore tracks debounce windows.
type BreachStore interface {
	Get(ctx context.Context, unitID, ruleID string) (*alerts.BreachState, error)
	Upsert(ctx context.Context, state alerts.BreachState) error
	Clear(ctx context.Context, unitID, ruleID string) error
	// RuleIDs lists the rules with tracked breaches on the unit.
	RuleIDs(ctx context.Context, unitID string) ([]string, error)
}

// ReadingStore appends ingested readings.
type ReadingStore interface {
	Append(ctx context.Context, reading alerts.Reading) error
}

// EventPublisher receives events after transitions are persisted. Publish must not block,
// and events of one ordering key must be delivered in the order Publish was called.
type EventPublisher interface {
	Publish(ctx context.Context, event alerts.Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, alerts.Event) {}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
