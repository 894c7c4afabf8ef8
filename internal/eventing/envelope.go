package eventing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// Envelope wraps event payload with metadata.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	CorrelationID  string          `json:"correlation_id"`
	OrganizationID string          `json:"organization_id"`
	OrderingKey    string          `json:"ordering_key"`
	SchemaVersion  int             `json:"schema_version"`
	Payload        json.RawMessage `json:"payload"`
}

// Meta provides envelope overrides.
type Meta struct {
	EventID        string
	OccurredAt     time.Time
	CorrelationID  string
	OrganizationID string
	OrderingKey    string
	SchemaVersion  int
}

// BuildEnvelope constructs an envelope from an event payload and metadata.
func BuildEnvelope(eventType string, event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}
	if eventType == "" {
		return Envelope{}, errors.New("eventing: empty event type")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	occurredAt := meta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	eventID := meta.EventID
	if eventID == "" {
		eventID = NewEventID()
	}
	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = eventID
	}
	schemaVersion := meta.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	return Envelope{
		EventID:        eventID,
		EventType:      eventType,
		OccurredAt:     occurredAt.UTC(),
		CorrelationID:  correlationID,
		OrganizationID: meta.OrganizationID,
		OrderingKey:    meta.OrderingKey,
		SchemaVersion:  schemaVersion,
		Payload:        payload,
	}, nil
}

// EnvelopeFor wraps a domain event.
func EnvelopeFor(event alerts.Event) (Envelope, error) {
	return BuildEnvelope(string(event.Type), event, Meta{
		EventID:        event.ID,
		OccurredAt:     event.OccurredAt,
		OrganizationID: event.OrganizationID,
		OrderingKey:    event.OrderingKey(),
	})
}

type envelopeKey struct{}

// WithEnvelope carries env alongside a bus publication so subscribers can deduplicate.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// EnvelopeFromContext returns the envelope attached by WithEnvelope.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	if ctx == nil {
		return Envelope{}, false
	}
	env, ok := ctx.Value(envelopeKey{}).(Envelope)
	return env, ok
}
