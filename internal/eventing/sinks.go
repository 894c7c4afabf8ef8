package eventing

import (
	"context"
	"errors"
	"fmt"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// BusSink delivers alert events straight onto an in-process bus, for single-process deployments.
type BusSink struct {
	bus EventBus
}

// NewBusSink constructs a bus sink.
func NewBusSink(bus EventBus) (*BusSink, error) {
	if bus == nil {
		return nil, errors.New("eventing: nil bus")
	}
	return &BusSink{bus: bus}, nil
}

// Name implements Sink.
func (s *BusSink) Name() string { return "bus" }

// Send publishes the event with its envelope in context.
func (s *BusSink) Send(ctx context.Context, event alerts.Event) error {
	env, err := EnvelopeFor(event)
	if err != nil {
		return err
	}
	return s.bus.Publish(WithEnvelope(ctx, env), env.EventType, event)
}

// SinkRelay forwards dispatched outbox events to a sink, such as the kafka producer.
type SinkRelay struct {
	sink Sink
}

// NewSinkRelay constructs a relay.
func NewSinkRelay(sink Sink) (*SinkRelay, error) {
	if sink == nil {
		return nil, errors.New("eventing: nil relay sink")
	}
	return &SinkRelay{sink: sink}, nil
}

// Publish implements Publisher.
func (r *SinkRelay) Publish(ctx context.Context, eventType string, event any) error {
	alertEvent, ok := event.(alerts.Event)
	if !ok {
		return fmt.Errorf("eventing: relay %s: unexpected payload %T", eventType, event)
	}
	return r.sink.Send(ctx, alertEvent)
}
