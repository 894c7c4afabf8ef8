package eventing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

type memoryOutbox struct {
	mu      sync.Mutex
	records []OutboxRecord
	status  map[string]string
}

func newMemoryOutbox() *memoryOutbox {
	return &memoryOutbox{status: make(map[string]string)}
}

func (m *memoryOutbox) Insert(_ context.Context, env Envelope) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := NewEventID()
	m.records = append(m.records, OutboxRecord{ID: id, Envelope: env})
	m.status[id] = "pending"
	return id, nil
}

func (m *memoryOutbox) ListPending(_ context.Context, limit int) ([]OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxRecord
	for _, r := range m.records {
		if m.status[r.ID] == "pending" && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryOutbox) MarkSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = "sent"
	return nil
}

func (m *memoryOutbox) MarkFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = "failed"
	return nil
}

type memoryDLQ struct {
	mu      sync.Mutex
	entries []Envelope
}

func (d *memoryDLQ) RecordFailure(_ context.Context, env Envelope, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, env)
	return nil
}

type staticLeader bool

func (l staticLeader) TryAcquire(context.Context) (bool, error) { return bool(l), nil }

func TestDispatcherDeliversOnceToIdempotentConsumer(t *testing.T) {
	outbox := newMemoryOutbox()
	bus := NewInMemoryBus()
	dispatcher, err := NewDispatcher(bus, outbox, NewAlertRegistry(), &memoryDLQ{})
	require.NoError(t, err)

	var received []alerts.Event
	Subscribe(bus, string(alerts.EventAlertTriggered), "notifications", func(_ context.Context, payload any) error {
		received = append(received, payload.(alerts.Event))
		return nil
	}, NewMemoryProcessedStore())

	triggered := alerts.Event{
		ID: "evt-1", Type: alerts.EventAlertTriggered, AlertID: "alert-1",
		OrganizationID: "org-a", UnitID: "unit-u", RuleID: "rule-1",
		OccurredAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	env, err := EnvelopeFor(triggered)
	require.NoError(t, err)
	// a redelivered row reaches the consumer once
	for i := 0; i < 2; i++ {
		_, err = outbox.Insert(context.Background(), env)
		require.NoError(t, err)
	}

	result, err := dispatcher.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)
	require.Len(t, received, 1)
	assert.Equal(t, "alert-1", received[0].AlertID)
	assert.Equal(t, "unit-u|rule-1", outbox.records[0].Envelope.OrderingKey)
}

func TestDispatcherSendsUnknownTypesToDLQ(t *testing.T) {
	outbox := newMemoryOutbox()
	dlq := &memoryDLQ{}
	dispatcher, err := NewDispatcher(NewInMemoryBus(), outbox, NewAlertRegistry(), dlq)
	require.NoError(t, err)

	env, err := BuildEnvelope("reading.unknown", map[string]string{"a": "b"}, Meta{EventID: "evt-x"})
	require.NoError(t, err)
	_, err = outbox.Insert(context.Background(), env)
	require.NoError(t, err)

	result, err := dispatcher.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.DLQ)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "evt-x", dlq.entries[0].EventID)
}

func TestDispatcherSkipsWithoutLeadership(t *testing.T) {
	outbox := newMemoryOutbox()
	dispatcher, err := NewDispatcher(NewInMemoryBus(), outbox, NewAlertRegistry(), nil, WithLeader(staticLeader(false)))
	require.NoError(t, err)
	_, err = outbox.Insert(context.Background(), Envelope{EventID: "e", EventType: string(alerts.EventAlertResolved), Payload: []byte(`{}`)})
	require.NoError(t, err)

	result, err := dispatcher.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	pending, _ := outbox.ListPending(context.Background(), 10)
	assert.Len(t, pending, 1)
}

type dispatchRecordingSink struct {
	mu     sync.Mutex
	events []alerts.Event
}

func (s *dispatchRecordingSink) Name() string { return "recording" }

func (s *dispatchRecordingSink) Send(_ context.Context, event alerts.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func TestDispatcherRelaysOutboxInOrder(t *testing.T) {
	outbox := newMemoryOutbox()
	sink := &dispatchRecordingSink{}
	relay, err := NewSinkRelay(sink)
	require.NoError(t, err)
	dispatcher, err := NewDispatcher(relay, outbox, NewAlertRegistry(), &memoryDLQ{})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, eventType := range []alerts.EventType{alerts.EventAlertTriggered, alerts.EventAlertResolved} {
		env, err := EnvelopeFor(alerts.Event{
			ID: NewEventID(), Type: eventType, AlertID: "alert-1",
			OrganizationID: "org-a", UnitID: "unit-u", RuleID: "rule-1",
			OccurredAt: at.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		_, err = outbox.Insert(context.Background(), env)
		require.NoError(t, err)
	}

	result, err := dispatcher.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)
	require.Len(t, sink.events, 2)
	assert.Equal(t, alerts.EventAlertTriggered, sink.events[0].Type)
	assert.Equal(t, alerts.EventAlertResolved, sink.events[1].Type)

	assert.Error(t, relay.Publish(context.Background(), "x", "not an alert event"))
}
