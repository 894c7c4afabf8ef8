package eventing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

type recordingSink struct {
	mu       sync.Mutex
	name     string
	events   []alerts.Event
	failures int
	calls    int
	gate     chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, event alerts.Event) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) snapshot() ([]alerts.Event, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alerts.Event(nil), s.events...), s.calls
}

func event(id, unit string) alerts.Event {
	return alerts.Event{ID: id, Type: alerts.EventAlertTriggered, UnitID: unit, RuleID: "rule-1", OrganizationID: "org-a"}
}

func TestAsyncPublisherKeepsOrderPerKey(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	pub, err := NewAsyncPublisher([]Sink{sink}, WithShards(4))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		pub.Publish(context.Background(), event(fmt.Sprintf("a-%02d", i), "unit-a"))
		pub.Publish(context.Background(), event(fmt.Sprintf("b-%02d", i), "unit-b"))
	}
	require.NoError(t, pub.Close(context.Background()))

	events, _ := sink.snapshot()
	require.Len(t, events, 100)
	var a, b []string
	for _, e := range events {
		if e.UnitID == "unit-a" {
			a = append(a, e.ID)
		} else {
			b = append(b, e.ID)
		}
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, fmt.Sprintf("a-%02d", i), a[i])
		assert.Equal(t, fmt.Sprintf("b-%02d", i), b[i])
	}
}

func TestAsyncPublisherRetriesFailedSink(t *testing.T) {
	sink := &recordingSink{name: "flaky", failures: 2}
	pub, err := NewAsyncPublisher([]Sink{sink}, WithShards(1), WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	pub.Publish(context.Background(), event("e-1", "unit-a"))
	require.NoError(t, pub.Close(context.Background()))

	events, calls := sink.snapshot()
	assert.Len(t, events, 1)
	assert.Equal(t, 3, calls)
}

func TestAsyncPublisherGivesUpAfterMaxRetries(t *testing.T) {
	sink := &recordingSink{name: "down", failures: 10}
	other := &recordingSink{name: "ok"}
	pub, err := NewAsyncPublisher([]Sink{sink, other}, WithShards(1), WithRetry(2, time.Millisecond))
	require.NoError(t, err)

	pub.Publish(context.Background(), event("e-1", "unit-a"))
	require.NoError(t, pub.Close(context.Background()))

	events, calls := sink.snapshot()
	assert.Empty(t, events)
	assert.Equal(t, 3, calls)
	delivered, _ := other.snapshot()
	assert.Len(t, delivered, 1)
}

func TestAsyncPublisherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{name: "slow", gate: make(chan struct{})}
	pub, err := NewAsyncPublisher([]Sink{sink}, WithShards(1), WithBuffer(1))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		// Publish never blocks, even with a stalled sink.
		for i := 0; i < 10; i++ {
			pub.Publish(context.Background(), event(fmt.Sprintf("e-%d", i), "unit-a"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
	close(sink.gate)
	require.NoError(t, pub.Close(context.Background()))

	events, _ := sink.snapshot()
	assert.Less(t, len(events), 10)
	assert.GreaterOrEqual(t, len(events), 1)
}

func TestAsyncPublisherIgnoresEventsAfterClose(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	pub, err := NewAsyncPublisher([]Sink{sink})
	require.NoError(t, err)
	require.NoError(t, pub.Close(context.Background()))
	require.NoError(t, pub.Close(context.Background()))

	pub.Publish(context.Background(), event("late", "unit-a"))
	events, _ := sink.snapshot()
	assert.Empty(t, events)
}

func TestOnlyTypesSkipsOtherEvents(t *testing.T) {
	sink := &recordingSink{name: "queue"}
	filtered := OnlyTypes(sink, alerts.EventAlertTriggered)
	assert.Equal(t, "queue", filtered.Name())

	reading := event("evt-1", "unit-u")
	reading.Type = alerts.EventReadingCreated
	require.NoError(t, filtered.Send(context.Background(), reading))
	require.NoError(t, filtered.Send(context.Background(), event("evt-2", "unit-u")))

	events, calls := sink.snapshot()
	assert.Equal(t, 1, calls)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-2", events[0].ID)
}
