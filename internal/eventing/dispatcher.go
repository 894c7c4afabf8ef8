package eventing

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/getdatasurge/fresh-staged-sub013/internal/observability/metrics"
)

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// Leader guards dispatch so only one process drains the outbox.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// DispatchResult captures the outcome of a dispatch run.
type DispatchResult struct {
	Requested int
	Claimed   int
	Sent      int
	Failed    int
	DLQ       int
	Skipped   bool
}

// Dispatcher sends outbox events to the in-process bus, or relays them onward.
type Dispatcher struct {
	bus      Publisher
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
	leader   Leader
	logger   zerolog.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLeader makes Dispatch a no-op unless leadership is held.
func WithLeader(leader Leader) DispatcherOption {
	return func(d *Dispatcher) {
		d.leader = leader
	}
}

// WithDispatcherLogger assigns a logger.
func WithDispatcherLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus Publisher, outbox OutboxStore, registry *Registry, dlq DLQStore, opts ...DispatcherOption) (*Dispatcher, error) {
	if bus == nil || outbox == nil || registry == nil {
		return nil, errors.New("eventing: nil dispatcher dependency")
	}
	d := &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch pulls pending outbox messages and delivers them in creation order.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (DispatchResult, error) {
	start := time.Now()
	result := DispatchResult{Requested: limit}
	if limit <= 0 {
		limit = 50
		result.Requested = limit
	}
	if d.leader != nil {
		leader, err := d.leader.TryAcquire(ctx)
		if err != nil {
			metrics.ObserveOutboxDispatch(metrics.ResultError, 0, 0, 0)
			return result, err
		}
		if !leader {
			result.Skipped = true
			return result, nil
		}
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, 0, 0, 0)
		return result, err
	}
	result.Claimed = len(records)
	if result.Claimed == 0 {
		metrics.ObserveOutboxDispatch(metrics.ResultSuccess, 0, 0, 0)
		return result, nil
	}
	var firstErr error

	fail := func(record OutboxRecord, cause error) {
		if err := d.outbox.MarkFailed(ctx, record.ID); err != nil && firstErr == nil {
			firstErr = err
		}
		if d.dlq != nil {
			if err := d.dlq.RecordFailure(ctx, record.Envelope, cause); err == nil {
				result.DLQ++
			}
		}
		d.logger.Error().Err(cause).
			Str("event_id", record.Envelope.EventID).
			Str("event_type", record.Envelope.EventType).
			Msg("outbox dispatch failed")
		result.Failed++
	}

	for _, record := range records {
		env := record.Envelope
		payload, err := d.registry.DecodePayload(env)
		if err != nil {
			fail(record, err)
			continue
		}
		if err := d.bus.Publish(WithEnvelope(ctx, env), env.EventType, payload); err != nil {
			fail(record, err)
			continue
		}
		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			result.Failed++
			continue
		}
		result.Sent++
	}
	dispatchResult := metrics.ResultSuccess
	if firstErr != nil || result.Failed > 0 {
		dispatchResult = metrics.ResultError
	}
	metrics.ObserveOutboxDispatch(dispatchResult, result.Sent, result.Failed, result.DLQ)
	d.logger.Debug().Dur("duration", time.Since(start)).Int("sent", result.Sent).Int("failed", result.Failed).Msg("outbox dispatched")
	return result, firstErr
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			result, err := d.Dispatch(ctx, batch)
			if err != nil {
				d.logger.Error().Err(err).Msg("outbox dispatch run failed")
				break
			}
			// drain backlogs without waiting for the next tick
			if result.Skipped || result.Claimed < result.Requested {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
