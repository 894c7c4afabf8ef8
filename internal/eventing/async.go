package eventing

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/observability/metrics"
)

// Sink receives events from the AsyncPublisher.
type Sink interface {
	Name() string
	Send(ctx context.Context, event alerts.Event) error
}

// ErrPublisherClosed is logged for events published after Close.
var ErrPublisherClosed = errors.New("eventing: publisher closed")

// AsyncPublisher hands events to sinks without blocking the caller.
// Events sharing an ordering key are delivered to each sink in publish order.
type AsyncPublisher struct {
	sinks      []Sink
	shards     []chan alerts.Event
	buffer     int
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
	logger     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// AsyncOption configures the publisher.
type AsyncOption func(*AsyncPublisher)

// WithShards sets the number of ordered workers.
func WithShards(n int) AsyncOption {
	return func(p *AsyncPublisher) {
		if n > 0 {
			p.shards = make([]chan alerts.Event, n)
		}
	}
}

// WithBuffer sets the per-shard queue length.
func WithBuffer(n int) AsyncOption {
	return func(p *AsyncPublisher) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// WithRetry sets retries per sink and the initial backoff.
func WithRetry(maxRetries int, backoff time.Duration) AsyncOption {
	return func(p *AsyncPublisher) {
		if maxRetries >= 0 {
			p.maxRetries = maxRetries
		}
		if backoff > 0 {
			p.backoff = backoff
		}
	}
}

// WithSendTimeout bounds each sink call.
func WithSendTimeout(timeout time.Duration) AsyncOption {
	return func(p *AsyncPublisher) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithAsyncLogger assigns a logger.
func WithAsyncLogger(logger zerolog.Logger) AsyncOption {
	return func(p *AsyncPublisher) {
		p.logger = logger
	}
}

// NewAsyncPublisher starts the shard workers.
func NewAsyncPublisher(sinks []Sink, opts ...AsyncOption) (*AsyncPublisher, error) {
	if len(sinks) == 0 {
		return nil, errors.New("eventing: no sinks")
	}
	for _, sink := range sinks {
		if sink == nil {
			return nil, errors.New("eventing: nil sink")
		}
	}
	p := &AsyncPublisher{
		sinks:      sinks,
		shards:     make([]chan alerts.Event, 4),
		buffer:     1024,
		maxRetries: 3,
		backoff:    100 * time.Millisecond,
		timeout:    5 * time.Second,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for i := range p.shards {
		p.shards[i] = make(chan alerts.Event, p.buffer)
		p.wg.Add(1)
		go p.work(p.shards[i])
	}
	return p, nil
}

// Publish enqueues the event and returns immediately. A full shard drops the event.
func (p *AsyncPublisher) Publish(_ context.Context, event alerts.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.IncAsyncPublish("queue", metrics.ResultDropped)
		p.logger.Error().Err(ErrPublisherClosed).Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("event dropped")
		return
	}
	shard := p.shards[shardFor(event.OrderingKey(), len(p.shards))]
	select {
	case shard <- event:
	default:
		metrics.IncAsyncPublish("queue", metrics.ResultDropped)
		p.logger.Error().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Str("unit_id", event.UnitID).
			Msg("event queue full, event dropped")
	}
}

// Close stops accepting events and drains queued ones until ctx is done.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, shard := range p.shards {
		close(shard)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *AsyncPublisher) work(events <-chan alerts.Event) {
	defer p.wg.Done()
	for event := range events {
		for _, sink := range p.sinks {
			p.deliver(sink, event)
		}
	}
}

func (p *AsyncPublisher) deliver(sink Sink, event alerts.Event) {
	backoff := p.backoff
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		err := sink.Send(ctx, event)
		cancel()
		if err == nil {
			metrics.IncAsyncPublish(sink.Name(), metrics.ResultSuccess)
			return
		}
		if attempt >= p.maxRetries || p.ctx.Err() != nil {
			metrics.IncAsyncPublish(sink.Name(), metrics.ResultError)
			p.logger.Error().Err(err).
				Str("sink", sink.Name()).
				Str("event_id", event.ID).
				Str("event_type", string(event.Type)).
				Int("attempts", attempt+1).
				Msg("event delivery abandoned")
			return
		}
		p.logger.Warn().Err(err).Str("sink", sink.Name()).Int("attempt", attempt+1).Msg("event delivery failed, retrying")
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
		}
		backoff *= 2
	}
}

func shardFor(key string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(shards))
}

type filteredSink struct {
	Sink
	types map[alerts.EventType]struct{}
}

// OnlyTypes wraps sink so it receives only the listed event types; others succeed without a send.
func OnlyTypes(sink Sink, types ...alerts.EventType) Sink {
	allowed := make(map[alerts.EventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return &filteredSink{Sink: sink, types: allowed}
}

func (s *filteredSink) Send(ctx context.Context, event alerts.Event) error {
	if _, ok := s.types[event.Type]; !ok {
		return nil
	}
	return s.Sink.Send(ctx, event)
}
