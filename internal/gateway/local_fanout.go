package gateway

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// Fanout carries frames between gateway processes.
type Fanout interface {
	Name() string
	Publish(ctx context.Context, frame Frame) error
	// Subscribe delivers every published frame, including this process's own, to handler.
	Subscribe(ctx context.Context, handler func(Frame)) error
	Close() error
}

// LocalFanout delivers frames within this process only.
type LocalFanout struct {
	mu       sync.RWMutex
	handlers []func(Frame)
}

// NewLocalFanout constructs a single-process fan-out and logs the degraded mode.
func NewLocalFanout(logger zerolog.Logger) *LocalFanout {
	logger.Warn().Msg("broadcast running in single-process mode; clients on other instances will not receive events")
	return &LocalFanout{}
}

// Name implements Fanout.
func (l *LocalFanout) Name() string { return "local" }

// Publish implements Fanout.
func (l *LocalFanout) Publish(_ context.Context, frame Frame) error {
	l.mu.RLock()
	handlers := slices.Clone(l.handlers)
	l.mu.RUnlock()
	for _, handler := range handlers {
		handler(frame)
	}
	return nil
}

// Subscribe implements Fanout.
func (l *LocalFanout) Subscribe(_ context.Context, handler func(Frame)) error {
	l.mu.Lock()
	l.handlers = append(l.handlers, handler)
	l.mu.Unlock()
	return nil
}

// Close implements Fanout.
func (l *LocalFanout) Close() error { return nil }
