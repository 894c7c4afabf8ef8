package eventing

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// Publisher is the publishing half of EventBus.
type Publisher interface {
	Publish(ctx context.Context, eventType string, event any) error
}

// EventBus delivers events to subscribed handlers.
type EventBus interface {
	Publisher
	Subscribe(eventType string, handler EventHandler)
}

// ErrNilEvent is returned when a nil event is published.
var ErrNilEvent = errors.New("eventing: nil event")

// InMemoryBus fans an event out to every handler of its type, synchronously and in
// subscription order. Every handler runs even when an earlier one fails; the
// failures are joined so the caller can retry or dead-letter the event.
type InMemoryBus struct {
	mu     sync.RWMutex
	topics map[string][]EventHandler
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{topics: make(map[string][]EventHandler)}
}

// Publish implements EventBus.
func (b *InMemoryBus) Publish(ctx context.Context, eventType string, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	b.mu.RLock()
	handlers := b.topics[eventType]
	b.mu.RUnlock()

	var errs []error
	for i, handler := range handlers {
		if err := invoke(ctx, handler, event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler %d: %w", eventType, i, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe implements EventBus.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// copy-on-write so Publish can iterate without holding the lock
	next := make([]EventHandler, len(b.topics[eventType]), len(b.topics[eventType])+1)
	copy(next, b.topics[eventType])
	b.topics[eventType] = append(next, handler)
}

func invoke(ctx context.Context, handler EventHandler, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, event)
}
