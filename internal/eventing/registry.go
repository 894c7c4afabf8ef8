package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// ErrUnknownEventType is returned for envelopes nobody registered.
var ErrUnknownEventType = errors.New("eventing: unknown event type")

// Registry maps event type names to payload types for decoding.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() any
}

// NewRegistry constructs a registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() any)}
}

// NewAlertRegistry registers every alert lifecycle event type.
func NewAlertRegistry() *Registry {
	registry := NewRegistry()
	for _, eventType := range []alerts.EventType{
		alerts.EventAlertTriggered,
		alerts.EventAlertEscalated,
		alerts.EventAlertResolved,
		alerts.EventAlertAcknowledged,
		alerts.EventAlertManuallyResolved,
	} {
		registry.Register(string(eventType), alerts.Event{})
	}
	return registry
}

// Register binds an event type name to the payload type of sample (value or pointer).
func (r *Registry) Register(eventType string, sample any) {
	if r == nil || sample == nil || eventType == "" {
		return
	}
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.Lock()
	r.factories[eventType] = func() any {
		return reflect.New(t).Interface()
	}
	r.mu.Unlock()
}

// DecodePayload decodes envelope payload into a concrete event value.
func (r *Registry) DecodePayload(env Envelope) (any, error) {
	if r == nil {
		return nil, errors.New("eventing: nil registry")
	}
	r.mu.RLock()
	factory := r.factories[env.EventType]
	r.mu.RUnlock()
	if factory == nil {
		return nil, ErrUnknownEventType
	}
	target := factory()
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return nil, err
	}
	value := reflect.ValueOf(target)
	if value.Kind() == reflect.Ptr && !value.IsNil() {
		return value.Elem().Interface(), nil
	}
	return target, nil
}
