package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/getdatasurge/fresh-staged-sub013/internal/gateway"
)

// DefaultNATSSubject is the subject shared by all gateway processes.
const DefaultNATSSubject = "freshtrack.broadcast"

// NATS fans frames out over a core NATS subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NATSOption configures the NATS backend.
type NATSOption func(*NATS)

// WithNATSSubject overrides the subject.
func WithNATSSubject(subject string) NATSOption {
	return func(n *NATS) {
		if subject != "" {
			n.subject = subject
		}
	}
}

// WithNATSLogger assigns a logger.
func WithNATSLogger(logger zerolog.Logger) NATSOption {
	return func(n *NATS) {
		n.logger = logger
	}
}

// DialNATS connects to the server and constructs the backend.
func DialNATS(url string, opts ...NATSOption) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("freshtrack-gateway"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("fanout: connect nats: %w", err)
	}
	return NewNATS(conn, opts...)
}

// NewNATS constructs the backend on an existing connection.
func NewNATS(conn *nats.Conn, opts ...NATSOption) (*NATS, error) {
	if conn == nil {
		return nil, errors.New("fanout: nil nats connection")
	}
	n := &NATS{conn: conn, subject: DefaultNATSSubject, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Name implements gateway.Fanout.
func (n *NATS) Name() string { return "nats" }

// Publish implements gateway.Fanout.
func (n *NATS) Publish(_ context.Context, frame gateway.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject, payload)
}

// Subscribe implements gateway.Fanout.
func (n *NATS) Subscribe(_ context.Context, handler func(gateway.Frame)) error {
	if handler == nil {
		return errors.New("fanout: nil handler")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		return errors.New("fanout: nats already subscribed")
	}
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		var frame gateway.Frame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			n.logger.Error().Err(err).Msg("decode broadcast frame")
			return
		}
		handler(frame)
	})
	if err != nil {
		return fmt.Errorf("fanout: subscribe %s: %w", n.subject, err)
	}
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("fanout: flush subscription: %w", err)
	}
	n.sub = sub
	return nil
}

// Close implements gateway.Fanout. It drains the subscription and closes the connection.
func (n *NATS) Close() error {
	n.mu.Lock()
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn().Err(err).Msg("nats unsubscribe")
		}
	}
	n.conn.Close()
	return nil
}
