package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/eventing"
)

// ErrProducerClosed is returned after Close.
var ErrProducerClosed = errors.New("kafka: producer is closed")

// Producer writes alert events keyed by ordering key so each (unit, rule) lands on one partition.
type Producer struct {
	writer *kafka.Writer
	closed atomic.Bool
	logger zerolog.Logger
}

// NewProducer constructs a synchronous keyed producer.
func NewProducer(brokers []string, topic string, logger zerolog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  1,
	}
	return &Producer{writer: writer, logger: logger}, nil
}

// Name implements eventing.Sink.
func (p *Producer) Name() string { return "kafka" }

// Send writes one event. Retries are left to the async publisher.
func (p *Producer) Send(ctx context.Context, event alerts.Event) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	env, err := eventing.EnvelopeFor(event)
	if err != nil {
		return err
	}
	msg, err := encode(env)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", env.EventType, err)
	}
	p.logger.Debug().Str("event_id", env.EventID).Str("key", env.OrderingKey).Msg("event written")
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

func encode(env eventing.Envelope) (kafka.Message, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(env.OrderingKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(env.EventID)},
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "organization_id", Value: []byte(env.OrganizationID)},
		},
		Time: env.OccurredAt,
	}, nil
}

func decode(msg kafka.Message) (eventing.Envelope, error) {
	var env eventing.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return eventing.Envelope{}, err
	}
	if env.EventID == "" || env.EventType == "" {
		return eventing.Envelope{}, errors.New("kafka: envelope missing id or type")
	}
	return env, nil
}
