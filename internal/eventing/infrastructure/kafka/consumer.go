package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/getdatasurge/fresh-staged-sub013/internal/eventing"
)

// Consumer reads events through a consumer group and republishes them onto a bus.
// Partitions are processed sequentially, preserving per-key order.
type Consumer struct {
	reader     *kafka.Reader
	bus        eventing.EventBus
	registry   *eventing.Registry
	dlq        eventing.DLQStore
	maxRetries int
	backoff    time.Duration
	logger     zerolog.Logger
}

// NewConsumer constructs a group consumer.
func NewConsumer(brokers []string, topic, groupID string, bus eventing.EventBus, registry *eventing.Registry, dlq eventing.DLQStore, logger zerolog.Logger) (*Consumer, error) {
	if len(brokers) == 0 || topic == "" || groupID == "" {
		return nil, errors.New("kafka: brokers, topic and group are required")
	}
	if bus == nil || registry == nil {
		return nil, errors.New("kafka: nil bus or registry")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return &Consumer{
		reader:     reader,
		bus:        bus,
		registry:   registry,
		dlq:        dlq,
		maxRetries: 5,
		backoff:    200 * time.Millisecond,
		logger:     logger,
	}, nil
}

// Run consumes until ctx is done. Offsets are committed only after handling.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	env, err := decode(msg)
	if err != nil {
		c.logger.Error().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("undecodable message skipped")
		return
	}
	payload, err := c.registry.DecodePayload(env)
	if err != nil {
		c.deadLetter(ctx, env, err)
		return
	}
	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		err := c.bus.Publish(eventing.WithEnvelope(ctx, env), env.EventType, payload)
		if err == nil {
			return
		}
		if attempt >= c.maxRetries || ctx.Err() != nil {
			c.deadLetter(ctx, env, err)
			return
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, env eventing.Envelope, cause error) {
	c.logger.Error().Err(cause).Str("event_id", env.EventID).Str("event_type", env.EventType).Msg("event dead-lettered")
	if c.dlq == nil {
		return
	}
	if err := c.dlq.RecordFailure(ctx, env, cause); err != nil {
		c.logger.Error().Err(err).Str("event_id", env.EventID).Msg("dlq write failed")
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
