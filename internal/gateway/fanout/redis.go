package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/getdatasurge/fresh-staged-sub013/internal/gateway"
)

// DefaultRedisChannel is the pub/sub channel shared by all gateway processes.
const DefaultRedisChannel = "freshtrack:broadcast"

// Redis fans frames out over Redis PUBLISH/SUBSCRIBE.
type Redis struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// RedisOption configures the Redis backend.
type RedisOption func(*Redis)

// WithRedisChannel overrides the channel name.
func WithRedisChannel(channel string) RedisOption {
	return func(r *Redis) {
		if channel != "" {
			r.channel = channel
		}
	}
}

// WithRedisLogger assigns a logger.
func WithRedisLogger(logger zerolog.Logger) RedisOption {
	return func(r *Redis) {
		r.logger = logger
	}
}

// NewRedis constructs the backend.
func NewRedis(client *redis.Client, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("fanout: nil redis client")
	}
	r := &Redis{client: client, channel: DefaultRedisChannel, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name implements gateway.Fanout.
func (r *Redis) Name() string { return "redis" }

// Publish implements gateway.Fanout.
func (r *Redis) Publish(ctx context.Context, frame gateway.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe implements gateway.Fanout. The subscription is confirmed before it returns.
func (r *Redis) Subscribe(ctx context.Context, handler func(gateway.Frame)) error {
	if handler == nil {
		return errors.New("fanout: nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return errors.New("fanout: redis already subscribed")
	}
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("fanout: subscribe %s: %w", r.channel, err)
	}
	r.pubsub = pubsub
	r.done = make(chan struct{})
	go r.loop(pubsub.Channel(), handler, r.done)
	return nil
}

func (r *Redis) loop(messages <-chan *redis.Message, handler func(gateway.Frame), done chan struct{}) {
	defer close(done)
	for msg := range messages {
		var frame gateway.Frame
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			r.logger.Error().Err(err).Msg("decode broadcast frame")
			continue
		}
		handler(frame)
	}
}

// Close implements gateway.Fanout.
func (r *Redis) Close() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
