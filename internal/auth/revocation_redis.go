package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const revocationPrefix = "freshtrack:revoked:"

// RedisRevocations stores revocations as expiring redis keys shared by all processes.
type RedisRevocations struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRevocations constructs a checker; ttl should cover the longest token lifetime.
func NewRedisRevocations(client *redis.Client, ttl time.Duration) (*RedisRevocations, error) {
	if client == nil {
		return nil, errors.New("auth: nil redis client")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRevocations{client: client, ttl: ttl}, nil
}

// RevokeToken revokes a single token id.
func (r *RedisRevocations) RevokeToken(ctx context.Context, tokenID string) error {
	return r.client.Set(ctx, revocationPrefix+"token:"+tokenID, time.Now().UTC().Unix(), r.ttl).Err()
}

// RevokeSubject revokes every session of a subject.
func (r *RedisRevocations) RevokeSubject(ctx context.Context, subject string) error {
	return r.client.Set(ctx, revocationPrefix+"subject:"+subject, time.Now().UTC().Unix(), r.ttl).Err()
}

// IsRevoked implements RevocationChecker.
func (r *RedisRevocations) IsRevoked(ctx context.Context, identity Identity) (bool, error) {
	keys := []string{revocationPrefix + "subject:" + identity.Subject}
	if identity.TokenID != "" {
		keys = append(keys, revocationPrefix+"token:"+identity.TokenID)
	}
	count, err := r.client.Exists(ctx, keys...).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
