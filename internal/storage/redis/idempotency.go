// Package redis stores short-lived coordination state in Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xenking/caremeds/internal/domain/order"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	// DefaultIdempotencyTTL bounds how long a key blocks replays.
	DefaultIdempotencyTTL = 24 * time.Hour
)

var _ order.IdempotencyGuard = (*IdempotencyGuard)(nil)

// IdempotencyGuard claims request keys with SET NX.
type IdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyGuard returns a guard storing keys for ttl.
func NewIdempotencyGuard(client *redis.Client, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyGuard{client: client, ttl: ttl}
}

// Claim reports whether key was free and is now held.
func (g *IdempotencyGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming idempotency key: %w", err)
	}
	return ok, nil
}

// Release frees key.
func (g *IdempotencyGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, idempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}

// NewClient parses a redis:// URL and returns a client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
