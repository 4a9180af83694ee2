package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Idempotency is a fast, lossy record of provider event ids already applied.
// processed_events remains authoritative; a miss here only costs a transaction.
type Idempotency interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

// DefaultIdempotencyTTL covers the provider's redelivery window
const DefaultIdempotencyTTL = 72 * time.Hour

// RedisIdempotency keeps processed event ids in Redis with a TTL
type RedisIdempotency struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotency creates a Redis-backed idempotency cache
func NewRedisIdempotency(client *redis.Client, prefix string, ttl time.Duration) *RedisIdempotency {
	if prefix == "" {
		prefix = "webhook:event"
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotency{redis: client, prefix: prefix, ttl: ttl}
}

func (r *RedisIdempotency) key(eventID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, eventID)
}

// Seen reports whether eventID was remembered
func (r *RedisIdempotency) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.redis.Exists(ctx, r.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return n > 0, nil
}

// Remember records eventID. An existing entry keeps its original TTL.
func (r *RedisIdempotency) Remember(ctx context.Context, eventID string) error {
	if err := r.redis.SetNX(ctx, r.key(eventID), time.Now().Unix(), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}
