// Package idempotency provides a redis fast path for duplicate webhook
// deliveries. The authoritative dedupe record is the webhook_events table,
// written in the same transaction as the fulfillment effects; this cache
// only lets obvious replays skip opening a database transaction. Keys are
// written after a delivery has committed, never before.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) Key(provider, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, eventID)
}

// Seen reports whether the key was marked by a previous delivery.
// A cache error reads as "not seen" so redis outages never block the
// transactional path.
func (c *Cache) Seen(ctx context.Context, key string) bool {
	_, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return true
}

// Mark records a processed delivery. Errors are returned for logging but
// are safe to ignore.
func (c *Cache) Mark(ctx context.Context, key string) error {
	err := c.rdb.Set(ctx, key, "1", c.ttl).Err()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
