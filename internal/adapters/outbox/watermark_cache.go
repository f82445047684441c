package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// WatermarkCache is an optional cache-aside layer in front of the
// consumer_watermarks table: a hit means "definitely already processed, skip
// the publish"; a miss means "ask Postgres", never "definitely not processed".
// Postgres remains the source of truth — losing the cache only costs a
// redundant publish, which at-least-once delivery already tolerates.
type WatermarkCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewWatermarkCache wraps an already-constructed redis.Client. Pass ttl <= 0
// for entries that never expire.
func NewWatermarkCache(client *redis.Client, ttl time.Duration) *WatermarkCache {
	return &WatermarkCache{client: client, ttl: ttl}
}

func watermarkKey(consumerName, eventID string) string {
	return "outbox:watermark:" + consumerName + ":" + eventID
}

// IsProcessed reports whether (consumerName, eventID) was previously marked
// done. A cache miss or Redis error both report false — callers fall back to
// the store's own authoritative check.
func (c *WatermarkCache) IsProcessed(ctx context.Context, consumerName, eventID string) bool {
	if c == nil || c.client == nil {
		return false
	}
	_, err := c.client.Get(ctx, watermarkKey(consumerName, eventID)).Result()
	if err != nil {
		return false
	}
	return true
}

// MarkProcessed records that (consumerName, eventID) has been published.
// Callers treat errors as non-fatal (Store.SettleSuccess discards them) —
// the cache is an optimization, not a dependency.
func (c *WatermarkCache) MarkProcessed(ctx context.Context, consumerName, eventID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ttl := c.ttl
	if ttl <= 0 {
		ttl = 0
	}
	return c.client.Set(ctx, watermarkKey(consumerName, eventID), "1", ttl).Err()
}

// Ping verifies Redis connectivity; a nil cache (feature disabled) is always
// healthy.
func (c *WatermarkCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Ping(ctx).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
