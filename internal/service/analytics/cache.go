package analytics

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/txmail/internal/pkg/logger"
)

// RedisCache stores rendered analytics responses in Redis. Errors are
// logged and treated as misses so a Redis outage only costs latency.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a Redis client as an analytics cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("analytics cache get failed", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		logger.Warn("analytics cache set failed", "key", key, "error", err)
	}
}
