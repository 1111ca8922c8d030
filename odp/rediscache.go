package odp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a segments cache shared across processes, for horizontally
// scaled deployments where per-process LRU caches would refetch the same
// users.
type RedisCache struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewRedisCache(client *redis.Client, prefix string, timeout time.Duration, logger *slog.Logger) *RedisCache {
	if prefix == "" {
		prefix = "featurekit:odp:"
	}
	if timeout <= 0 {
		timeout = DefaultCacheTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, prefix: prefix, timeout: timeout, logger: logger}
}

func (c *RedisCache) Lookup(key string) ([]string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis segment cache lookup failed", "error", err)
		}
		return nil, false
	}
	var segments []string
	if err := json.Unmarshal([]byte(raw), &segments); err != nil {
		return nil, false
	}
	return segments, true
}

func (c *RedisCache) Save(key string, segments []string) {
	raw, err := json.Marshal(segments)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.client.Set(ctx, c.prefix+key, raw, c.timeout).Err(); err != nil {
		c.logger.Warn("redis segment cache save failed", "error", err)
	}
}

func (c *RedisCache) Reset() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis segment cache reset failed", "error", err)
	}
}
