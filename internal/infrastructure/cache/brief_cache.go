// Package cache holds the optional Redis layer in front of the brief
// endpoint. The cache is advisory: every miss or Redis failure falls
// through to the store.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/regradar/regradar-backend/internal/infrastructure/config"
)

// BriefKey is the cache key prefix for executive brief payloads.
const BriefKey = "regradar:brief"

// maxBriefLimit matches the largest brief the read path serves.
const maxBriefLimit = 20

// BriefKeyFor returns the cache key for a brief of the given size.
// Each limit caches its own payload so a small request can never be
// served a larger cached one.
func BriefKeyFor(limit int) string {
	return fmt.Sprintf("%s:%d", BriefKey, limit)
}

// BriefKeys lists every brief cache key, for invalidation after writes
// that change what the brief shows.
func BriefKeys() []string {
	keys := make([]string, 0, maxBriefLimit)
	for limit := 1; limit <= maxBriefLimit; limit++ {
		keys = append(keys, BriefKeyFor(limit))
	}
	return keys
}

// BriefCache caches rendered read-path payloads. A nil *BriefCache is
// valid and behaves as a permanent miss, so callers never branch on
// whether Redis is configured.
type BriefCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis when a URL is configured; otherwise it returns
// nil and the cache is disabled.
func New(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*BriefCache, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	ttl := cfg.BriefTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BriefCache{client: client, ttl: ttl, logger: logger}, nil
}

// Get returns the cached payload for key, or false on miss or error.
func (c *BriefCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "cache get failed", "key", key, "error", err)
		return nil, false
	}
	return payload, true
}

// Set stores payload under key with the configured TTL.
func (c *BriefCache) Set(ctx context.Context, key string, payload []byte) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops keys after writes that change what they cache.
func (c *BriefCache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache invalidate failed", "error", err)
	}
}

// Close releases the Redis connection.
func (c *BriefCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
