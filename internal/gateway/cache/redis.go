package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelrelay/gateway/internal/gateway/providers"
	"github.com/modelrelay/gateway/internal/shared/logging"
	"github.com/modelrelay/gateway/internal/shared/redis"
)

// RedisCache stores serialized responses in Redis with a TTL.
type RedisCache struct {
	redis *redis.Client
}

// NewRedisCache creates a cache backed by Redis.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{redis: client}
}

// Lookup retrieves a cached response. Any storage failure is a logged miss.
func (c *RedisCache) Lookup(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, bool) {
	val, err := c.redis.Get(ctx, Key(req))
	if err != nil {
		if !errors.Is(err, redis.ErrNotFound) {
			logging.Warn().Err(err).Msg("cache lookup failure, treating as miss")
		}
		return nil, false
	}

	var cached providers.ChatResponse
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		logging.Warn().Err(err).Msg("cache entry corrupt, treating as miss")
		return nil, false
	}
	return &cached, true
}

// Store caches a response. Failures are logged and swallowed.
func (c *RedisCache) Store(ctx context.Context, req providers.ChatRequest, resp *providers.ChatResponse, ttl time.Duration) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Warn().Err(err).Msg("cache store: serialize response")
		return
	}
	if err := c.redis.Set(ctx, Key(req), string(data), ttl); err != nil {
		logging.Warn().Err(err).Msg("cache store failure")
	}
}
