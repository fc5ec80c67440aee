package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "climate_response:"

// RedisCache keeps responses in Redis so several processes share one cache.
type RedisCache struct {
	redis *redis.Client
}

// NewRedisCache creates a cache on top of an existing client
func NewRedisCache(redisClient *redis.Client) *RedisCache {
	return &RedisCache{redis: redisClient}
}

// Get retrieves a response body
func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := rc.redis.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get response from Redis: %w", err)
	}
	return data, true, nil
}

// Set saves a response body with expiration
func (rc *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := rc.redis.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set response in Redis: %w", err)
	}
	return nil
}
