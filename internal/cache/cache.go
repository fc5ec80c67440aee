package cache

import (
	"context"
	"time"
)

// Cache stores raw provider responses by key.
type Cache interface {
	// Get returns the cached value and true, or false when the key is absent
	// or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
