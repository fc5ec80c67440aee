package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a concurrency-safe in-process cache with per-entry TTL.
// Expired entries are dropped lazily on access and by Sweep.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.data[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key. A ttl <= 0 keeps the entry until overwritten.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryCache) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.data {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.data, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
