package cache

import (
	"sync"
	"time"

	"github.com/ebookops/calibre-pipeline/internal/logger"
)

// Memory is a generic thread-safe in-memory cache with per-entry TTL, used
// wherever a component needs a cheap cache that doesn't warrant its own
// SQLite-backed store (e.g. localization language-detection results).
type Memory[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]memoryEntry[V]
	log   *logger.Logger
}

type memoryEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory[K comparable, V any](log *logger.Logger) *Memory[K, V] {
	if log == nil {
		log = logger.Get()
	}
	return &Memory[K, V]{items: make(map[K]memoryEntry[V]), log: log}
}

// Set stores value under key with ttl; ttl <= 0 means no expiration.
func (c *Memory[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.items[key] = memoryEntry[V]{value: value, expiresAt: expiresAt}
}

// Get retrieves the value stored under key.
func (c *Memory[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found {
		var zero V
		return zero, false
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Delete removes key from the cache.
func (c *Memory[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear empties the cache.
func (c *Memory[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]memoryEntry[V])
}

// Len reports the number of live entries, including not-yet-swept expired
// ones.
func (c *Memory[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
