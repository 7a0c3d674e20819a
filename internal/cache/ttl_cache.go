package cache

import (
	"sync"
	"time"
)

// Cache is a minimal TTL cache for hot-path lookups of rarely-changing
// rows, such as gateway accounts resolved on every charge create.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
}

type entry[V any] struct {
	value    V
	deadline time.Time
}

// TTLCache is an in-memory Cache with per-entry TTLs. Expired entries are
// dropped lazily on read; there is no background janitor.
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
}

func NewTTLCache[K comparable, V any]() *TTLCache[K, V] {
	return &TTLCache[K, V]{entries: make(map[K]entry[V])}
}

func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		c.Delete(key)
		return zero, false
	}
	return e.value, true
}

// Set stores a value. A non-positive ttl stores it without expiry.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if c == nil {
		return
	}
	var deadline time.Time
	if ttl > 0 {
		deadline = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, deadline: deadline}
	c.mu.Unlock()
}

func (c *TTLCache[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// NoopCache misses every read and discards every write. It stands in where
// caching is unwanted, such as tests asserting on database reads.
type NoopCache[K comparable, V any] struct{}

func (NoopCache[K, V]) Get(key K) (V, bool) {
	var zero V
	return zero, false
}

func (NoopCache[K, V]) Set(key K, value V, ttl time.Duration) {}

func (NoopCache[K, V]) Delete(key K) {}
