package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// TTLCache is a TTL-based in-memory cache with stale-while-revalidate.
// Uses sync.Map for lock-free reads on the hot path.
type TTLCache[V any] struct {
	store sync.Map // map[string]*entry[V]
	ttl   time.Duration
	now   func() time.Time
}

type entry[V any] struct {
	value      V
	present    bool // false = negative cache (lookup failed / not found)
	expiresAt  time.Time
	refreshing atomic.Bool
}

// GetResult holds the result of a cache lookup.
type GetResult[V any] struct {
	Value        V
	Present      bool // false for misses and negative entries
	Hit          bool // true if an entry was found (fresh or stale)
	NeedsRefresh bool // true if expired; caller should refresh in background
}

// NewTTLCache creates a cache with the given TTL.
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{ttl: ttl, now: time.Now}
}

// Get performs a non-blocking cache lookup.
// Returns stale entries with NeedsRefresh=true when expired.
func (c *TTLCache[V]) Get(key string) GetResult[V] {
	val, ok := c.store.Load(key)
	if !ok {
		return GetResult[V]{}
	}

	e := val.(*entry[V])
	if c.now().Before(e.expiresAt) {
		return GetResult[V]{Value: e.value, Present: e.present, Hit: true}
	}

	// Stale hit: only one goroutine wins the CAS
	needsRefresh := e.refreshing.CompareAndSwap(false, true)
	return GetResult[V]{
		Value:        e.value,
		Present:      e.present,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// GetFresh returns the value only when it has not expired.
func (c *TTLCache[V]) GetFresh(key string) (V, bool) {
	var zero V
	val, ok := c.store.Load(key)
	if !ok {
		return zero, false
	}
	e := val.(*entry[V])
	if !e.present || !c.now().Before(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Set stores a value with a fresh TTL.
func (c *TTLCache[V]) Set(key string, value V) {
	c.store.Store(key, &entry[V]{
		value:     value,
		present:   true,
		expiresAt: c.now().Add(c.ttl),
	})
}

// SetNegative stores a negative entry that lives for ttl.
func (c *TTLCache[V]) SetNegative(key string, ttl time.Duration) {
	c.store.Store(key, &entry[V]{expiresAt: c.now().Add(ttl)})
}

// ReleaseRefresh keeps a stale entry after a failed refresh so the next Get
// may try again.
func (c *TTLCache[V]) ReleaseRefresh(key string) {
	if val, ok := c.store.Load(key); ok {
		val.(*entry[V]).refreshing.Store(false)
	}
}

// Delete removes an entry from the cache.
func (c *TTLCache[V]) Delete(key string) {
	c.store.Delete(key)
}
