// Package cache provides a small LRU cache with TTL expiration, used to
// absorb repeated reads of expensive graph projections.
//
// Features:
//   - LRU eviction for bounded memory
//   - TTL expiration so cached projections never lag the graph for long
//   - Thread-safe operations
//   - Hit/miss statistics
//
// Usage:
//
//	snapshots := cache.New[storage.View, storage.Snapshot](8, time.Second, nil)
//	snap := snapshots.GetOrCompute(view, func() storage.Snapshot {
//		return store.GetSnapshot(view)
//	})
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultMaxSize is used when New is given a non-positive size.
const DefaultMaxSize = 128

// LRU is a thread-safe least-recently-used cache.
//
// The cache uses:
//   - Hash map for O(1) lookups
//   - Doubly-linked list for LRU ordering
//   - TTL for automatic expiration
type LRU[K comparable, V any] struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration
	clock   clockwork.Clock

	list  *list.List
	items map[K]*list.Element

	hits   atomic.Uint64
	misses atomic.Uint64
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// New creates a cache holding at most maxSize entries for ttl each. A zero
// ttl disables expiration. A nil clock uses the real clock.
//
// Example:
//
//	// Up to 8 entries, each fresh for one second
//	c := cache.New[string, []byte](8, time.Second, nil)
func New[K comparable, V any](maxSize int, ttl time.Duration, clock clockwork.Clock) *LRU[K, V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LRU[K, V]{
		maxSize: maxSize,
		ttl:     ttl,
		clock:   clock,
		list:    list.New(),
		items:   make(map[K]*list.Element, maxSize),
	}
}

// Get returns the cached value for key if present and not expired. A hit
// moves the entry to the front of the LRU list.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	e := elem.Value.(*entry[K, V])
	if c.ttl > 0 && !c.clock.Now().Before(e.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return zero, false
	}
	c.list.MoveToFront(elem)
	c.hits.Add(1)
	return e.value, true
}

// Put stores value under key, evicting the least recently used entry when
// full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.removeElement(c.list.Back())
	}
	c.items[key] = c.list.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
}

// GetOrCompute returns the cached value for key, or calls compute, caches
// and returns its result. Concurrent misses on one key may each compute.
func (c *LRU[K, V]) GetOrCompute(key K, compute func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := compute()
	c.Put(key, v)
	return v
}

// Remove deletes key from the cache.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries. Statistics are kept.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.items = make(map[K]*list.Element, c.maxSize)
}

// Len returns the number of cached entries, expired ones included.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats holds cache performance statistics.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"` // percentage, 0-100
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:    c.Len(),
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
	}
}

// removeElement unlinks elem. Caller must hold the lock.
func (c *LRU[K, V]) removeElement(elem *list.Element) {
	if elem == nil {
		return
	}
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}
