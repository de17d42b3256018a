// Package cache provides a fixed-capacity least-recently-used cache.
//
// The cache pairs a hash map for lookup with an intrusive doubly linked list
// ordered by recency of Get, so lookup, insertion, promotion and eviction are
// all O(1). Every Get counts as an access and every successful Get as a hit,
// which makes the hit ratio observable. The cache performs no I/O.
package cache

import (
	"errors"
	"sync"
)

// ErrInvalidCapacity is returned when creating a cache that cannot hold an entry
var ErrInvalidCapacity = errors.New("cache capacity must be positive")

type node[K comparable, V any] struct {
	key        K
	value      V
	prev, next *node[K, V]
}

// LRU is a fixed-capacity cache evicting the least recently accessed entry.
// It is safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*node[K, V]

	// head is the most recently used entry, tail the least
	head, tail *node[K, V]

	accesses  uint64
	hits      uint64
	evictions uint64
	onEvict   func(K, V)
}

// Stats is a snapshot of the cache counters
type Stats struct {
	Capacity  int
	Len       int
	Accesses  uint64
	Hits      uint64
	Evictions uint64
}

// HitRatio returns Hits/Accesses, or 0 before the first access
func (s Stats) HitRatio() float64 {
	if s.Accesses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Accesses)
}

// New creates a cache holding at most capacity entries
func New[K comparable, V any](capacity int) (*LRU[K, V], error) {
	return NewWithEvict[K, V](capacity, nil)
}

// NewWithEvict creates a cache that calls onEvict for each entry pushed out
// by capacity. onEvict runs with the cache lock held and must not call back
// into the cache.
func NewWithEvict[K comparable, V any](capacity int, onEvict func(K, V)) (*LRU[K, V], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	// The map grows on demand so large capacities cost nothing up front
	hint := capacity
	if hint > 1024 {
		hint = 1024
	}
	return &LRU[K, V]{
		capacity: capacity,
		items:    make(map[K]*node[K, V], hint),
		onEvict:  onEvict,
	}, nil
}

func (c *LRU[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *LRU[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *LRU[K, V]) moveToFront(n *node[K, V]) {
	if c.head == n {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}

// Get returns the value for key and marks it most recently used
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accesses++
	n, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.hits++
	c.moveToFront(n)
	return n.value, true
}

// Peek returns the value for key without counting an access or changing recency
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return n.value, true
}

// Contains reports whether key is cached without touching counters or recency
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Add inserts or updates key as the most recently used entry. When a new
// key arrives at capacity exactly one entry, the least recently used, is
// evicted; Add reports whether that happened.
func (c *LRU[K, V]) Add(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		n.value = value
		c.moveToFront(n)
		return false
	}

	evicted := false
	if len(c.items) >= c.capacity {
		c.removeOldest()
		evicted = true
	}

	n := &node[K, V]{key: key, value: value}
	c.items[key] = n
	c.pushFront(n)
	return evicted
}

func (c *LRU[K, V]) removeOldest() {
	n := c.tail
	if n == nil {
		return
	}
	c.unlink(n)
	delete(c.items, n.key)
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(n.key, n.value)
	}
}

// Remove drops key from the cache and reports whether it was present
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(n)
	delete(c.items, key)
	return true
}

// Keys returns the cached keys from most to least recently used
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for n := c.head; n != nil; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

// Len returns the number of cached entries
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Cap returns the maximum number of entries
func (c *LRU[K, V]) Cap() int {
	return c.capacity
}

// Hits returns the number of Gets that found their key
func (c *LRU[K, V]) Hits() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Accesses returns the number of Gets
func (c *LRU[K, V]) Accesses() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accesses
}

// HitRatio returns Hits/Accesses, or 0 before the first access
func (c *LRU[K, V]) HitRatio() float64 {
	return c.Stats().HitRatio()
}

// Stats returns a consistent snapshot of the counters
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Capacity:  c.capacity,
		Len:       len(c.items),
		Accesses:  c.accesses,
		Hits:      c.hits,
		Evictions: c.evictions,
	}
}

// Purge drops every entry. Counters are kept.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*node[K, V])
	c.head, c.tail = nil, nil
}
