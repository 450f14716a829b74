package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type lruEntry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// InMemoryLRUCache is a fixed-size, thread-safe cache that evicts the least
// recently used entry. Entries older than the configured TTL are treated as
// misses, so the cache can front data that changes over time.
type InMemoryLRUCache[K comparable, V any] struct {
	maxSize  int
	ttl      time.Duration
	fallback Fetcher[K, V]
	now      func() time.Time

	mu    sync.Mutex
	ll    *list.List          // front is most recently used
	index map[K]*list.Element // key -> element in ll
}

// NewInMemoryLRUCache creates an LRU cache holding at most maxSize entries.
// A ttl of zero keeps entries until they are evicted. fallback may be nil.
func NewInMemoryLRUCache[K comparable, V any](maxSize int, ttl time.Duration, fallback Fetcher[K, V]) (*InMemoryLRUCache[K, V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return &InMemoryLRUCache[K, V]{
		maxSize:  maxSize,
		ttl:      ttl,
		fallback: fallback,
		now:      time.Now,
		ll:       list.New(),
		index:    make(map[K]*list.Element),
	}, nil
}

// Fetch returns a fresh cached value or loads it from the fallback.
func (c *InMemoryLRUCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	if value, ok := c.lookup(key); ok {
		return value, nil
	}

	var zero V
	if c.fallback == nil {
		return zero, fmt.Errorf("lru cache %v: %w", key, ErrNotFound)
	}
	value, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}
	c.store(key, value)
	return value, nil
}

// Write stores value as the most recently used entry.
func (c *InMemoryLRUCache[K, V]) Write(_ context.Context, key K, value V) error {
	c.store(key, value)
	return nil
}

// Delete drops key from this layer only; fallbacks are not touched.
func (c *InMemoryLRUCache[K, V]) Delete(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.index[key]; ok {
		c.ll.Remove(elem)
		delete(c.index, key)
	}
	return nil
}

// Len returns the number of entries held, fresh or not.
func (c *InMemoryLRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Close is a no-op.
func (c *InMemoryLRUCache[K, V]) Close() error {
	return nil
}

func (c *InMemoryLRUCache[K, V]) lookup(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	entry := elem.Value.(*lruEntry[K, V])
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.ll.Remove(elem)
		delete(c.index, key)
		var zero V
		return zero, false
	}
	c.ll.MoveToFront(elem)
	return entry.value, true
}

func (c *InMemoryLRUCache[K, V]) store(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		entry := elem.Value.(*lruEntry[K, V])
		entry.value = value
		entry.storedAt = c.now()
		c.ll.MoveToFront(elem)
		return
	}
	c.index[key] = c.ll.PushFront(&lruEntry[K, V]{key: key, value: value, storedAt: c.now()})
	if c.ll.Len() > c.maxSize {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.index, oldest.Value.(*lruEntry[K, V]).key)
	}
}
