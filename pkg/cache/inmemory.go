package cache

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryCache is a thread-safe map with an optional fallback Fetcher.
// Values fetched from the fallback are kept forever, so it suits data that
// never changes, such as static transforms.
type InMemoryCache[K comparable, V any] struct {
	mu       sync.RWMutex
	data     map[K]V
	fallback Fetcher[K, V]
}

// NewInMemoryCache creates an empty cache. fallback may be nil.
func NewInMemoryCache[K comparable, V any](fallback Fetcher[K, V]) *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{
		data:     make(map[K]V),
		fallback: fallback,
	}
}

// Fetch returns the stored value, consulting the fallback on a miss.
func (c *InMemoryCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	c.mu.RLock()
	value, ok := c.data[key]
	c.mu.RUnlock()
	if ok {
		return value, nil
	}

	var zero V
	if c.fallback == nil {
		return zero, fmt.Errorf("in-memory cache %v: %w", key, ErrNotFound)
	}
	value, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	c.data[key] = value
	c.mu.Unlock()
	return value, nil
}

// Write stores value under key.
func (c *InMemoryCache[K, V]) Write(_ context.Context, key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *InMemoryCache[K, V]) Delete(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Close is a no-op.
func (c *InMemoryCache[K, V]) Close() error {
	return nil
}
