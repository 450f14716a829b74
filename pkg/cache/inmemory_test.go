package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-markerflow/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFetcher is a test double for the cache.Fetcher interface.
type mockFetcher[K comparable, V any] struct {
	FetchFunc func(ctx context.Context, key K) (V, error)
	CloseFunc func() error
}

func (m *mockFetcher[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, key)
	}
	var zero V
	return zero, fmt.Errorf("mock fetcher not implemented")
}

func (m *mockFetcher[K, V]) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func TestInMemoryCache_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("Miss with no fallback", func(t *testing.T) {
		// Arrange
		c := cache.NewInMemoryCache[string, int](nil)

		// Act
		_, err := c.Fetch(ctx, "miss")

		// Assert
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("Fallback failure", func(t *testing.T) {
		// Arrange
		expectedErr := errors.New("source is down")
		source := &mockFetcher[string, int]{
			FetchFunc: func(ctx context.Context, key string) (int, error) {
				return 0, expectedErr
			},
		}
		c := cache.NewInMemoryCache[string, int](source)

		// Act
		_, err := c.Fetch(ctx, "any-key")

		// Assert
		assert.ErrorIs(t, err, expectedErr)
	})

	t.Run("Fallback result is kept", func(t *testing.T) {
		// Arrange
		var calls atomic.Int32
		source := &mockFetcher[string, string]{
			FetchFunc: func(ctx context.Context, key string) (string, error) {
				calls.Add(1)
				return "base_link->map", nil
			},
		}
		c := cache.NewInMemoryCache[string, string](source)

		// Act
		first, err1 := c.Fetch(ctx, "k")
		second, err2 := c.Fetch(ctx, "k")

		// Assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), calls.Load(), "fallback should only be consulted on the first miss")
	})

	t.Run("Write and Delete", func(t *testing.T) {
		c := cache.NewInMemoryCache[string, int](nil)

		require.NoError(t, c.Write(ctx, "k", 7))
		value, err := c.Fetch(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 7, value)

		require.NoError(t, c.Delete(ctx, "k"))
		_, err = c.Fetch(ctx, "k")
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})
}

// TestChainedCache_Fallback builds an LRU in front of an in-memory layer in
// front of a source, the same shape as the transform store chain.
func TestChainedCache_Fallback(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	source := &mockFetcher[string, string]{
		FetchFunc: func(ctx context.Context, key string) (string, error) {
			calls.Add(1)
			if key == "known" {
				return "value", nil
			}
			return "", fmt.Errorf("source %s: %w", key, cache.ErrNotFound)
		},
	}
	l2 := cache.NewInMemoryCache[string, string](source)
	l1, err := cache.NewInMemoryLRUCache[string, string](10, 0, l2)
	require.NoError(t, err)

	value, err := l1.Fetch(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	require.NoError(t, l1.Delete(ctx, "known"))
	_, err = l1.Fetch(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "deleting from L1 does not cascade, so L2 answers")

	_, err = l1.Fetch(ctx, "unknown")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}
