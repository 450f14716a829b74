// Package cache provides generic read-through caches and stores used to share
// coordinate transforms between markerflow instances.
package cache

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned (wrapped) when no layer of a chain holds the key.
var ErrNotFound = errors.New("key not found")

// Fetcher retrieves a value by key. Implementations may fall back to another
// Fetcher on a miss, which lets callers build chains such as
// LRU -> Redis -> Firestore.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	io.Closer
}

// Store is a Fetcher that can also be written to directly. It is used for
// state with no source of truth to fall back on, such as the latest sample of
// a moving frame.
type Store[K comparable, V any] interface {
	Fetcher[K, V]
	Write(ctx context.Context, key K, value V) error
	Delete(ctx context.Context, key K) error
}
