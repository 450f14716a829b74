// Package markercache holds the live set of rendered markers keyed by
// namespace and id. It is shared by every subscription that writes markers,
// by the expiry scheduler, and by snapshot readers.
package markercache

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/illmade-knight/go-markerflow/pkg/types"
	"github.com/rs/zerolog"
)

// Key identifies one logical marker. IDs are only unique within a namespace.
type Key struct {
	Namespace string
	ID        int32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Namespace, k.ID)
}

// RenderedMarker is the projected geometry stored for a key. It is never
// modified after insertion; an update replaces it.
type RenderedMarker struct {
	Key      Key
	Segments []types.Segment
	// Generation increases with every upsert across the whole cache, so an
	// expiry can tell whether the entry it was scheduled for is still current.
	Generation uint64
}

// Cache is a thread-safe map of namespace -> id -> RenderedMarker.
type Cache struct {
	mu      sync.RWMutex
	markers map[string]map[int32]RenderedMarker
	lastGen uint64
	logger  zerolog.Logger
}

// New creates an empty cache.
func New(logger zerolog.Logger) *Cache {
	return &Cache{
		markers: make(map[string]map[int32]RenderedMarker),
		logger:  logger.With().Str("component", "MarkerCache").Logger(),
	}
}

// Upsert inserts or replaces the entry for key and returns the generation
// assigned to it. The cache takes ownership of segments.
func (c *Cache) Upsert(key Key, segments []types.Segment) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	namespace, ok := c.markers[key.Namespace]
	if !ok {
		namespace = make(map[int32]RenderedMarker)
		c.markers[key.Namespace] = namespace
		c.logger.Debug().Str("namespace", key.Namespace).Msg("New marker namespace.")
	}
	c.lastGen++
	namespace[key.ID] = RenderedMarker{Key: key, Segments: segments, Generation: c.lastGen}
	return c.lastGen
}

// Delete removes key if present and reports whether anything was removed.
func (c *Cache) Delete(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(key, 0, false)
}

// DeleteGeneration removes key only if the stored entry still carries gen.
// A refreshed or already removed marker is left alone.
func (c *Cache) DeleteGeneration(key Key, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(key, gen, true)
}

// deleteLocked must be called with c.mu held for writing.
func (c *Cache) deleteLocked(key Key, gen uint64, matchGen bool) bool {
	namespace, ok := c.markers[key.Namespace]
	if !ok {
		return false
	}
	current, ok := namespace[key.ID]
	if !ok || (matchGen && current.Generation != gen) {
		return false
	}
	delete(namespace, key.ID)
	if len(namespace) == 0 {
		delete(c.markers, key.Namespace)
	}
	return true
}

// Clear removes every marker in every namespace.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers = make(map[string]map[int32]RenderedMarker)
}

// Get returns the entry stored for key.
func (c *Cache) Get(key Key) (RenderedMarker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	marker, ok := c.markers[key.Namespace][key.ID]
	return marker, ok
}

// Len returns the number of live markers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, namespace := range c.markers {
		n += len(namespace)
	}
	return n
}

// Namespaces returns the namespaces that currently hold markers, sorted.
func (c *Cache) Namespaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.markers))
}

// Markers returns every live marker, ordered by namespace and then id. The
// entries share their segment slices with the cache and must not be modified.
func (c *Cache) Markers() []RenderedMarker {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var markers []RenderedMarker
	for _, ns := range slices.Sorted(maps.Keys(c.markers)) {
		namespace := c.markers[ns]
		for _, id := range slices.Sorted(maps.Keys(namespace)) {
			markers = append(markers, namespace[id])
		}
	}
	return markers
}

// Snapshot returns the segments of every live marker, ordered by namespace and
// then id. The returned slice is a copy owned by the caller.
func (c *Cache) Snapshot() []types.Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var segments []types.Segment
	for _, ns := range slices.Sorted(maps.Keys(c.markers)) {
		namespace := c.markers[ns]
		for _, id := range slices.Sorted(maps.Keys(namespace)) {
			segments = append(segments, namespace[id].Segments...)
		}
	}
	return segments
}
