package transform

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/illmade-knight/go-markerflow/pkg/geometry"
	"github.com/illmade-knight/go-markerflow/pkg/types"
	"github.com/rs/zerolog"
)

// BufferConfig bounds how much history a Buffer keeps and how far a lookup
// may stray from it.
type BufferConfig struct {
	// CacheDuration is how much history each frame keeps, measured back from
	// its newest sample.
	CacheDuration time.Duration
	// Tolerance is how far before the oldest or after the newest sample a
	// lookup may still be answered with that sample.
	Tolerance time.Duration
	// MaxDepth caps the walk towards the root and guards against cycles.
	MaxDepth int
}

// DefaultBufferConfig keeps ten seconds of history and tolerates 100ms of
// clock skew between producers.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{CacheDuration: 10 * time.Second, Tolerance: 100 * time.Millisecond, MaxDepth: 64}
}

type sample struct {
	stamp time.Time
	tf    geometry.Transform
}

// edge is a child frame's link to its parent. Samples are ordered by stamp.
type edge struct {
	parent  string
	static  bool
	samples []sample
}

// Buffer is an in-memory frame tree fed by TransformStamped messages. Each
// child frame has exactly one parent; lookups walk both frames up to their
// closest common ancestor.
type Buffer struct {
	cfg    BufferConfig
	logger zerolog.Logger

	mu    sync.RWMutex
	edges map[string]*edge // child frame -> link to parent
	roots map[string]int   // frames seen as a parent, with reference counts
}

// NewBuffer creates an empty buffer. Zero fields in cfg take their defaults.
func NewBuffer(cfg BufferConfig, logger zerolog.Logger) *Buffer {
	def := DefaultBufferConfig()
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = def.CacheDuration
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	return &Buffer{
		cfg:    cfg,
		logger: logger.With().Str("component", "TransformBuffer").Logger(),
		edges:  make(map[string]*edge),
		roots:  make(map[string]int),
	}
}

// SetTransform records msg. A frame that changes parent loses its history.
// Samples older than the retained history are discarded.
func (b *Buffer) SetTransform(_ context.Context, msg types.TransformStamped) error {
	child, parent := msg.ChildFrameID, msg.Header.FrameID
	switch {
	case child == "" || parent == "":
		return fmt.Errorf("transform needs both frame ids, got %q -> %q", child, parent)
	case child == parent:
		return fmt.Errorf("frame %q cannot be its own parent", child)
	}
	s := sample{stamp: msg.Header.Stamp, tf: geometry.FromMsg(msg.Transform)}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.edges[child]
	if !ok || e.parent != parent || e.static != msg.Static {
		if ok {
			b.logger.Debug().Str("child", child).Str("old_parent", e.parent).Str("parent", parent).
				Bool("static", msg.Static).Msg("Frame relinked, history reset.")
			b.unref(e.parent)
		}
		e = &edge{parent: parent, static: msg.Static}
		b.edges[child] = e
		b.roots[parent]++
	}

	if e.static {
		e.samples = []sample{s}
		return nil
	}
	e.insert(s, b.cfg.CacheDuration)
	return nil
}

func (b *Buffer) unref(frame string) {
	b.roots[frame]--
	if b.roots[frame] <= 0 {
		delete(b.roots, frame)
	}
}

// insert keeps samples sorted and trims anything older than window behind
// the newest sample. A sample with an existing stamp replaces it.
func (e *edge) insert(s sample, window time.Duration) {
	i := sort.Search(len(e.samples), func(i int) bool { return !e.samples[i].stamp.Before(s.stamp) })
	if i < len(e.samples) && e.samples[i].stamp.Equal(s.stamp) {
		e.samples[i] = s
	} else {
		e.samples = slices.Insert(e.samples, i, s)
	}

	cutoff := e.samples[len(e.samples)-1].stamp.Add(-window)
	keep := sort.Search(len(e.samples), func(i int) bool { return !e.samples[i].stamp.Before(cutoff) })
	e.samples = slices.Delete(e.samples, 0, keep)
}

// at returns the child->parent transform at t. Between two samples the
// result is interpolated; outside the history the nearest sample is used only
// within tolerance.
func (e *edge) at(t time.Time, tolerance time.Duration) (geometry.Transform, error) {
	if len(e.samples) == 0 {
		return geometry.Transform{}, errors.New("no samples")
	}
	newest := e.samples[len(e.samples)-1]
	if e.static || t.IsZero() {
		return newest.tf, nil
	}

	oldest := e.samples[0]
	switch {
	case t.After(newest.stamp):
		if t.Sub(newest.stamp) > tolerance {
			return geometry.Transform{}, fmt.Errorf("extrapolation into the future: requested %s, newest sample %s",
				t.Format(time.RFC3339Nano), newest.stamp.Format(time.RFC3339Nano))
		}
		return newest.tf, nil
	case t.Before(oldest.stamp):
		if oldest.stamp.Sub(t) > tolerance {
			return geometry.Transform{}, fmt.Errorf("extrapolation into the past: requested %s, oldest sample %s",
				t.Format(time.RFC3339Nano), oldest.stamp.Format(time.RFC3339Nano))
		}
		return oldest.tf, nil
	}

	i := sort.Search(len(e.samples), func(i int) bool { return !e.samples[i].stamp.Before(t) })
	after := e.samples[i]
	if after.stamp.Equal(t) {
		return after.tf, nil
	}
	before := e.samples[i-1]
	ratio := float64(t.Sub(before.stamp)) / float64(after.stamp.Sub(before.stamp))
	return geometry.Interpolate(before.tf, after.tf, ratio), nil
}

// chainLink is one step of a walk towards the root: frame, and the transform
// taking the walk's starting frame into it.
type chainLink struct {
	frame string
	tf    geometry.Transform
}

// Lookup implements Resolver.
func (b *Buffer) Lookup(_ context.Context, source, target string, at time.Time) (geometry.Transform, error) {
	if source == target {
		return geometry.Identity(), nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, frame := range []string{source, target} {
		if !b.knowsLocked(frame) {
			return geometry.Transform{}, fmt.Errorf("%w: unknown frame %q", ErrTransformUnavailable, frame)
		}
	}

	sourceChain, err := b.chainLocked(source, at)
	if err != nil {
		return geometry.Transform{}, err
	}
	targetChain, err := b.chainLocked(target, at)
	if err != nil {
		return geometry.Transform{}, err
	}

	depth := make(map[string]int, len(targetChain))
	for i, link := range targetChain {
		depth[link.frame] = i
	}
	for _, link := range sourceChain {
		if j, ok := depth[link.frame]; ok {
			return targetChain[j].tf.Inverse().Compose(link.tf), nil
		}
	}
	return geometry.Transform{}, fmt.Errorf("%w: %q and %q are not connected", ErrTransformUnavailable, source, target)
}

// chainLocked walks from frame to its root. Must be called with b.mu held.
func (b *Buffer) chainLocked(frame string, at time.Time) ([]chainLink, error) {
	chain := []chainLink{{frame: frame, tf: geometry.Identity()}}
	for current := frame; ; {
		e, ok := b.edges[current]
		if !ok {
			return chain, nil
		}
		if len(chain) > b.cfg.MaxDepth {
			return nil, fmt.Errorf("%w: frame tree deeper than %d from %q, possible cycle", ErrTransformUnavailable, b.cfg.MaxDepth, frame)
		}
		step, err := e.at(at, b.cfg.Tolerance)
		if err != nil {
			return nil, fmt.Errorf("%w: %s -> %s: %w", ErrTransformUnavailable, current, e.parent, err)
		}
		chain = append(chain, chainLink{frame: e.parent, tf: step.Compose(chain[len(chain)-1].tf)})
		current = e.parent
	}
}

func (b *Buffer) knowsLocked(frame string) bool {
	if _, ok := b.edges[frame]; ok {
		return true
	}
	_, ok := b.roots[frame]
	return ok
}

// Frames returns every known frame name, sorted.
func (b *Buffer) Frames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	frames := make(map[string]struct{}, len(b.edges)+len(b.roots))
	for child := range b.edges {
		frames[child] = struct{}{}
	}
	for root := range b.roots {
		frames[root] = struct{}{}
	}
	return slices.Sorted(maps.Keys(frames))
}
