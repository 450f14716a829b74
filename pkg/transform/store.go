package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/illmade-knight/go-markerflow/pkg/cache"
	"github.com/illmade-knight/go-markerflow/pkg/geometry"
	"github.com/illmade-knight/go-markerflow/pkg/types"
	"github.com/rs/zerolog"
)

// FramePair keys a stored transform. The stored value maps Source coordinates
// into Target, so a child->parent message is stored under {child, parent}.
type FramePair struct {
	Source string
	Target string
}

// String renders the pair as a key that is safe for Redis and as a Firestore
// document ID, which may not contain "/".
func (p FramePair) String() string {
	return sanitizeFrame(p.Source) + "__" + sanitizeFrame(p.Target)
}

func sanitizeFrame(frame string) string {
	return strings.ReplaceAll(strings.TrimPrefix(frame, "/"), "/", ".")
}

// StoreResolver answers lookups from a cache chain holding direct frame
// pairs, for deployments where another process publishes the transforms it
// knows. Only single edges are resolved: either the pair itself or its
// reverse, which is inverted.
type StoreResolver struct {
	store     cache.Fetcher[FramePair, types.TransformStamped]
	tolerance time.Duration
	logger    zerolog.Logger
}

// NewStoreResolver creates a resolver over store. Non-static entries whose
// stamp differs from the requested time by more than tolerance are rejected.
func NewStoreResolver(store cache.Fetcher[FramePair, types.TransformStamped], tolerance time.Duration, logger zerolog.Logger) *StoreResolver {
	return &StoreResolver{
		store:     store,
		tolerance: tolerance,
		logger:    logger.With().Str("component", "StoreResolver").Logger(),
	}
}

// Lookup implements Resolver.
func (r *StoreResolver) Lookup(ctx context.Context, source, target string, at time.Time) (geometry.Transform, error) {
	if source == target {
		return geometry.Identity(), nil
	}

	msg, err := r.store.Fetch(ctx, FramePair{Source: source, Target: target})
	inverse := false
	if errors.Is(err, cache.ErrNotFound) {
		msg, err = r.store.Fetch(ctx, FramePair{Source: target, Target: source})
		inverse = true
	}
	if err != nil {
		return geometry.Transform{}, fmt.Errorf("%w: %s -> %s: %w", ErrTransformUnavailable, source, target, err)
	}

	if !msg.Static && !at.IsZero() {
		skew := at.Sub(msg.Header.Stamp).Abs()
		if skew > r.tolerance {
			r.logger.Debug().Str("source", source).Str("target", target).Dur("skew", skew).Msg("Stored transform too old.")
			return geometry.Transform{}, fmt.Errorf("%w: %s -> %s: stored sample is %s away from requested time",
				ErrTransformUnavailable, source, target, skew)
		}
	}

	tf := geometry.FromMsg(msg.Transform)
	if inverse {
		return tf.Inverse(), nil
	}
	return tf, nil
}

// StoreRecorder writes incoming transforms to a shared store so that
// StoreResolvers in other processes can read them.
type StoreRecorder struct {
	store cache.Store[FramePair, types.TransformStamped]
}

// NewStoreRecorder creates a recorder writing to store.
func NewStoreRecorder(store cache.Store[FramePair, types.TransformStamped]) *StoreRecorder {
	return &StoreRecorder{store: store}
}

// SetTransform stores msg under {child, parent}.
func (r *StoreRecorder) SetTransform(ctx context.Context, msg types.TransformStamped) error {
	key := FramePair{Source: msg.ChildFrameID, Target: msg.Header.FrameID}
	if err := r.store.Write(ctx, key, msg); err != nil {
		return fmt.Errorf("failed to record transform %s: %w", key, err)
	}
	return nil
}
