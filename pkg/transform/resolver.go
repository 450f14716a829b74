// Package transform resolves the rigid transform between two coordinate
// frames at a point in time.
package transform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-markerflow/pkg/geometry"
)

// ErrTransformUnavailable is wrapped by every lookup failure: unknown frames,
// disconnected trees, and requests outside the buffered history.
var ErrTransformUnavailable = errors.New("transform unavailable")

// Resolver returns the transform that maps coordinates expressed in source
// into target, as it was at the given time. A zero time asks for the latest
// known transform. Implementations must be safe for concurrent use.
type Resolver interface {
	Lookup(ctx context.Context, source, target string, at time.Time) (geometry.Transform, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, source, target string, at time.Time) (geometry.Transform, error)

func (f ResolverFunc) Lookup(ctx context.Context, source, target string, at time.Time) (geometry.Transform, error) {
	return f(ctx, source, target, at)
}

// Chain tries each resolver in order and returns the first success.
type Chain []Resolver

func (c Chain) Lookup(ctx context.Context, source, target string, at time.Time) (geometry.Transform, error) {
	var errs []error
	for _, r := range c {
		tf, err := r.Lookup(ctx, source, target, at)
		if err == nil {
			return tf, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return geometry.Transform{}, fmt.Errorf("%w: %w", ErrTransformUnavailable, ctxErr)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return geometry.Transform{}, fmt.Errorf("%w: no resolvers configured", ErrTransformUnavailable)
	}
	return geometry.Transform{}, fmt.Errorf("%w: %s -> %s: %w", ErrTransformUnavailable, source, target, errors.Join(errs...))
}
