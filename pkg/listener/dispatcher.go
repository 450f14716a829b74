// Package listener turns inbound marker and transform messages into marker
// cache mutations.
package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-markerflow/pkg/markercache"
	"github.com/illmade-knight/go-markerflow/pkg/projector"
	"github.com/illmade-knight/go-markerflow/pkg/scheduler"
	"github.com/illmade-knight/go-markerflow/pkg/transform"
	"github.com/illmade-knight/go-markerflow/pkg/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome reports what handling one marker did to the cache.
type Outcome int

const (
	Upserted Outcome = iota
	Deleted
	Cleared
	// Ignored markers carried an action the dispatcher does not know.
	Ignored
	// Dropped markers could not be placed in the target frame.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Upserted:
		return "upserted"
	case Deleted:
		return "deleted"
	case Cleared:
		return "cleared"
	case Ignored:
		return "ignored"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ExpiryPolicy decides what a lifetime expiry removes.
type ExpiryPolicy string

const (
	// ExpireGeneration removes the marker only if it has not been re-added
	// since the expiry was scheduled.
	ExpireGeneration ExpiryPolicy = "generation"
	// ExpireKey removes whatever is stored under the key when the timer
	// fires, even if the marker was refreshed in the meantime.
	ExpireKey ExpiryPolicy = "key"
)

// ParseExpiryPolicy accepts "generation" or "key", case-insensitively. An
// empty string selects ExpireGeneration.
func ParseExpiryPolicy(s string) (ExpiryPolicy, error) {
	switch p := ExpiryPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ExpireGeneration, nil
	case ExpireGeneration, ExpireKey:
		return p, nil
	default:
		return "", fmt.Errorf("unknown expiry policy %q", s)
	}
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// TargetFrame is the static frame every marker is projected into.
	TargetFrame string
	Expiry      ExpiryPolicy
}

// Stats are running totals since the dispatcher was created.
type Stats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Ignored   uint64 `json:"ignored"`
	Malformed uint64 `json:"malformed"`
	Expired   uint64 `json:"expired"`
}

// Dispatcher applies markers to a cache. It is safe for concurrent use by
// any number of subscriptions.
type Dispatcher struct {
	cfg       DispatcherConfig
	cache     *markercache.Cache
	resolver  transform.Resolver
	scheduler scheduler.Scheduler
	logger    zerolog.Logger

	received  metric.Int64Counter
	dropped   metric.Int64Counter
	malformed metric.Int64Counter
	expired   metric.Int64Counter
	live      metric.Int64ObservableGauge

	stats struct {
		received, dropped, ignored, malformed, expired atomic.Uint64
	}
}

// NewDispatcher wires a dispatcher to its collaborators. Metrics go to the
// global OpenTelemetry meter provider, which is a no-op unless one is set.
func NewDispatcher(
	cfg DispatcherConfig,
	cache *markercache.Cache,
	resolver transform.Resolver,
	sched scheduler.Scheduler,
	logger zerolog.Logger,
) (*Dispatcher, error) {
	switch {
	case cache == nil:
		return nil, errors.New("marker cache cannot be nil")
	case resolver == nil:
		return nil, errors.New("transform resolver cannot be nil")
	case sched == nil:
		return nil, errors.New("scheduler cannot be nil")
	case cfg.TargetFrame == "":
		return nil, errors.New("target frame is required")
	}
	if cfg.Expiry == "" {
		cfg.Expiry = ExpireGeneration
	}

	d := &Dispatcher{
		cfg:       cfg,
		cache:     cache,
		resolver:  resolver,
		scheduler: sched,
		logger:    logger.With().Str("component", "Dispatcher").Str("target_frame", cfg.TargetFrame).Logger(),
	}
	if err := d.initMetrics(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) initMetrics() error {
	m := meter()
	var err error

	if d.received, err = m.Int64Counter("markers.received", metric.WithDescription("Markers received, by action")); err != nil {
		return fmt.Errorf("creating received counter: %w", err)
	}
	if d.dropped, err = m.Int64Counter("markers.dropped", metric.WithDescription("Markers dropped without touching the cache, by reason")); err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	if d.malformed, err = m.Int64Counter("markers.malformed", metric.WithDescription("Markers whose points did not fit their shape")); err != nil {
		return fmt.Errorf("creating malformed counter: %w", err)
	}
	if d.expired, err = m.Int64Counter("markers.expired", metric.WithDescription("Markers removed by lifetime expiry")); err != nil {
		return fmt.Errorf("creating expired counter: %w", err)
	}
	if d.live, err = m.Int64ObservableGauge("markers.live", metric.WithDescription("Markers currently in the cache")); err != nil {
		return fmt.Errorf("creating live gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(d.live, int64(d.cache.Len()))
		return nil
	}, d.live)
	if err != nil {
		return fmt.Errorf("registering live gauge callback: %w", err)
	}
	return nil
}

// HandleMarker applies one marker. Transform failures drop the marker without
// touching the cache; malformed point lists are logged and whatever geometry
// could be salvaged is stored.
func (d *Dispatcher) HandleMarker(ctx context.Context, m *types.Marker) Outcome {
	key := markercache.Key{Namespace: m.Namespace, ID: m.ID}
	d.stats.received.Add(1)
	d.received.Add(ctx, 1, metric.WithAttributes(attribute.String("action", m.Action.String())))

	switch m.Action {
	case types.ActionAdd, types.ActionDelete, types.ActionDeleteAll:
	default:
		d.stats.ignored.Add(1)
		d.logger.Debug().Stringer("key", key).Stringer("action", m.Action).Msg("Ignoring marker with unknown action.")
		return Ignored
	}

	tf, err := d.resolver.Lookup(ctx, m.Header.FrameID, d.cfg.TargetFrame, m.Header.Stamp)
	if err != nil {
		d.stats.dropped.Add(1)
		d.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "transform_unavailable")))
		d.logger.Debug().Err(err).Stringer("key", key).Str("frame", m.Header.FrameID).Msg("Dropping marker, transform unavailable.")
		return Dropped
	}

	switch m.Action {
	case types.ActionDelete:
		d.cache.Delete(key)
		return Deleted
	case types.ActionDeleteAll:
		d.cache.Clear()
		d.logger.Info().Str("namespace", m.Namespace).Msg("Cleared all markers.")
		return Cleared
	}

	segments, err := projector.Project(m, tf)
	if err != nil {
		d.stats.malformed.Add(1)
		d.malformed.Add(ctx, 1, metric.WithAttributes(attribute.String("shape", m.Type.String())))
		d.logger.Warn().Err(err).Stringer("key", key).Stringer("shape", m.Type).Int("segments", len(segments)).Msg("Malformed marker, storing salvaged geometry.")
	}
	gen := d.cache.Upsert(key, segments)

	if lifetime := m.Lifetime.Std(); lifetime > 0 {
		d.scheduleExpiry(key, gen, lifetime)
	}
	return Upserted
}

// HandleMarkerArray applies each marker independently, in order.
func (d *Dispatcher) HandleMarkerArray(ctx context.Context, arr *types.MarkerArray) []Outcome {
	outcomes := make([]Outcome, len(arr.Markers))
	for i := range arr.Markers {
		outcomes[i] = d.HandleMarker(ctx, &arr.Markers[i])
	}
	return outcomes
}

// scheduleExpiry is only called after the cache lock has been released, so a
// scheduler that runs tasks inline cannot deadlock.
func (d *Dispatcher) scheduleExpiry(key markercache.Key, gen uint64, lifetime time.Duration) {
	policy := d.cfg.Expiry
	d.scheduler.After(lifetime, func() {
		var removed bool
		if policy == ExpireKey {
			removed = d.cache.Delete(key)
		} else {
			removed = d.cache.DeleteGeneration(key, gen)
		}
		if removed {
			d.stats.expired.Add(1)
			d.expired.Add(context.Background(), 1)
			d.logger.Debug().Stringer("key", key).Uint64("generation", gen).Msg("Marker expired.")
		}
	})
}

// Stats returns a snapshot of the running totals.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:  d.stats.received.Load(),
		Dropped:   d.stats.dropped.Load(),
		Ignored:   d.stats.ignored.Load(),
		Malformed: d.stats.malformed.Load(),
		Expired:   d.stats.expired.Load(),
	}
}
