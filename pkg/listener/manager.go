package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/illmade-knight/go-markerflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-markerflow/pkg/types"
	"github.com/rs/zerolog"
)

// Kind names the message type carried on a topic.
type Kind string

const (
	KindMarker      Kind = "marker"
	KindMarkerArray Kind = "marker_array"
	KindTransform   Kind = "transform"
)

// ParseKind accepts the kind names used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMarker, KindMarkerArray, KindTransform:
		return k, nil
	default:
		return "", fmt.Errorf("unknown listener kind %q", s)
	}
}

// Config registers one listener.
type Config struct {
	Topic string
	Kind  Kind
}

// ConsumerFactory builds the consumer for one topic. The manager owns the
// returned consumer and stops it through its streaming service.
type ConsumerFactory func(ctx context.Context, topic string) (messagepipeline.MessageConsumer, error)

// TransformSink accepts transform updates, typically a *transform.Buffer or a
// *transform.StoreRecorder.
type TransformSink interface {
	SetTransform(ctx context.Context, msg types.TransformStamped) error
}

// MultiSink forwards every transform to each sink in order and joins their
// errors.
type MultiSink []TransformSink

func (m MultiSink) SetTransform(ctx context.Context, msg types.TransformStamped) error {
	var errs []error
	for _, sink := range m {
		if err := sink.SetTransform(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ManagerConfig holds the limits applied to every listener's payloads.
type ManagerConfig struct {
	MinPayloadSize int
	// MaxPayloadSize of zero means unbounded.
	MaxPayloadSize int
}

type service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type registration struct {
	cfg     Config
	service service
}

// Manager runs one single-worker streaming service per registered topic, so
// messages from one topic are applied in the order they arrive.
type Manager struct {
	cfg        ManagerConfig
	dispatcher *Dispatcher
	sink       TransformSink
	factory    ConsumerFactory
	logger     zerolog.Logger

	mu      sync.Mutex
	entries []registration
	started bool
}

// NewManager creates a manager. sink may be nil if no transform listeners
// will be registered.
func NewManager(cfg ManagerConfig, dispatcher *Dispatcher, sink TransformSink, factory ConsumerFactory, logger zerolog.Logger) (*Manager, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if factory == nil {
		return nil, errors.New("consumer factory cannot be nil")
	}
	return &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		sink:       sink,
		factory:    factory,
		logger:     logger.With().Str("component", "ListenerManager").Logger(),
	}, nil
}

// Register builds the consumer and streaming service for cfg. Listeners
// registered after Start are started immediately.
func (m *Manager) Register(ctx context.Context, cfg Config) error {
	if cfg.Topic == "" {
		return errors.New("listener topic is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.cfg.Topic == cfg.Topic {
			return fmt.Errorf("topic %q is already registered", cfg.Topic)
		}
	}

	consumer, err := m.factory(ctx, cfg.Topic)
	if err != nil {
		return fmt.Errorf("creating consumer for topic %q: %w", cfg.Topic, err)
	}

	svc, err := m.newService(cfg, consumer)
	if err != nil {
		return fmt.Errorf("creating listener for topic %q: %w", cfg.Topic, err)
	}
	if m.started {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("starting listener for topic %q: %w", cfg.Topic, err)
		}
	}

	m.entries = append(m.entries, registration{cfg: cfg, service: svc})
	m.logger.Info().Str("topic", cfg.Topic).Str("kind", string(cfg.Kind)).Msg("Registered listener.")
	return nil
}

func (m *Manager) newService(cfg Config, consumer messagepipeline.MessageConsumer) (service, error) {
	svcCfg := messagepipeline.StreamingServiceConfig{NumWorkers: 1, Name: cfg.Topic}

	switch cfg.Kind {
	case KindMarker:
		return messagepipeline.NewStreamingService[types.Marker](svcCfg, consumer,
			validated[types.Marker](m), m.processMarker, m.logger)
	case KindMarkerArray:
		return messagepipeline.NewStreamingService[types.MarkerArray](svcCfg, consumer,
			validated[types.MarkerArray](m), m.processMarkerArray, m.logger)
	case KindTransform:
		if m.sink == nil {
			return nil, errors.New("transform listener requires a transform sink")
		}
		return messagepipeline.NewStreamingService[types.TransformArray](svcCfg, consumer,
			validated[types.TransformArray](m), m.processTransforms, m.logger)
	default:
		return nil, fmt.Errorf("unknown listener kind %q", cfg.Kind)
	}
}

func validated[T any](m *Manager) messagepipeline.MessageTransformer[T] {
	return messagepipeline.WithPayloadValidation(
		messagepipeline.NewJSONTransformer[T](m.logger),
		m.cfg.MinPayloadSize, m.cfg.MaxPayloadSize, m.logger,
	)
}

func (m *Manager) processMarker(ctx context.Context, _ messagepipeline.Message, marker *types.Marker) error {
	m.dispatcher.HandleMarker(ctx, marker)
	return nil
}

func (m *Manager) processMarkerArray(ctx context.Context, _ messagepipeline.Message, arr *types.MarkerArray) error {
	m.dispatcher.HandleMarkerArray(ctx, arr)
	return nil
}

// processTransforms applies each transform independently. A rejected
// transform is logged and never redelivered.
func (m *Manager) processTransforms(ctx context.Context, msg messagepipeline.Message, arr *types.TransformArray) error {
	for _, tf := range arr.Transforms {
		if err := m.sink.SetTransform(ctx, tf); err != nil {
			m.logger.Warn().Err(err).Str("msg_id", msg.ID).
				Str("parent", tf.Header.FrameID).Str("child", tf.ChildFrameID).
				Msg("Rejected transform.")
		}
	}
	return nil
}

// Start starts every registered listener.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if err := e.service.Start(ctx); err != nil {
			return fmt.Errorf("starting listener for topic %q: %w", e.cfg.Topic, err)
		}
	}
	m.started = true
	return nil
}

// Stop stops every listener, bounded by ctx, and returns the joined errors.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, e := range m.entries {
		if err := e.service.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping listener for topic %q: %w", e.cfg.Topic, err))
		}
	}
	m.started = false
	return errors.Join(errs...)
}

// Topics returns the registered topics in registration order.
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, len(m.entries))
	for i, e := range m.entries {
		topics[i] = e.cfg.Topic
	}
	return topics
}
