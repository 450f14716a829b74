// Command markerflow subscribes to marker and transform topics, keeps the live
// marker set projected into one static frame, and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-markerflow/pkg/cache"
	"github.com/illmade-knight/go-markerflow/pkg/config"
	"github.com/illmade-knight/go-markerflow/pkg/listener"
	"github.com/illmade-knight/go-markerflow/pkg/markercache"
	"github.com/illmade-knight/go-markerflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-markerflow/pkg/microservice"
	"github.com/illmade-knight/go-markerflow/pkg/mqttconverter"
	"github.com/illmade-knight/go-markerflow/pkg/scheduler"
	"github.com/illmade-knight/go-markerflow/pkg/transform"
	"github.com/illmade-knight/go-markerflow/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "markerflow").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("markerflow exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	buffer := transform.NewBuffer(transform.BufferConfig{
		CacheDuration: cfg.Transform.CacheDuration,
		Tolerance:     cfg.Transform.Tolerance,
		MaxDepth:      cfg.Transform.MaxDepth,
	}, logger)

	resolver := transform.Chain{buffer}
	sinks := listener.MultiSink{buffer}
	if cfg.Transform.Store.Enabled() {
		store, closeStore, err := newTransformStore(ctx, cfg, clientOpts, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		resolver = append(resolver, transform.NewStoreResolver(store, cfg.Transform.Tolerance, logger))
		sinks = append(sinks, transform.NewStoreRecorder(store))
	}

	policy, err := listener.ParseExpiryPolicy(cfg.ExpiryPolicy)
	if err != nil {
		return err
	}
	markers := markercache.New(logger)
	timers := scheduler.NewTimerScheduler(logger)
	dispatcher, err := listener.NewDispatcher(
		listener.DispatcherConfig{TargetFrame: cfg.TargetFrame, Expiry: policy},
		markers, resolver, timers, logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	factory, closeTransport, err := newConsumerFactory(ctx, cfg, clientOpts, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	manager, err := listener.NewManager(listener.ManagerConfig{
		MinPayloadSize: cfg.Payload.MinSize,
		MaxPayloadSize: cfg.Payload.MaxSize,
	}, dispatcher, sinks, factory, logger)
	if err != nil {
		return err
	}
	for _, l := range cfg.Listeners {
		kind, err := listener.ParseKind(l.Kind)
		if err != nil {
			return fmt.Errorf("listener %s: %w", l.Topic, err)
		}
		if err := manager.Register(ctx, listener.Config{Topic: l.Topic, Kind: kind}); err != nil {
			return err
		}
	}
	if len(cfg.Listeners) == 0 {
		logger.Warn().Msg("No listeners configured; the marker set will stay empty.")
	}

	server := microservice.NewMarkerServer(logger, cfg.HTTPPort, markers, dispatcher)
	if err := server.Start(); err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	logger.Info().Strs("topics", manager.Topics()).Str("target_frame", cfg.TargetFrame).Msg("markerflow running")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return errors.Join(
		manager.Stop(shutdownCtx),
		timers.Stop(shutdownCtx),
		server.Shutdown(shutdownCtx),
	)
}

// newTransformStore layers an LRU over Redis over Firestore, skipping any
// layer that is not configured. Writes go to the outermost shared layer.
func newTransformStore(
	ctx context.Context,
	cfg *config.Config,
	clientOpts []option.ClientOption,
	logger zerolog.Logger,
) (cache.Store[transform.FramePair, types.TransformStamped], func(), error) {
	storeCfg := cfg.Transform.Store
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var shared cache.Store[transform.FramePair, types.TransformStamped]
	if storeCfg.Firestore.Collection != "" {
		client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		source, err := cache.NewFirestoreSource[transform.FramePair, types.TransformStamped](
			&cache.FirestoreConfig{ProjectID: cfg.ProjectID, CollectionName: storeCfg.Firestore.Collection},
			client, logger,
		)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		shared = source
	}

	if storeCfg.Redis.Addr != "" {
		var fallback cache.Fetcher[transform.FramePair, types.TransformStamped]
		if shared != nil {
			fallback = shared
		}
		redisCache, err := cache.NewRedisCache[transform.FramePair, types.TransformStamped](ctx, &cache.RedisConfig{
			Addr:      storeCfg.Redis.Addr,
			Password:  storeCfg.Redis.Password,
			DB:        storeCfg.Redis.DB,
			KeyPrefix: storeCfg.Redis.KeyPrefix,
			CacheTTL:  storeCfg.Redis.TTL,
		}, logger, fallback)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = redisCache.Close() })
		shared = redisCache
	}

	lru, err := cache.NewInMemoryLRUCache[transform.FramePair, types.TransformStamped](storeCfg.LRUSize, storeCfg.LRUTTL, shared)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to create transform LRU: %w", err)
	}
	return writeThrough{Store: lru, shared: shared}, closeAll, nil
}

// writeThrough reads through the LRU chain and writes to the shared layer,
// so other processes see every recorded transform.
type writeThrough struct {
	cache.Store[transform.FramePair, types.TransformStamped]
	shared cache.Store[transform.FramePair, types.TransformStamped]
}

func (w writeThrough) Write(ctx context.Context, key transform.FramePair, value types.TransformStamped) error {
	if err := w.shared.Write(ctx, key, value); err != nil {
		return err
	}
	return w.Store.Write(ctx, key, value)
}

func newConsumerFactory(
	ctx context.Context,
	cfg *config.Config,
	clientOpts []option.ClientOption,
	logger zerolog.Logger,
) (listener.ConsumerFactory, func(), error) {
	switch cfg.Transport {
	case config.TransportMQTT:
		factory := func(_ context.Context, topic string) (messagepipeline.MessageConsumer, error) {
			mqttCfg := &mqttconverter.MQTTClientConfig{
				BrokerURL:          cfg.MQTT.BrokerURL,
				Topic:              topic,
				QoS:                byte(cfg.MQTT.QoS),
				ClientIDPrefix:     cfg.MQTT.ClientIDPrefix,
				Username:           cfg.MQTT.Username,
				Password:           cfg.MQTT.Password,
				KeepAlive:          cfg.MQTT.KeepAlive,
				ConnectTimeout:     cfg.MQTT.ConnectTimeout,
				ReconnectWaitMax:   cfg.MQTT.ReconnectWaitMax,
				CACertFile:         cfg.MQTT.CACertFile,
				ClientCertFile:     cfg.MQTT.ClientCertFile,
				ClientKeyFile:      cfg.MQTT.ClientKeyFile,
				InsecureSkipVerify: cfg.MQTT.InsecureSkipVerify,
			}
			client, err := mqttconverter.NewClient(mqttCfg, logger)
			if err != nil {
				return nil, err
			}
			return mqttconverter.NewMqttConsumer(client, mqttCfg, logger)
		}
		return factory, func() {}, nil

	case config.TransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		subscriptions := make(map[string]string, len(cfg.Listeners))
		for _, l := range cfg.Listeners {
			subscriptions[l.Topic] = l.SubscriptionID()
		}
		factory := func(ctx context.Context, topic string) (messagepipeline.MessageConsumer, error) {
			subID, ok := subscriptions[topic]
			if !ok {
				subID = config.ListenerConfig{Topic: topic}.SubscriptionID()
			}
			if _, err := messagepipeline.EnsureSubscription(ctx, client, config.PubSubTopicID(topic), subID); err != nil {
				return nil, err
			}
			return messagepipeline.NewGooglePubsubConsumer(messagepipeline.NewGooglePubsubConsumerDefaults(subID), client, logger)
		}
		return factory, func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
