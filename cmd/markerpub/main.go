// Command markerpub publishes a demo marker stream to Pub/Sub: a robot frame
// circling the map, an arrow riding on it, and a fixed zone outline. It is
// meant for exercising a markerflow deployment end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-markerflow/pkg/config"
	"github.com/illmade-knight/go-markerflow/pkg/geometry"
	"github.com/illmade-knight/go-markerflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-markerflow/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

type options struct {
	markerTopic string
	tfTopic     string
	robotFrame  string
	interval    time.Duration
	lifetime    time.Duration
	radius      float64
	count       int
	deleteAll   bool
}

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	var opts options
	flag.StringVar(&opts.markerTopic, "topic", "/markers", "marker array topic")
	flag.StringVar(&opts.tfTopic, "tf-topic", "/tf", "transform topic, empty to skip publishing transforms")
	flag.StringVar(&opts.robotFrame, "frame", "base_link", "frame the robot markers are expressed in")
	flag.DurationVar(&opts.interval, "interval", 200*time.Millisecond, "delay between updates")
	flag.DurationVar(&opts.lifetime, "lifetime", time.Second, "lifetime of the robot arrow, 0 keeps it forever")
	flag.Float64Var(&opts.radius, "radius", 5, "radius of the robot's circle in meters")
	flag.IntVar(&opts.count, "count", 0, "number of updates to publish, 0 runs until interrupted")
	flag.BoolVar(&opts.deleteAll, "delete-all", false, "publish a single DELETEALL and exit")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config.")
	}
	if cfg.Transport != config.TransportPubSub {
		logger.Fatal().Str("transport", cfg.Transport).Msg("markerpub only publishes to Pub/Sub.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Fatal().Err(err).Msg("markerpub failed")
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logger zerolog.Logger) error {
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create pubsub client: %w", err)
	}
	defer func() { _ = client.Close() }()

	markers, err := newPublisher(ctx, client, opts.markerTopic, logger)
	if err != nil {
		return err
	}
	defer stopPublisher(markers, logger)

	if opts.deleteAll {
		clearAll := types.MarkerArray{Markers: []types.Marker{{
			Header: types.Header{FrameID: cfg.TargetFrame, Stamp: time.Now()},
			Action: types.ActionDeleteAll,
		}}}
		return markers.PublishJSON(ctx, clearAll, nil)
	}

	var transforms *messagepipeline.GoogleSimplePublisher
	if opts.tfTopic != "" {
		if transforms, err = newPublisher(ctx, client, opts.tfTopic, logger); err != nil {
			return err
		}
		defer stopPublisher(transforms, logger)
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	start := time.Now()
	for i := 0; opts.count == 0 || i < opts.count; i++ {
		now := time.Now()
		angle := now.Sub(start).Seconds() * 0.5

		if transforms != nil {
			tf := robotTransform(cfg.TargetFrame, opts.robotFrame, opts.radius, angle, now)
			if err := transforms.PublishJSON(ctx, types.TransformArray{Transforms: []types.TransformStamped{tf}}, nil); err != nil {
				return err
			}
		}
		if err := markers.PublishJSON(ctx, demoMarkers(cfg.TargetFrame, opts.robotFrame, opts.lifetime, now), nil); err != nil {
			return err
		}
		logger.Debug().Int("update", i).Float64("angle", angle).Msg("Published update.")

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// newPublisher creates the Pub/Sub topic for a slash-separated topic name if
// needed and returns an ordered publisher for it.
func newPublisher(ctx context.Context, client *pubsub.Client, topic string, logger zerolog.Logger) (*messagepipeline.GoogleSimplePublisher, error) {
	topicID := config.PubSubTopicID(topic)
	exists, err := client.Topic(topicID).Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		if _, err := client.CreateTopic(ctx, topicID); err != nil {
			return nil, fmt.Errorf("failed to create topic %s: %w", topicID, err)
		}
		logger.Info().Str("topic_id", topicID).Msg("Created topic.")
	}
	cfg := messagepipeline.NewGoogleSimplePublisherDefaults(topicID)
	cfg.OrderingKey = "markerpub"
	return messagepipeline.NewGoogleSimplePublisher(ctx, cfg, client, logger)
}

func stopPublisher(p *messagepipeline.GoogleSimplePublisher, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("Publisher did not flush before timeout.")
	}
}

// robotTransform places the robot frame on a circle around the origin of the
// static frame, facing along the circle: swing by angle, step out by radius,
// then turn a quarter to face the direction of travel.
func robotTransform(parent, child string, radius, angle float64, stamp time.Time) types.TransformStamped {
	swing := geometry.New(types.Vector3{}, yaw(angle))
	offset := geometry.New(types.Vector3{X: radius}, yaw(math.Pi/2))
	return types.TransformStamped{
		Header:       types.Header{FrameID: parent, Stamp: stamp},
		ChildFrameID: child,
		Transform:    swing.Compose(offset).ToMsg(),
	}
}

func yaw(angle float64) types.Quaternion {
	return types.Quaternion{Z: math.Sin(angle / 2), W: math.Cos(angle / 2)}
}

func demoMarkers(staticFrame, robotFrame string, lifetime time.Duration, stamp time.Time) types.MarkerArray {
	return types.MarkerArray{Markers: []types.Marker{
		{
			Header:    types.Header{FrameID: robotFrame, Stamp: stamp},
			Namespace: "robot",
			ID:        0,
			Type:      types.Arrow,
			Action:    types.ActionAdd,
			Pose:      types.Pose{Orientation: types.Quaternion{W: 1}},
			Scale:     types.Vector3{X: 1, Y: 0.3, Z: 0.3},
			Color:     types.ColorRGBA{G: 0.8, B: 0.2, A: 1},
			Lifetime: types.Duration{
				Sec:  int32(lifetime / time.Second),
				Nsec: int32(lifetime % time.Second),
			},
		},
		{
			Header:    types.Header{FrameID: staticFrame, Stamp: stamp},
			Namespace: "zones",
			ID:        0,
			Type:      types.Cube,
			Action:    types.ActionAdd,
			Pose:      types.Pose{Orientation: types.Quaternion{W: 1}},
			Scale:     types.Vector3{X: 2, Y: 2, Z: 0.1},
			Color:     types.ColorRGBA{R: 1, A: 1},
		},
	}}
}
