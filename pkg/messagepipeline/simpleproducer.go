package messagepipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MessageIDAttribute is set on every published message so consumers can
// correlate logs across processes.
const MessageIDAttribute = "message_id"

// SimplePublisher is a direct, non-batching publisher.
type SimplePublisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes pending messages, bounded by ctx.
	Stop(ctx context.Context) error
}

// GoogleSimplePublisherConfig configures a GoogleSimplePublisher.
type GoogleSimplePublisherConfig struct {
	TopicID string
	// OrderingKey, when set, asks Pub/Sub to deliver this publisher's
	// messages in order.
	OrderingKey string
}

// NewGoogleSimplePublisherDefaults returns a config for topicID.
func NewGoogleSimplePublisherDefaults(topicID string) *GoogleSimplePublisherConfig {
	return &GoogleSimplePublisherConfig{TopicID: topicID}
}

// GoogleSimplePublisher publishes to one Pub/Sub topic.
type GoogleSimplePublisher struct {
	topic       *pubsub.Topic
	orderingKey string
	logger      zerolog.Logger
}

// NewGoogleSimplePublisher verifies that the topic exists before returning.
func NewGoogleSimplePublisher(ctx context.Context, cfg *GoogleSimplePublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GoogleSimplePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}
	if cfg.OrderingKey != "" {
		topic.EnableMessageOrdering = true
	}

	return &GoogleSimplePublisher{
		topic:       topic,
		orderingKey: cfg.OrderingKey,
		logger:      logger.With().Str("component", "GoogleSimplePublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish queues payload and returns; the outcome is logged asynchronously.
func (p *GoogleSimplePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	attrs := make(map[string]string, len(attributes)+1)
	for k, v := range attributes {
		attrs[k] = v
	}
	if _, ok := attrs[MessageIDAttribute]; !ok {
		attrs[MessageIDAttribute] = uuid.NewString()
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        payload,
		Attributes:  attrs,
		OrderingKey: p.orderingKey,
	})

	go func() {
		getCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		serverID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Str(MessageIDAttribute, attrs[MessageIDAttribute]).Msg("Failed to publish message.")
			return
		}
		p.logger.Debug().Str("published_msg_id", serverID).Str(MessageIDAttribute, attrs[MessageIDAttribute]).Msg("Message published.")
	}()
	return nil
}

// PublishJSON encodes v as JSON and publishes it.
func (p *GoogleSimplePublisher) PublishJSON(ctx context.Context, v any, attributes map[string]string) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return p.Publish(ctx, payload, attributes)
}

// Stop flushes pending messages for the topic, bounded by ctx.
func (p *GoogleSimplePublisher) Stop(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
