package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// GooglePubsubConsumerConfig configures a consumer for one subscription.
type GooglePubsubConsumerConfig struct {
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
}

// NewGooglePubsubConsumerDefaults returns a config for subID. A single receive
// goroutine keeps delivery close to publish order.
func NewGooglePubsubConsumerDefaults(subID string) *GooglePubsubConsumerConfig {
	return &GooglePubsubConsumerConfig{
		SubscriptionID:         subID,
		MaxOutstandingMessages: 100,
		NumGoroutines:          1,
	}
}

// GooglePubsubConsumer delivers messages from a Pub/Sub subscription.
type GooglePubsubConsumer struct {
	subscription *pubsub.Subscription
	logger       zerolog.Logger
	output       chan Message
	stopOnce     sync.Once
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewGooglePubsubConsumer checks that the subscription exists before
// returning.
func NewGooglePubsubConsumer(cfg *GooglePubsubConsumerConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePubsubConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	existsCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	return &GooglePubsubConsumer{
		subscription: sub,
		logger:       logger.With().Str("component", "GooglePubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		output:       make(chan Message, cfg.MaxOutstandingMessages),
		done:         make(chan struct{}),
	}, nil
}

// Messages implements MessageConsumer.
func (c *GooglePubsubConsumer) Messages() <-chan Message { return c.output }

// Done implements MessageConsumer.
func (c *GooglePubsubConsumer) Done() <-chan struct{} { return c.done }

// Start runs subscription.Receive in the background until Stop or ctx ends.
func (c *GooglePubsubConsumer) Start(ctx context.Context) error {
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		defer close(c.done)
		defer close(c.output)

		c.logger.Info().Msg("Pub/Sub receive loop started.")
		err := c.subscription.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			payload := make([]byte, len(msg.Data))
			copy(payload, msg.Data)

			select {
			case c.output <- Message{
				MessageData: MessageData{ID: msg.ID, Payload: payload, PublishTime: msg.PublishTime},
				Attributes:  msg.Attributes,
				Ack:         msg.Ack,
				Nack:        msg.Nack,
			}:
			case <-receiveCtx.Done():
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub receive loop exited with error.")
		}
		c.logger.Info().Msg("Pub/Sub receive loop stopped.")
	}()
	return nil
}

// Stop cancels the receive loop and waits for it to exit, bounded by ctx.
func (c *GooglePubsubConsumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			close(c.done)
			close(c.output)
			return
		}
		c.cancel()
		select {
		case <-c.done:
		case <-ctx.Done():
			err = fmt.Errorf("timed out waiting for pub/sub receive loop: %w", ctx.Err())
		}
	})
	return err
}
