package messagepipeline

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// EnsureSubscription makes sure subID exists and is attached to topicID,
// creating the topic and subscription as needed. Ordering is enabled on new
// subscriptions so messages published with an ordering key arrive in order.
func EnsureSubscription(ctx context.Context, client *pubsub.Client, topicID, subID string) (*pubsub.Subscription, error) {
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", subID, err)
	}
	if exists {
		return sub, nil
	}

	topic := client.Topic(topicID)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !topicExists {
		if topic, err = client.CreateTopic(ctx, topicID); err != nil {
			return nil, fmt.Errorf("failed to create topic %s: %w", topicID, err)
		}
	}

	sub, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
		Topic:                 topic,
		EnableMessageOrdering: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription %s: %w", subID, err)
	}
	return sub, nil
}
