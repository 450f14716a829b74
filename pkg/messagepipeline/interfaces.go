package messagepipeline

import (
	"context"
)

// MessageConsumer is a source of messages for one subscription (a Pub/Sub
// subscription, an MQTT topic, an in-process channel).
type MessageConsumer interface {
	// Messages returns the channel workers read from. It is closed once the
	// consumer has stopped.
	Messages() <-chan Message
	// Start begins delivering messages.
	Start(ctx context.Context) error
	// Stop ceases consumption and waits for background goroutines, bounded by ctx.
	Stop(ctx context.Context) error
	// Done is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// MessageTransformer decodes a raw Message into a typed payload.
//
// Returning skip=true acknowledges the message without processing it; this is
// how malformed or filtered input leaves the pipeline without being redelivered.
// A non-nil error Nacks the message.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// StreamProcessor handles one decoded payload. A returned error Nacks the
// original message.
type StreamProcessor[T any] func(ctx context.Context, original Message, payload *T) error
