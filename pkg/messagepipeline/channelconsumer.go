package messagepipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ChannelConsumer is an in-process MessageConsumer. Producers call Publish;
// it is used to feed a pipeline from the same binary and in tests.
type ChannelConsumer struct {
	mu      sync.RWMutex
	output  chan Message
	done    chan struct{}
	stopped bool
	seq     atomic.Uint64
}

// NewChannelConsumer creates a consumer buffering up to size messages.
func NewChannelConsumer(size int) *ChannelConsumer {
	return &ChannelConsumer{
		output: make(chan Message, size),
		done:   make(chan struct{}),
	}
}

// Publish queues payload, blocking while the buffer is full. It fails once
// the consumer has stopped or ctx is done.
func (c *ChannelConsumer) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return fmt.Errorf("channel consumer is stopped")
	}
	msg := Message{
		MessageData: MessageData{ID: strconv.FormatUint(c.seq.Add(1), 10), Payload: payload, PublishTime: time.Now()},
		Attributes:  attributes,
	}
	select {
	case c.output <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages implements MessageConsumer.
func (c *ChannelConsumer) Messages() <-chan Message { return c.output }

// Start implements MessageConsumer. Nothing runs in the background.
func (c *ChannelConsumer) Start(_ context.Context) error { return nil }

// Stop closes the channel. Messages already queued are still delivered.
func (c *ChannelConsumer) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.output)
		close(c.done)
	}
	return nil
}

// Done implements MessageConsumer.
func (c *ChannelConsumer) Done() <-chan struct{} { return c.done }
