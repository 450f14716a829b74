package messagepipeline

import (
	"context"

	"github.com/rs/zerolog"
)

// WithPayloadValidation wraps inner so that payloads shorter than minSize or
// longer than maxSize are skipped before decoding. A maxSize of zero disables
// the upper bound.
func WithPayloadValidation[T any](
	inner MessageTransformer[T],
	minSize int,
	maxSize int,
	logger zerolog.Logger,
) MessageTransformer[T] {
	return func(ctx context.Context, msg *Message) (*T, bool, error) {
		size := len(msg.Payload)
		if size < minSize || (maxSize > 0 && size > maxSize) {
			logger.Warn().Str("msg_id", msg.ID).Int("payload_size", size).Msg("Rejecting message due to invalid payload size.")
			return nil, true, nil
		}
		return inner(ctx, msg)
	}
}
