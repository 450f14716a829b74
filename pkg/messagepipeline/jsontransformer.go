package messagepipeline

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// NewJSONTransformer decodes each payload as JSON into a T. Undecodable
// payloads are logged and skipped so that a poison message is acknowledged
// instead of being redelivered forever.
func NewJSONTransformer[T any](logger zerolog.Logger) MessageTransformer[T] {
	return func(_ context.Context, msg *Message) (*T, bool, error) {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			logger.Warn().Err(err).Str("msg_id", msg.ID).Int("payload_size", len(msg.Payload)).Msg("Skipping undecodable message.")
			return nil, true, nil
		}
		return &payload, false, nil
	}
}
