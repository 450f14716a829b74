package messagepipeline_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-markerflow/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validationTestPayload struct {
	Content string `json:"content"`
}

func TestWithPayloadValidation(t *testing.T) {
	testCases := []struct {
		name            string
		payload         string
		minSize         int
		maxSize         int
		expectSkip      bool
		expectInnerCall bool
	}{
		{name: "within range", payload: `{"content":"this is valid"}`, minSize: 13, maxSize: 30, expectInnerCall: true},
		{name: "too short", payload: `{"c":"v"}`, minSize: 13, maxSize: 30, expectSkip: true},
		{name: "too long", payload: `{"content":"this payload is definitely too long"}`, minSize: 13, maxSize: 30, expectSkip: true},
		{name: "exactly min size", payload: `{"content":""}`, minSize: 14, maxSize: 30, expectInnerCall: true},
		{name: "exactly max size", payload: `{"content":"0123456789012345"}`, minSize: 13, maxSize: 30, expectInnerCall: true},
		{name: "no upper bound", payload: `{"content":"this payload is definitely too long"}`, minSize: 1, maxSize: 0, expectInnerCall: true},
		{name: "empty payload", payload: ``, minSize: 1, maxSize: 0, expectSkip: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			innerCalled := false
			decode := messagepipeline.NewJSONTransformer[validationTestPayload](zerolog.Nop())
			inner := func(ctx context.Context, msg *messagepipeline.Message) (*validationTestPayload, bool, error) {
				innerCalled = true
				return decode(ctx, msg)
			}
			transformer := messagepipeline.WithPayloadValidation(inner, tc.minSize, tc.maxSize, zerolog.Nop())
			msg := &messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: tc.name, Payload: []byte(tc.payload)}}

			// Act
			_, skip, err := transformer(context.Background(), msg)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, tc.expectSkip, skip)
			assert.Equal(t, tc.expectInnerCall, innerCalled)
		})
	}
}

func TestNewJSONTransformer(t *testing.T) {
	transformer := messagepipeline.NewJSONTransformer[validationTestPayload](zerolog.Nop())

	t.Run("decodes", func(t *testing.T) {
		payload, skip, err := transformer(context.Background(), &messagepipeline.Message{
			MessageData: messagepipeline.MessageData{Payload: []byte(`{"content":"box"}`)},
		})
		require.NoError(t, err)
		assert.False(t, skip)
		assert.Equal(t, "box", payload.Content)
	})

	t.Run("skips garbage", func(t *testing.T) {
		payload, skip, err := transformer(context.Background(), &messagepipeline.Message{
			MessageData: messagepipeline.MessageData{Payload: []byte(`{not json`)},
		})
		require.NoError(t, err)
		assert.True(t, skip)
		assert.Nil(t, payload)
	})
}
