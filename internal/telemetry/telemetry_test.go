package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	t.Run("Calls are collected on the request recorder", func(t *testing.T) {
		rec := NewRecorder()
		ctx := WithRecorder(context.Background(), rec)

		Record(ctx, nil, CallLog{Provider: "openai", Operation: OpChat, RequestedModel: "gpt-4.1-mini"})
		Record(ctx, nil, CallLog{Provider: "openai", Operation: OpEmbeddings})

		calls := rec.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, OpChat, calls[0].Operation)
		assert.Equal(t, OpEmbeddings, calls[1].Operation)
	})

	t.Run("Missing recorder is fine", func(t *testing.T) {
		assert.Nil(t, FromContext(context.Background()))
		Record(context.Background(), nil, CallLog{Provider: "x"})
	})

	t.Run("Calls are logged", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		Record(context.Background(), logger, CallLog{
			Provider: "openai", Operation: OpChatStream, RequestedModel: "m",
			PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15,
		})

		out := buf.String()
		assert.Contains(t, out, `"msg":"llm_call"`)
		assert.Contains(t, out, `"operation":"chat.completions.stream"`)
		assert.Contains(t, out, `"total_tokens":15`)
	})
}
