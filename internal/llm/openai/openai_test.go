package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/apperr"
	"docrag/internal/telemetry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		APIKey:       "test-key",
		BaseURL:      srv.URL + "/v1/",
		SystemPrompt: "You are a concise assistant",
		MaxRetries:   0,
	})
	require.NoError(t, err)
	return c
}

func TestEmbed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body["model"])
		assert.Equal(t, "hello world", body["input"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[{"object":"embedding","index":0,"embedding":[0.5,-0.25]}],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	})

	rec := telemetry.NewRecorder()
	vec, err := c.Embed(telemetry.WithRecorder(context.Background(), rec), "hello world")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25}, vec)
	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, telemetry.OpEmbeddings, calls[0].Operation)
	assert.Equal(t, int64(2), calls[0].TotalTokens)
}

func TestComplete(t *testing.T) {
	t.Run("Sends system and user messages", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			var body struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "gpt-4.1-mini", body.Model)
			require.Len(t, body.Messages, 2)
			assert.Equal(t, "system", body.Messages[0].Role)
			assert.Equal(t, "user", body.Messages[1].Role)
			assert.Equal(t, "What is FastAPI?", body.Messages[1].Content)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4.1-mini-2025-04-14","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ANSWER:\nA framework."}}],"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}}`))
		})

		rec := telemetry.NewRecorder()
		out, err := c.Complete(telemetry.WithRecorder(context.Background(), rec), "What is FastAPI?")

		require.NoError(t, err)
		assert.Equal(t, "ANSWER:\nA framework.", out)
		require.Len(t, rec.Calls(), 1)
		call := rec.Calls()[0]
		assert.Equal(t, telemetry.OpChat, call.Operation)
		assert.Equal(t, "gpt-4.1-mini-2025-04-14", call.ActualModel)
		assert.Equal(t, int64(13), call.TotalTokens)
	})

	t.Run("HTTP errors are upstream failures", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
		})
		_, err := c.Complete(context.Background(), "hi")
		assert.ErrorIs(t, err, apperr.ErrUpstream)
	})
}

func TestStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])
		assert.Equal(t, map[string]any{"include_usage": true}, body["stream_options"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4.1-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4.1-mini\",\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	rec := telemetry.NewRecorder()
	stream, err := c.Stream(telemetry.WithRecorder(context.Background(), rec), "say hello")
	require.NoError(t, err)

	var got []string
	for tok, err := range stream.All() {
		require.NoError(t, err)
		got = append(got, tok)
	}

	assert.Equal(t, []string{"Hel", "lo"}, got)
	calls := rec.Calls()
	require.Len(t, calls, 1, "Expected exactly one call log after the stream finished")
	assert.Equal(t, telemetry.OpChatStream, calls[0].Operation)
	assert.Equal(t, int64(5), calls[0].TotalTokens)
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
