// Package openai talks to the OpenAI API (or a compatible endpoint) through the official SDK.
package openai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/telemetry"
)

const provider = "openai"

// Config configures the client. APIKey is required.
type Config struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	EmbedModel   string
	SystemPrompt string
	Timeout      time.Duration
	MaxRetries   int
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client implements domain.Embedder and domain.Completer.
type Client struct {
	api        sdk.Client
	chatModel  string
	embedModel string
	system     string
	logger     *slog.Logger
}

// New builds a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Invalid("openai", "missing API key")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4.1-mini"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-3-small"
	}
	return &Client{
		api:        sdk.NewClient(opts...),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		system:     cfg.SystemPrompt,
		logger:     cfg.Logger,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return provider }

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	resp, err := c.api.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfString: sdk.String(text)},
		Model: sdk.EmbeddingModel(c.embedModel),
	})
	call := telemetry.CallLog{
		Provider:       provider,
		Operation:      telemetry.OpEmbeddings,
		RequestedModel: c.embedModel,
		LatencyMS:      telemetry.Since(start),
	}
	if err != nil {
		call.Error = err.Error()
		telemetry.Record(ctx, c.logger, call)
		return nil, apperr.Upstream("openai embed", err)
	}
	call.ActualModel = resp.Model
	call.PromptTokens = resp.Usage.PromptTokens
	call.TotalTokens = resp.Usage.TotalTokens
	telemetry.Record(ctx, c.logger, call)

	if len(resp.Data) == 0 {
		return nil, apperr.Upstream("openai embed", errors.New("no embedding returned"))
	}
	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Complete sends prompt as the user message, with the configured system prompt if any.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, c.system, prompt)
}

// CompleteWithSystem sends a system and a user message.
func (c *Client) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, c.params(system, prompt))
	call := telemetry.CallLog{
		Provider:       provider,
		Operation:      telemetry.OpChat,
		RequestedModel: c.chatModel,
		LatencyMS:      telemetry.Since(start),
	}
	if err != nil {
		call.Error = err.Error()
		telemetry.Record(ctx, c.logger, call)
		return "", apperr.Upstream("openai chat", err)
	}
	call.ActualModel = resp.Model
	call.PromptTokens = resp.Usage.PromptTokens
	call.CompletionTokens = resp.Usage.CompletionTokens
	call.TotalTokens = resp.Usage.TotalTokens
	telemetry.Record(ctx, c.logger, call)

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream starts a streaming completion. Usage is requested in the final chunk
// and logged when the stream is closed.
func (c *Client) Stream(ctx context.Context, prompt string) (*domain.TokenStream, error) {
	params := c.params(c.system, prompt)
	params.StreamOptions = sdk.ChatCompletionStreamOptionsParam{IncludeUsage: sdk.Bool(true)}

	start := time.Now()
	stream := c.api.Chat.Completions.NewStreaming(ctx, params)
	call := telemetry.CallLog{
		Provider:       provider,
		Operation:      telemetry.OpChatStream,
		RequestedModel: c.chatModel,
	}

	recv := func() (string, error) {
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Model != "" {
				call.ActualModel = chunk.Model
			}
			if chunk.Usage.TotalTokens > 0 {
				call.PromptTokens = chunk.Usage.PromptTokens
				call.CompletionTokens = chunk.Usage.CompletionTokens
				call.TotalTokens = chunk.Usage.TotalTokens
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				return chunk.Choices[0].Delta.Content, nil
			}
		}
		if err := stream.Err(); err != nil {
			return "", apperr.Upstream("openai stream", err)
		}
		return "", io.EOF
	}
	finalize := func(err error) {
		call.LatencyMS = telemetry.Since(start)
		if err != nil {
			call.Error = err.Error()
		}
		telemetry.Record(ctx, c.logger, call)
	}
	return domain.NewTokenStream(recv, stream.Close, finalize), nil
}

func (c *Client) params(system, prompt string) sdk.ChatCompletionNewParams {
	var messages []sdk.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, sdk.SystemMessage(system))
	}
	messages = append(messages, sdk.UserMessage(prompt))
	return sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.chatModel),
		Messages: messages,
	}
}
