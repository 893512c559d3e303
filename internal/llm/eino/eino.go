// Package eino adapts cloudwego/eino chat models and embedders.
package eino

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	einoembed "github.com/cloudwego/eino-ext/components/embedding/openai"
	einomodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/telemetry"
)

const provider = "eino"

// Config configures the OpenAI-backed eino components.
type Config struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	EmbedModel   string
	SystemPrompt string
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Completer implements domain.Completer on top of an eino chat model.
type Completer struct {
	model  model.BaseChatModel
	name   string
	system string
	logger *slog.Logger
}

// NewCompleter builds an eino OpenAI chat model.
func NewCompleter(ctx context.Context, cfg Config) (*Completer, error) {
	cm, err := einomodel.NewChatModel(ctx, &einomodel.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.ChatModel,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, apperr.NewError("eino chat model", err)
	}
	return WrapChatModel(cm, cfg.ChatModel, cfg.SystemPrompt, cfg.Logger), nil
}

// WrapChatModel adapts any eino chat model.
func WrapChatModel(cm model.BaseChatModel, modelName, system string, logger *slog.Logger) *Completer {
	return &Completer{model: cm, name: modelName, system: system, logger: logger}
}

// Name returns the provider name.
func (c *Completer) Name() string { return provider }

// Complete sends prompt with the configured system prompt.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, c.system, prompt)
}

// CompleteWithSystem sends a system and a user message.
func (c *Completer) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()
	msg, err := c.model.Generate(ctx, messages(system, prompt))
	call := telemetry.CallLog{
		Provider:       provider,
		Operation:      telemetry.OpChat,
		RequestedModel: c.name,
		LatencyMS:      telemetry.Since(start),
	}
	if err != nil {
		call.Error = err.Error()
		telemetry.Record(ctx, c.logger, call)
		return "", apperr.Upstream("eino generate", err)
	}
	applyUsage(&call, msg)
	telemetry.Record(ctx, c.logger, call)
	return msg.Content, nil
}

// Stream starts a streaming completion.
func (c *Completer) Stream(ctx context.Context, prompt string) (*domain.TokenStream, error) {
	start := time.Now()
	sr, err := c.model.Stream(ctx, messages(c.system, prompt))
	if err != nil {
		return nil, apperr.Upstream("eino stream", err)
	}
	call := telemetry.CallLog{
		Provider:       provider,
		Operation:      telemetry.OpChatStream,
		RequestedModel: c.name,
	}
	recv := func() (string, error) {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", apperr.Upstream("eino stream", err)
		}
		applyUsage(&call, msg)
		return msg.Content, nil
	}
	release := func() error {
		sr.Close()
		return nil
	}
	finalize := func(err error) {
		call.LatencyMS = telemetry.Since(start)
		if err != nil {
			call.Error = err.Error()
		}
		telemetry.Record(ctx, c.logger, call)
	}
	return domain.NewTokenStream(recv, release, finalize), nil
}

func messages(system, prompt string) []*schema.Message {
	var msgs []*schema.Message
	if system != "" {
		msgs = append(msgs, schema.SystemMessage(system))
	}
	return append(msgs, schema.UserMessage(prompt))
}

func applyUsage(call *telemetry.CallLog, msg *schema.Message) {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return
	}
	u := msg.ResponseMeta.Usage
	call.PromptTokens = int64(u.PromptTokens)
	call.CompletionTokens = int64(u.CompletionTokens)
	call.TotalTokens = int64(u.TotalTokens)
}

// Embedder implements domain.Embedder on top of an eino embedder.
type Embedder struct {
	embedder embedding.Embedder
	name     string
	logger   *slog.Logger
}

// NewEmbedder builds an eino OpenAI embedder.
func NewEmbedder(ctx context.Context, cfg Config) (*Embedder, error) {
	e, err := einoembed.NewEmbedder(ctx, &einoembed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.EmbedModel,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, apperr.NewError("eino embedder", err)
	}
	return WrapEmbedder(e, cfg.EmbedModel, cfg.Logger), nil
}

// WrapEmbedder adapts any eino embedder.
func WrapEmbedder(e embedding.Embedder, modelName string, logger *slog.Logger) *Embedder {
	return &Embedder{embedder: e, name: modelName, logger: logger}
}

// Name returns the provider and model.
func (e *Embedder) Name() string { return provider + ":" + e.name }

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vectors, err := e.embedder.EmbedStrings(ctx, []string{text})
	call := telemetry.CallLog{
		Provider:       provider,
		Operation:      telemetry.OpEmbeddings,
		RequestedModel: e.name,
		LatencyMS:      telemetry.Since(start),
	}
	if err != nil {
		call.Error = err.Error()
	}
	telemetry.Record(ctx, e.logger, call)
	if err != nil {
		return nil, apperr.Upstream("eino embed", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, apperr.Upstream("eino embed", errors.New("no embedding returned"))
	}
	out := make([]float32, len(vectors[0]))
	for i, v := range vectors[0] {
		out[i] = float32(v)
	}
	return out, nil
}
