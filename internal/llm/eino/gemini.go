package eino

import (
	"context"

	geminimodel "github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"docrag/internal/apperr"
)

// DefaultGeminiModel is used when GeminiConfig.Model is empty.
const DefaultGeminiModel = "gemini-2.5-flash"

// NewGeminiCompleter builds an eino Gemini chat model. Only APIKey, ChatModel,
// SystemPrompt and Logger are read from cfg.
func NewGeminiCompleter(ctx context.Context, cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Invalid("gemini", "missing API key")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, apperr.NewError("genai client", err)
	}
	cm, err := geminimodel.NewChatModel(ctx, &geminimodel.Config{
		Client: client,
		Model:  cfg.ChatModel,
	})
	if err != nil {
		return nil, apperr.NewError("eino gemini model", err)
	}
	return WrapChatModel(cm, cfg.ChatModel, cfg.SystemPrompt, cfg.Logger), nil
}
