package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"docrag/internal/config"
	"docrag/internal/domain"
	"docrag/internal/embedding/cache"
	"docrag/internal/embedding/compat"
	"docrag/internal/embedding/hashing"
	"docrag/internal/embedding/local"
	"docrag/internal/llm/eino"
	"docrag/internal/llm/extractive"
	"docrag/internal/llm/openai"
	"docrag/internal/vectorstore/memory"
	"docrag/internal/vectorstore/pgvector"
	"docrag/internal/vectorstore/qdrant"
	"docrag/internal/vectorstore/sqlite"
)

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func buildEmbedder(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (domain.Embedder, error) {
	ec := cfg.Embedder
	var emb domain.Embedder
	switch ec.Type {
	case "hashing":
		dim := 0
		if ec.Hashing != nil {
			dim = ec.Hashing.Dimension
		}
		emb = hashing.New(dim)
	case "openai":
		client, err := openai.New(openai.Config{
			APIKey:     ec.OpenAI.APIKey(),
			BaseURL:    ec.OpenAI.BaseURL,
			EmbedModel: ec.OpenAI.Model,
			Timeout:    secs(ec.OpenAI.TimeoutSecs),
			MaxRetries: ec.OpenAI.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		emb = client
	case "compat":
		client, err := compat.NewClient(compat.Config{
			BaseURL:    ec.OpenAI.BaseURL,
			APIKey:     ec.OpenAI.APIKey(),
			Model:      ec.OpenAI.Model,
			Timeout:    secs(ec.OpenAI.TimeoutSecs),
			MaxRetries: ec.OpenAI.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		emb = client
	case "eino":
		e, err := eino.NewEmbedder(ctx, eino.Config{
			APIKey:     ec.OpenAI.APIKey(),
			BaseURL:    ec.OpenAI.BaseURL,
			EmbedModel: ec.OpenAI.Model,
			Timeout:    secs(ec.OpenAI.TimeoutSecs),
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		emb = e
	case "local":
		lc := config.LocalEmbedderConfig{}
		if ec.Local != nil {
			lc = *ec.Local
		}
		e, err := local.New(local.Config{Model: lc.Model, ModelDir: lc.ModelDir, OnnxFilePath: lc.OnnxFilePath})
		if err != nil {
			return nil, err
		}
		emb = e
	default:
		return nil, fmt.Errorf("unknown embedder: %s", ec.Type)
	}

	if c := ec.Cache; c != nil && c.RedisAddr != "" {
		client := cache.NewRedisClient(c.RedisAddr, os.Getenv(c.PasswordEnv), c.DB)
		emb = cache.New(emb, client, cache.Config{Prefix: c.Prefix, TTL: secs(c.TTLSecs), Logger: logger})
		logger.Info("embedding cache enabled", "addr", c.RedisAddr)
	}
	return emb, nil
}

func buildCompleter(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (domain.Completer, error) {
	cc := cfg.Chat
	switch cc.Type {
	case "extractive":
		return extractive.New(), nil
	case "openai":
		c, err := openai.New(openai.Config{
			APIKey:       cc.OpenAI.APIKey(),
			BaseURL:      cc.OpenAI.BaseURL,
			ChatModel:    cc.OpenAI.Model,
			SystemPrompt: cc.SystemPrompt,
			Timeout:      secs(cc.OpenAI.TimeoutSecs),
			MaxRetries:   cc.OpenAI.MaxRetries,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "eino":
		c, err := eino.NewCompleter(ctx, eino.Config{
			APIKey:       cc.OpenAI.APIKey(),
			BaseURL:      cc.OpenAI.BaseURL,
			ChatModel:    cc.OpenAI.Model,
			SystemPrompt: cc.SystemPrompt,
			Timeout:      secs(cc.OpenAI.TimeoutSecs),
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "gemini":
		c, err := eino.NewGeminiCompleter(ctx, eino.Config{
			APIKey:       os.Getenv(cc.Gemini.APIKeyEnv),
			ChatModel:    cc.Gemini.Model,
			SystemPrompt: cc.SystemPrompt,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown chat completer: %s", cc.Type)
	}
}

func buildStore(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (domain.VectorStore, error) {
	vc := cfg.VectorStore
	switch vc.Type {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite":
		s, err := sqlite.Open(vc.SQLite.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "qdrant":
		s, err := qdrant.NewStore(qdrant.Config{
			URL:     vc.Qdrant.URL,
			APIKey:  os.Getenv(vc.Qdrant.APIKeyEnv),
			Timeout: secs(vc.Qdrant.TimeoutSecs),
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "pgvector":
		dsn := os.Getenv(vc.Postgres.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("pgvector store: %s is not set", vc.Postgres.DSNEnv)
		}
		s, err := pgvector.Open(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", vc.Type)
	}
}
