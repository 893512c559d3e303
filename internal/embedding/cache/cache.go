// Package cache memoises embeddings in Redis, keyed by embedder and text.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"docrag/internal/domain"
	"docrag/internal/logging"
)

// Client is the subset of redis.Cmdable used by the cache.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Config configures the cache.
type Config struct {
	Prefix string
	TTL    time.Duration
	Logger *slog.Logger
}

// Embedder wraps another embedder. Redis failures are logged and bypassed.
type Embedder struct {
	inner  domain.Embedder
	client Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New wraps inner with a cache backed by client.
func New(inner domain.Embedder, client Client, cfg Config) *Embedder {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "docrag:emb:"
	}
	return &Embedder{
		inner:  inner,
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		logger: logging.OrDiscard(cfg.Logger),
	}
}

// NewRedisClient opens a go-redis client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// Name returns the wrapped embedder's name.
func (e *Embedder) Name() string { return e.inner.Name() }

// Key returns the cache key for text.
func (e *Embedder) Key(text string) string {
	sum := sha256.Sum256([]byte(e.inner.Name() + "\x00" + text))
	return e.prefix + hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text or computes and stores it.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.Key(text)
	raw, err := e.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if jerr := json.Unmarshal(raw, &vec); jerr == nil && len(vec) > 0 {
			return vec, nil
		}
		e.logger.Warn("discarding malformed cached embedding", slog.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		e.logger.Warn("embedding cache read failed", slog.Any("error", err))
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(vec)
	if err == nil {
		if serr := e.client.Set(ctx, key, data, e.ttl).Err(); serr != nil {
			e.logger.Warn("embedding cache write failed", slog.Any("error", serr))
		}
	}
	return vec, nil
}
