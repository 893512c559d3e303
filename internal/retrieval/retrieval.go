// Package retrieval embeds a query and fetches the nearest chunks.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/filter"
	"docrag/internal/logging"
)

// Query is one retrieval request. Filename and Filter are optional and are
// combined under $and.
type Query struct {
	Text       string
	Collection string
	K          int
	Filename   string
	Filter     map[string]any
}

// Engine runs retrieval against a vector store.
type Engine struct {
	embedder domain.Embedder
	store    domain.VectorStore
	logger   *slog.Logger
}

func NewEngine(embedder domain.Embedder, store domain.VectorStore, logger *slog.Logger) *Engine {
	return &Engine{embedder: embedder, store: store, logger: logging.OrDiscard(logger)}
}

// Search returns up to K chunks in store order, nearest first. The filter is
// built before any I/O, so a malformed filter never reaches the embedder.
func (e *Engine) Search(ctx context.Context, q Query) ([]domain.Chunk, error) {
	if q.Text == "" {
		return nil, apperr.Invalid("search", "query text is required")
	}
	if q.K <= 0 {
		return nil, apperr.Invalid("search", "k must be > 0, got %d", q.K)
	}
	if q.Collection == "" {
		return nil, apperr.Invalid("search", "collection is required")
	}
	where, err := filter.Build(q.Filename, q.Filter)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	vec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, apperr.Upstream("embed query", err)
	}
	col, err := e.store.GetOrCreate(ctx, q.Collection)
	if err != nil {
		return nil, apperr.Upstream("open collection", err)
	}
	res, err := col.Query(ctx, vec, q.K, where)
	if err != nil {
		return nil, apperr.Upstream("query collection", err)
	}
	chunks, err := Zip(res)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("retrieval done",
		"collection", q.Collection,
		"k", q.K,
		"filter", filter.ToMap(where),
		"hits", len(chunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return chunks, nil
}

// Zip pairs the positional arrays of a query result into chunks. Arrays of
// different lengths are a DataIntegrity error.
func Zip(res domain.QueryResult) ([]domain.Chunk, error) {
	n := len(res.IDs)
	if len(res.Documents) != n || len(res.Metadatas) != n || len(res.Distances) != n {
		return nil, apperr.Integrity("zip results", "result arrays differ in length: %d ids, %d documents, %d metadatas, %d distances",
			n, len(res.Documents), len(res.Metadatas), len(res.Distances))
	}
	chunks := make([]domain.Chunk, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			ID:       res.IDs[i],
			Text:     res.Documents[i],
			Score:    res.Distances[i],
			Metadata: domain.ChunkMetadataFrom(res.Metadatas[i]),
		}
	}
	return chunks, nil
}
