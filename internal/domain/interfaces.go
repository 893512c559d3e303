package domain

import (
	"context"

	"docrag/internal/filter"
)

// Embedder converts text into a vector. Dimensionality is fixed per model.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer sends a prompt to a chat model.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) (*TokenStream, error)
}

// SystemCompleter is implemented by completers that accept a system message.
type SystemCompleter interface {
	CompleteWithSystem(ctx context.Context, system, prompt string) (string, error)
}

// QueryResult holds positionally aligned hits, nearest first.
type QueryResult struct {
	IDs       []string
	Documents []string
	Metadatas []Metadata
	Distances []float64
}

// Collection is a named namespace of chunks inside a vector store.
type Collection interface {
	Name() string
	Upsert(ctx context.Context, ids, documents []string, embeddings [][]float32, metadatas []Metadata) error
	Query(ctx context.Context, embedding []float32, k int, where filter.Condition) (QueryResult, error)
	Get(ctx context.Context, limit int) ([]Metadata, error)
}

// VectorStore manages collections. Delete of a missing collection is not an error.
type VectorStore interface {
	GetOrCreate(ctx context.Context, name string) (Collection, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// PageLoader extracts cleaned pages from a file.
type PageLoader interface {
	Supported(path string) bool
	LoadPages(path string) ([]Page, error)
}
