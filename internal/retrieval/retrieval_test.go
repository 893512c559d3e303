package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/filter"
	"docrag/internal/vectorstore/memory"
)

type stubEmbedder struct {
	vec   []float32
	calls int
}

func (s *stubEmbedder) Name() string { return "stub" }

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	s.calls++
	return s.vec, nil
}

// brokenStore returns misaligned results from every query.
type brokenStore struct{ domain.VectorStore }

type brokenCollection struct{ domain.Collection }

func (b brokenStore) GetOrCreate(context.Context, string) (domain.Collection, error) {
	return brokenCollection{}, nil
}

func (brokenCollection) Query(context.Context, []float32, int, filter.Condition) (domain.QueryResult, error) {
	return domain.QueryResult{IDs: []string{"a", "b"}, Documents: []string{"x"}, Metadatas: []domain.Metadata{{}, {}}, Distances: []float64{0, 1}}, nil
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	col, err := s.GetOrCreate(ctx, "docs")
	require.NoError(t, err)
	require.NoError(t, col.Upsert(ctx,
		[]string{"resume.pdf-p1-c0", "resume.pdf-p2-c0", "notes.txt-p1-c0"},
		[]string{"Alice led ML projects.", "Alice speaks French.", "Buy milk."},
		[][]float32{{1, 0}, {0.9, 0.1}, {0, 1}},
		[]domain.Metadata{
			{"source": "data/resume.pdf", "filename": "resume.pdf", "page": 1, "chunk_number": 0},
			{"source": "data/resume.pdf", "filename": "resume.pdf", "page": 2, "chunk_number": 1},
			{"source": "notes.txt", "filename": "notes.txt", "page": 1, "chunk_number": 0},
		}))
	return s
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vec: []float32{1, 0}}
	e := NewEngine(emb, seededStore(t), nil)

	t.Run("Nearest chunks with typed metadata", func(t *testing.T) {
		chunks, err := e.Search(ctx, Query{Text: "What did Alice lead?", Collection: "docs", K: 2})
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "resume.pdf-p1-c0", chunks[0].ID)
		assert.Equal(t, "Alice led ML projects.", chunks[0].Text)
		assert.Equal(t, "resume.pdf", chunks[0].Metadata.Filename)
		assert.Equal(t, 1, *chunks[0].Metadata.Page)
		assert.LessOrEqual(t, chunks[0].Score, chunks[1].Score)
	})

	t.Run("Filename and filter combine", func(t *testing.T) {
		chunks, err := e.Search(ctx, Query{
			Text: "Alice", Collection: "docs", K: 5,
			Filename: "resume.pdf",
			Filter:   map[string]any{"page": map[string]any{"$gt": 1}},
		})
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "resume.pdf-p2-c0", chunks[0].ID)
	})

	t.Run("Invalid input never reaches the embedder", func(t *testing.T) {
		before := emb.calls
		for _, q := range []Query{
			{Text: "", Collection: "docs", K: 1},
			{Text: "x", Collection: "docs", K: 0},
			{Text: "x", Collection: "docs", K: 1, Filter: map[string]any{"page": map[string]any{"$regex": "1"}}},
		} {
			_, err := e.Search(ctx, q)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument, "query %+v", q)
		}
		assert.Equal(t, before, emb.calls)
	})
}

func TestSearchDetectsMisalignedResults(t *testing.T) {
	e := NewEngine(&stubEmbedder{vec: []float32{1}}, brokenStore{}, nil)
	_, err := e.Search(context.Background(), Query{Text: "x", Collection: "docs", K: 2})
	assert.ErrorIs(t, err, apperr.ErrDataIntegrity)
}

func TestZipEmpty(t *testing.T) {
	chunks, err := Zip(domain.QueryResult{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
