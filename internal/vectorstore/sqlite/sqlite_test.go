package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/filter"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *Store, name string) domain.Collection {
	t.Helper()
	ctx := context.Background()
	col, err := s.GetOrCreate(ctx, name)
	require.NoError(t, err)
	require.NoError(t, col.Upsert(ctx,
		[]string{"a.pdf-p1-c0", "a.pdf-p2-c1", "b.md-p1-c0"},
		[]string{"alpha", "beta", "gamma"},
		[][]float32{{1, 0}, {0.7, 0.3}, {0, 1}},
		[]domain.Metadata{
			{"filename": "a.pdf", "source": "data/a.pdf", "page": 1, "chunk_number": 0},
			{"filename": "a.pdf", "source": "data/a.pdf", "page": 2, "chunk_number": 1},
			{"filename": "b.md", "source": "b.md", "page": 1, "chunk_number": 0},
		}))
	return col
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	col := seed(t, s, "docs")

	t.Run("Nearest first", func(t *testing.T) {
		res, err := col.Query(ctx, []float32{1, 0}, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.pdf-p1-c0", "a.pdf-p2-c1"}, res.IDs)
		assert.InDelta(t, 0.0, res.Distances[0], 1e-6)
		assert.Equal(t, "data/a.pdf", res.Metadatas[0]["source"])
	})

	t.Run("Filter on decoded numbers", func(t *testing.T) {
		where, err := filter.Build("a.pdf", map[string]any{"page": map[string]any{"$gte": 2}})
		require.NoError(t, err)
		res, err := col.Query(ctx, []float32{1, 0}, 5, where)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.pdf-p2-c1"}, res.IDs)
	})

	t.Run("Collections are isolated", func(t *testing.T) {
		other, err := s.GetOrCreate(ctx, "other")
		require.NoError(t, err)
		res, err := other.Query(ctx, []float32{1, 0}, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, res.IDs)
	})

	t.Run("Query dimension must match the collection", func(t *testing.T) {
		_, err := col.Query(ctx, []float32{1, 0, 0}, 2, nil)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})

	t.Run("Missing collection row gives no hits", func(t *testing.T) {
		gone := seed(t, s, "gone")
		require.NoError(t, s.Delete(ctx, "gone"))
		res, err := gone.Query(ctx, []float32{1, 0}, 2, nil)
		require.NoError(t, err)
		assert.Empty(t, res.IDs)
	})

	t.Run("Non-positive k", func(t *testing.T) {
		_, err := col.Query(ctx, []float32{1, 0}, 0, nil)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()

	t.Run("Overwrite keeps position", func(t *testing.T) {
		s := openStore(t)
		col := seed(t, s, "docs")
		require.NoError(t, col.Upsert(ctx, []string{"a.pdf-p1-c0"}, []string{"alpha v2"}, [][]float32{{1, 0}},
			[]domain.Metadata{{"filename": "a.pdf", "page": 1, "chunk_number": 0, "source": "data/a.pdf"}}))

		records, err := col.Get(ctx, 0)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.EqualValues(t, 1, records[0]["page"])

		res, err := col.Query(ctx, []float32{1, 0}, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha v2"}, res.Documents)
	})

	t.Run("Dimension is fixed by the first batch", func(t *testing.T) {
		s := openStore(t)
		col := seed(t, s, "docs")
		err := col.Upsert(ctx, []string{"x"}, []string{"x"}, [][]float32{{1, 0, 0}}, []domain.Metadata{{}})
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})

	t.Run("Misaligned batch", func(t *testing.T) {
		s := openStore(t)
		col, err := s.GetOrCreate(ctx, "docs")
		require.NoError(t, err)
		err = col.Upsert(ctx, []string{"a"}, nil, nil, nil)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})
}

func TestDeleteAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "rag.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	seed(t, s, "docs")
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	col, err := s.GetOrCreate(ctx, "docs")
	require.NoError(t, err)
	records, err := col.Get(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2, "Data survives reopening")

	require.NoError(t, s.Delete(ctx, "docs"))
	require.NoError(t, s.Delete(ctx, "docs"))
	records, err = col.Get(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, col.Upsert(ctx, []string{"n"}, []string{"new"}, [][]float32{{1, 0, 0}}, []domain.Metadata{{"filename": "n"}}),
		"A stale handle recreates the collection with a new dimension")
}
