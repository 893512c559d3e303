package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/filter"
)

func seed(t *testing.T, s *Store) domain.Collection {
	t.Helper()
	col, err := s.GetOrCreate(context.Background(), "docs")
	require.NoError(t, err)
	err = col.Upsert(context.Background(),
		[]string{"a.pdf-p1-c0", "a.pdf-p2-c0", "b.md-p1-c0"},
		[]string{"alpha", "beta", "gamma"},
		[][]float32{{1, 0}, {0.8, 0.2}, {0, 1}},
		[]domain.Metadata{
			{"filename": "a.pdf", "page": 1},
			{"filename": "a.pdf", "page": 2},
			{"filename": "b.md", "page": 1},
		})
	require.NoError(t, err)
	return col
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("Nearest first", func(t *testing.T) {
		col := seed(t, NewStore())
		res, err := col.Query(ctx, []float32{1, 0}, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.pdf-p1-c0", "a.pdf-p2-c0"}, res.IDs)
		assert.Equal(t, []string{"alpha", "beta"}, res.Documents)
		assert.InDelta(t, 0.0, res.Distances[0], 1e-6)
		assert.Less(t, res.Distances[0], res.Distances[1])
	})

	t.Run("Filter restricts candidates", func(t *testing.T) {
		col := seed(t, NewStore())
		where := filter.AllOf(filter.Eq("filename", "a.pdf"), filter.Operator{Key: "page", Op: filter.OpGt, Value: 1})
		res, err := col.Query(ctx, []float32{1, 0}, 5, where)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.pdf-p2-c0"}, res.IDs)
	})

	t.Run("Dimension mismatch", func(t *testing.T) {
		col := seed(t, NewStore())
		_, err := col.Query(ctx, []float32{1, 0, 0}, 1, nil)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		err = col.Upsert(ctx, []string{"x"}, []string{"x"}, [][]float32{{1}}, []domain.Metadata{{}})
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})

	t.Run("Non-positive k", func(t *testing.T) {
		col := seed(t, NewStore())
		_, err := col.Query(ctx, []float32{1, 0}, 0, nil)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})
}

func TestUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	col := seed(t, NewStore())

	err := col.Upsert(ctx, []string{"a.pdf-p1-c0"}, []string{"alpha v2"}, [][]float32{{1, 0}}, []domain.Metadata{{"filename": "a.pdf", "page": 1}})
	require.NoError(t, err)

	records, err := col.Get(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 3, "Replacing an id must not add a record")

	res, err := col.Query(ctx, []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha v2"}, res.Documents)
}

func TestUpsertRejectsMisalignedBatch(t *testing.T) {
	col, err := NewStore().GetOrCreate(context.Background(), "docs")
	require.NoError(t, err)
	err = col.Upsert(context.Background(), []string{"a", "b"}, []string{"x"}, [][]float32{{1}}, []domain.Metadata{{}})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestGetAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s)

	col, err := s.GetOrCreate(ctx, "docs")
	require.NoError(t, err)
	records, err := col.Get(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a.pdf", records[0]["filename"])

	require.NoError(t, s.Delete(ctx, "docs"))
	require.NoError(t, s.Delete(ctx, "docs"), "Deleting twice is fine")

	col, err = s.GetOrCreate(ctx, "docs")
	require.NoError(t, err)
	records, err = col.Get(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}
