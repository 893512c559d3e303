package pgvector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docrag/internal/filter"
)

func TestWhereSQL(t *testing.T) {
	t.Run("Equality uses containment", func(t *testing.T) {
		sql, args := WhereSQL(filter.Eq("filename", "a.pdf"), 4)
		assert.Equal(t, "metadata @> $4::jsonb", sql)
		assert.Equal(t, []any{`{"filename":"a.pdf"}`}, args)
	})

	t.Run("Range guards the JSON type", func(t *testing.T) {
		sql, args := WhereSQL(filter.Operator{Key: "page", Op: filter.OpGt, Value: 1}, 1)
		assert.Equal(t, "(CASE WHEN jsonb_typeof(metadata->$1) = 'number' THEN (metadata->>$1)::float8 > $2 ELSE FALSE END)", sql)
		assert.Equal(t, []any{"page", 1.0}, args)
	})

	t.Run("Not equal requires the key", func(t *testing.T) {
		sql, args := WhereSQL(filter.Operator{Key: "page", Op: filter.OpNe, Value: 2}, 1)
		assert.Equal(t, "(metadata ? $1 AND NOT metadata @> $2::jsonb)", sql)
		assert.Equal(t, []any{"page", `{"page":2}`}, args)
	})

	t.Run("In and not in", func(t *testing.T) {
		sql, _ := WhereSQL(filter.Operator{Key: "page", Op: filter.OpIn, Value: []any{1, 2}}, 1)
		assert.Equal(t, "(metadata @> $1::jsonb OR metadata @> $2::jsonb)", sql)

		sql, _ = WhereSQL(filter.Operator{Key: "page", Op: filter.OpIn, Value: []any{}}, 1)
		assert.Equal(t, "FALSE", sql)

		sql, args := WhereSQL(filter.Operator{Key: "page", Op: filter.OpNin, Value: []any{3}}, 1)
		assert.Equal(t, "(metadata ? $2 AND NOT (metadata @> $1::jsonb))", sql)
		assert.Equal(t, []any{`{"page":3}`, "page"}, args)
	})

	t.Run("Combinators nest", func(t *testing.T) {
		c := filter.Combinator{Op: filter.And, Conditions: []filter.Condition{
			filter.Eq("filename", "a.pdf"),
			filter.Combinator{Op: filter.Or, Conditions: []filter.Condition{filter.Eq("page", 1), filter.Eq("page", 3)}},
		}}
		sql, args := WhereSQL(c, 4)
		assert.Equal(t, "(metadata @> $4::jsonb AND (metadata @> $5::jsonb OR metadata @> $6::jsonb))", sql)
		assert.Len(t, args, 3)
	})

	t.Run("Nil matches everything", func(t *testing.T) {
		sql, args := WhereSQL(nil, 1)
		assert.Equal(t, "TRUE", sql)
		assert.Empty(t, args)
	})
}
