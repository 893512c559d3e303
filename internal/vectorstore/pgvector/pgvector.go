// Package pgvector is a vector store on PostgreSQL with the pgvector extension.
// Metadata is stored as JSONB and filters are translated to SQL.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/filter"
	"docrag/internal/logging"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS rag_collections (
    name TEXT PRIMARY KEY,
    dimension INT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS rag_chunks (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    seq BIGSERIAL,
    document TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    embedding vector NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS rag_chunks_metadata_idx ON rag_chunks USING GIN (metadata);
ALTER TABLE rag_collections ADD COLUMN IF NOT EXISTS dimension INT;
`

// Store is a Postgres-backed vector store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, apperr.Invalid("pgvector open", "dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperr.Upstream("pgvector open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperr.Upstream("pgvector ping", err)
	}
	s, err := New(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and ensures the schema exists.
func New(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, apperr.Invalid("pgvector", "db is nil")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, apperr.Upstream("pgvector schema", err)
	}
	s := &Store{db: db, logger: logging.OrDiscard(logger)}
	s.logger.Info("Checked/created table rag_chunks")
	return s, nil
}

type collection struct {
	store *Store
	name  string
}

func (s *Store) GetOrCreate(ctx context.Context, name string) (domain.Collection, error) {
	if name == "" {
		return nil, apperr.Invalid("pgvector get collection", "collection name is required")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO rag_collections(name) VALUES($1) ON CONFLICT DO NOTHING`, name); err != nil {
		return nil, apperr.Upstream("pgvector get collection", err)
	}
	return &collection{store: s, name: name}, nil
}

// Delete removes the collection and its chunks. Missing collections are ignored.
func (s *Store) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Upstream("pgvector delete", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM rag_chunks WHERE collection = $1`, name); err != nil {
		return apperr.Upstream("pgvector delete", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rag_collections WHERE name = $1`, name); err != nil {
		return apperr.Upstream("pgvector delete", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Upstream("pgvector delete", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (c *collection) Name() string { return c.name }

func (c *collection) Upsert(ctx context.Context, ids, documents []string, embeddings [][]float32, metadatas []domain.Metadata) error {
	if err := domain.ValidateUpsert(ids, documents, embeddings, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Upstream("pgvector upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	dim := len(embeddings[0])
	for i, e := range embeddings {
		if len(e) != dim {
			return apperr.Invalid("pgvector upsert", "embedding %d has dimension %d, want %d", i, len(e), dim)
		}
	}
	// first writer fixes the dimension
	var stored int
	err = tx.QueryRowContext(ctx, `INSERT INTO rag_collections(name, dimension) VALUES($1, $2)
ON CONFLICT (name) DO UPDATE SET dimension = COALESCE(rag_collections.dimension, EXCLUDED.dimension)
RETURNING dimension`, c.name, dim).Scan(&stored)
	if err != nil {
		return apperr.Upstream("pgvector upsert", err)
	}
	if stored != dim {
		return apperr.Invalid("pgvector upsert", "collection %q has dimension %d, got %d", c.name, stored, dim)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO rag_chunks(collection, id, document, metadata, embedding)
VALUES($1, $2, $3, $4::jsonb, $5)
ON CONFLICT (collection, id) DO UPDATE SET document = EXCLUDED.document, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`)
	if err != nil {
		return apperr.Upstream("pgvector upsert", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		md, err := json.Marshal(metadatas[i])
		if err != nil {
			return apperr.Invalid("pgvector upsert", "metadata for %q: %v", id, err)
		}
		if _, err := stmt.ExecContext(ctx, c.name, id, documents[i], string(md), pgvector.NewVector(embeddings[i])); err != nil {
			return apperr.Upstream("pgvector upsert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Upstream("pgvector upsert", err)
	}
	return nil
}

// Query orders by cosine distance (<=>), breaking ties by insertion order.
func (c *collection) Query(ctx context.Context, embedding []float32, k int, where filter.Condition) (domain.QueryResult, error) {
	if k <= 0 {
		return domain.QueryResult{}, apperr.Invalid("pgvector query", "k must be > 0")
	}
	var dim sql.NullInt64
	err := c.store.db.QueryRowContext(ctx, `SELECT dimension FROM rag_collections WHERE name = $1`, c.name).Scan(&dim)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.QueryResult{}, nil
	case err != nil:
		return domain.QueryResult{}, apperr.Upstream("pgvector query", err)
	case !dim.Valid:
		return domain.QueryResult{}, nil
	case int(dim.Int64) != len(embedding):
		return domain.QueryResult{}, apperr.Invalid("pgvector query", "query has dimension %d, collection %q has %d", len(embedding), c.name, dim.Int64)
	}
	args := []any{c.name, pgvector.NewVector(embedding), k}
	clause := "TRUE"
	if where != nil {
		var extra []any
		clause, extra = WhereSQL(where, len(args)+1)
		args = append(args, extra...)
	}
	q := fmt.Sprintf(`SELECT id, document, metadata, embedding <=> $2 AS distance
FROM rag_chunks
WHERE collection = $1 AND %s
ORDER BY distance, seq
LIMIT $3`, clause)

	rows, err := c.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return domain.QueryResult{}, apperr.Upstream("pgvector query", err)
	}
	defer rows.Close()

	var res domain.QueryResult
	for rows.Next() {
		var (
			id, doc string
			md      domain.Metadata
			dist    float64
		)
		if err := rows.Scan(&id, &doc, &md, &dist); err != nil {
			return domain.QueryResult{}, apperr.Upstream("pgvector query", err)
		}
		res.IDs = append(res.IDs, id)
		res.Documents = append(res.Documents, doc)
		res.Metadatas = append(res.Metadatas, md)
		res.Distances = append(res.Distances, dist)
	}
	if err := rows.Err(); err != nil {
		return domain.QueryResult{}, apperr.Upstream("pgvector query", err)
	}
	return res, nil
}

func (c *collection) Get(ctx context.Context, limit int) ([]domain.Metadata, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT metadata FROM rag_chunks WHERE collection = $1 ORDER BY seq LIMIT $2`, c.name, lim)
	if err != nil {
		return nil, apperr.Upstream("pgvector get", err)
	}
	defer rows.Close()

	var out []domain.Metadata
	for rows.Next() {
		var md domain.Metadata
		if err := rows.Scan(&md); err != nil {
			return nil, apperr.Upstream("pgvector get", err)
		}
		out = append(out, md)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Upstream("pgvector get", err)
	}
	return out, nil
}

// WhereSQL renders c as a boolean SQL expression over the metadata column.
// Placeholders are numbered from start. A missing key never matches.
func WhereSQL(c filter.Condition, start int) (string, []any) {
	w := &whereBuilder{next: start}
	return w.build(c), w.args
}

type whereBuilder struct {
	next int
	args []any
}

func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	w.next++
	return fmt.Sprintf("$%d", w.next-1)
}

func (w *whereBuilder) contains(key string, value any) string {
	data, _ := json.Marshal(map[string]any{key: value})
	return "metadata @> " + w.arg(string(data)) + "::jsonb"
}

func (w *whereBuilder) build(c filter.Condition) string {
	switch v := c.(type) {
	case nil:
		return "TRUE"
	case filter.Equality:
		return w.contains(v.Key, v.Value)
	case filter.Combinator:
		parts := make([]string, 0, len(v.Conditions))
		for _, sub := range v.Conditions {
			parts = append(parts, w.build(sub))
		}
		sep := " AND "
		if v.Op == filter.Or {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")"
	case filter.Operator:
		return w.operator(v)
	}
	return "FALSE"
}

func (w *whereBuilder) operator(o filter.Operator) string {
	switch o.Op {
	case filter.OpEq:
		return w.contains(o.Key, o.Value)
	case filter.OpNe:
		exists := "metadata ? " + w.arg(o.Key)
		return "(" + exists + " AND NOT " + w.contains(o.Key, o.Value) + ")"
	case filter.OpIn, filter.OpNin:
		items, _ := filter.List(o.Value)
		var alts []string
		for _, it := range items {
			alts = append(alts, w.contains(o.Key, it))
		}
		inList := "FALSE"
		if len(alts) > 0 {
			inList = "(" + strings.Join(alts, " OR ") + ")"
		}
		if o.Op == filter.OpIn {
			return inList
		}
		return "(metadata ? " + w.arg(o.Key) + " AND NOT " + inList + ")"
	}
	sqlOp := map[filter.Op]string{filter.OpGt: ">", filter.OpGte: ">=", filter.OpLt: "<", filter.OpLte: "<="}[o.Op]
	n, ok := filter.Number(o.Value)
	if sqlOp == "" || !ok {
		return "FALSE"
	}
	key := w.arg(o.Key)
	return fmt.Sprintf("(CASE WHEN jsonb_typeof(metadata->%s) = 'number' THEN (metadata->>%s)::float8 %s %s ELSE FALSE END)",
		key, key, sqlOp, w.arg(n))
}
