// Package sqlite is a durable vector store on top of modernc.org/sqlite.
// Embeddings are kept as float32 BLOBs and ranked in process, which suits
// single-machine corpora of a few hundred thousand chunks.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/filter"
	"docrag/internal/logging"
	"docrag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
    name TEXT PRIMARY KEY,
    dimension INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS chunks (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    document TEXT NOT NULL,
    metadata TEXT NOT NULL,
    embedding BLOB NOT NULL,
    PRIMARY KEY (collection, id)
);
`

// Store is a SQLite-backed vector store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, apperr.Invalid("sqlite open", "path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, apperr.Upstream("sqlite open", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.Upstream("sqlite open", err)
	}
	// one connection keeps writers serialised and an in-memory database shared
	db.SetMaxOpenConns(1)
	s, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and ensures the schema exists.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, apperr.Invalid("sqlite", "db is nil")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, apperr.Upstream("sqlite schema", err)
	}
	return &Store{db: db, logger: logging.OrDiscard(logger)}, nil
}

type collection struct {
	store *Store
	name  string
}

func (s *Store) GetOrCreate(ctx context.Context, name string) (domain.Collection, error) {
	if name == "" {
		return nil, apperr.Invalid("sqlite get collection", "collection name is required")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO collections(name) VALUES(?)`, name); err != nil {
		return nil, apperr.Upstream("sqlite get collection", err)
	}
	return &collection{store: s, name: name}, nil
}

// Delete removes the collection and its chunks. Missing collections are ignored.
func (s *Store) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Upstream("sqlite delete", err)
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, name)
	if err != nil {
		return apperr.Upstream("sqlite delete", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return apperr.Upstream("sqlite delete", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Upstream("sqlite delete", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("sqlite collection deleted", "collection", name, "chunks", n)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (c *collection) Name() string { return c.name }

// Upsert writes the batch in one transaction. Re-used ids are overwritten in
// place and keep their original position.
func (c *collection) Upsert(ctx context.Context, ids, documents []string, embeddings [][]float32, metadatas []domain.Metadata) error {
	if err := domain.ValidateUpsert(ids, documents, embeddings, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Upstream("sqlite upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	var dim int
	err = tx.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, c.name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		// the collection was deleted after this handle was obtained
		_, err = tx.ExecContext(ctx, `INSERT INTO collections(name) VALUES(?)`, c.name)
	}
	if err != nil {
		return apperr.Upstream("sqlite upsert", err)
	}
	if dim == 0 {
		dim = len(embeddings[0])
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET dimension = ? WHERE name = ?`, dim, c.name); err != nil {
			return apperr.Upstream("sqlite upsert", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks(collection, id, document, metadata, embedding) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET document = excluded.document, metadata = excluded.metadata, embedding = excluded.embedding`)
	if err != nil {
		return apperr.Upstream("sqlite upsert", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		if len(embeddings[i]) != dim {
			return apperr.Invalid("sqlite upsert", "embedding %q has dimension %d, collection uses %d", id, len(embeddings[i]), dim)
		}
		md, err := json.Marshal(metadatas[i])
		if err != nil {
			return apperr.Invalid("sqlite upsert", "metadata for %q: %v", id, err)
		}
		if _, err := stmt.ExecContext(ctx, c.name, id, documents[i], string(md), vectorstore.EncodeVector(embeddings[i])); err != nil {
			return apperr.Upstream("sqlite upsert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Upstream("sqlite upsert", err)
	}
	return nil
}

// Query scans the collection and returns the k nearest rows matching where.
func (c *collection) Query(ctx context.Context, embedding []float32, k int, where filter.Condition) (domain.QueryResult, error) {
	if k <= 0 {
		return domain.QueryResult{}, apperr.Invalid("sqlite query", "k must be > 0")
	}
	var dim int
	err := c.store.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, c.name).Scan(&dim)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.QueryResult{}, nil
	case err != nil:
		return domain.QueryResult{}, apperr.Upstream("sqlite query", err)
	case dim != 0 && len(embedding) != dim:
		return domain.QueryResult{}, apperr.Invalid("sqlite query", "query has dimension %d, collection uses %d", len(embedding), dim)
	}
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT id, document, metadata, embedding FROM chunks WHERE collection = ? ORDER BY rowid`, c.name)
	if err != nil {
		return domain.QueryResult{}, apperr.Upstream("sqlite query", err)
	}
	defer rows.Close()

	var hits []vectorstore.Hit
	for rows.Next() {
		var (
			h    vectorstore.Hit
			blob []byte
		)
		if err := rows.Scan(&h.ID, &h.Document, &h.Metadata, &blob); err != nil {
			return domain.QueryResult{}, apperr.Upstream("sqlite query", err)
		}
		if !filter.Match(where, h.Metadata) {
			continue
		}
		vec, err := vectorstore.DecodeVector(blob)
		if err != nil {
			return domain.QueryResult{}, apperr.Integrity("sqlite query", "chunk %q: %v", h.ID, err)
		}
		h.Distance = vectorstore.CosineDistance(embedding, vec)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return domain.QueryResult{}, apperr.Upstream("sqlite query", err)
	}
	return vectorstore.Result(vectorstore.Nearest(hits, k)), nil
}

// Get returns up to limit metadata records in insertion order. A
// non-positive limit returns everything.
func (c *collection) Get(ctx context.Context, limit int) ([]domain.Metadata, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT metadata FROM chunks WHERE collection = ? ORDER BY rowid LIMIT ?`, c.name, limit)
	if err != nil {
		return nil, apperr.Upstream("sqlite get", err)
	}
	defer rows.Close()

	var out []domain.Metadata
	for rows.Next() {
		var md domain.Metadata
		if err := rows.Scan(&md); err != nil {
			return nil, apperr.Upstream("sqlite get", err)
		}
		out = append(out, md)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Upstream("sqlite get", err)
	}
	return out, nil
}
