// Package memory is an in-process vector store using brute-force cosine distance.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/filter"
	"docrag/internal/vectorstore"
)

// Store keeps collections in memory. A single RWMutex guards all of them.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type record struct {
	document  string
	embedding []float32
	metadata  domain.Metadata
	seq       int
}

type collection struct {
	store     *Store
	name      string
	dimension int
	records   map[string]*record
	nextSeq   int
}

// NewStore creates an empty store.
func NewStore() *Store { return &Store{collections: map[string]*collection{}} }

// GetOrCreate returns the named collection, creating it when missing.
func (s *Store) GetOrCreate(_ context.Context, name string) (domain.Collection, error) {
	if name == "" {
		return nil, apperr.Invalid("memory get collection", "collection name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &collection{store: s, name: name, records: map[string]*record{}}
		s.collections[name] = c
	}
	return c, nil
}

// Delete drops the named collection. Missing collections are ignored.
func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		// handles held by callers keep pointing at the dropped data
		c.records = map[string]*record{}
		c.dimension = 0
		delete(s.collections, name)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (c *collection) Name() string { return c.name }

// Upsert inserts or replaces records by id. All embeddings in a collection
// share the dimension of the first one stored.
func (c *collection) Upsert(_ context.Context, ids, documents []string, embeddings [][]float32, metadatas []domain.Metadata) error {
	if err := domain.ValidateUpsert(ids, documents, embeddings, metadatas); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	dim := c.dimension
	for i, v := range embeddings {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return apperr.Invalid("memory upsert", "embedding %q has dimension %d, collection uses %d", ids[i], len(v), dim)
		}
	}
	c.dimension = dim
	for i, id := range ids {
		seq := c.nextSeq
		if old, ok := c.records[id]; ok {
			seq = old.seq
		} else {
			c.nextSeq++
		}
		c.records[id] = &record{
			document:  documents[i],
			embedding: append([]float32(nil), embeddings[i]...),
			metadata:  maps.Clone(metadatas[i]),
			seq:       seq,
		}
	}
	return nil
}

// Query returns the k nearest records that match where.
func (c *collection) Query(_ context.Context, embedding []float32, k int, where filter.Condition) (domain.QueryResult, error) {
	if k <= 0 {
		return domain.QueryResult{}, apperr.Invalid("memory query", "k must be > 0")
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	if c.dimension != 0 && len(embedding) != c.dimension {
		return domain.QueryResult{}, apperr.Invalid("memory query", "query has dimension %d, collection uses %d", len(embedding), c.dimension)
	}
	hits := make([]vectorstore.Hit, 0, len(c.records))
	for _, id := range c.orderedIDs() {
		r := c.records[id]
		if !filter.Match(where, r.metadata) {
			continue
		}
		hits = append(hits, vectorstore.Hit{
			ID:       id,
			Document: r.document,
			Metadata: maps.Clone(r.metadata),
			Distance: vectorstore.CosineDistance(embedding, r.embedding),
		})
	}
	return vectorstore.Result(vectorstore.Nearest(hits, k)), nil
}

// Get returns up to limit metadata records in insertion order.
func (c *collection) Get(_ context.Context, limit int) ([]domain.Metadata, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	ids := c.orderedIDs()
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]domain.Metadata, len(ids))
	for i, id := range ids {
		out[i] = maps.Clone(c.records[id].metadata)
	}
	return out, nil
}

// orderedIDs must be called with the store lock held.
func (c *collection) orderedIDs() []string {
	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return c.records[ids[i]].seq < c.records[ids[j]].seq })
	return ids
}
