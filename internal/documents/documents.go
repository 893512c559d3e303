// Package documents summarises the chunks of a collection per source file.
package documents

import (
	"context"
	"log/slog"
	"sort"

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/logging"
)

// DefaultLimit bounds how many chunk records List scans.
const DefaultLimit = 10000

// Aggregate groups chunk metadata by filename. Records without a filename are
// skipped. Pages are unique and ascending; the source is the first non-empty
// one seen. The result is sorted by filename.
func Aggregate(records []domain.Metadata) []domain.DocumentInfo {
	type acc struct {
		info  domain.DocumentInfo
		pages map[int]struct{}
	}
	groups := map[string]*acc{}
	for _, md := range records {
		cm := domain.ChunkMetadataFrom(md)
		if cm.Filename == "" {
			continue
		}
		g, ok := groups[cm.Filename]
		if !ok {
			g = &acc{info: domain.DocumentInfo{Filename: cm.Filename}, pages: map[int]struct{}{}}
			groups[cm.Filename] = g
		}
		g.info.NumChunks++
		if g.info.Source == "" {
			g.info.Source = cm.Source
		}
		if cm.Page != nil {
			g.pages[*cm.Page] = struct{}{}
		}
	}

	out := make([]domain.DocumentInfo, 0, len(groups))
	for _, g := range groups {
		pages := make([]int, 0, len(g.pages))
		for p := range g.pages {
			pages = append(pages, p)
		}
		sort.Ints(pages)
		g.info.Pages = pages
		out = append(out, g.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// Service lists the documents of a collection.
type Service struct {
	store  domain.VectorStore
	limit  int
	logger *slog.Logger
}

// NewService creates a Service. A non-positive limit means DefaultLimit.
func NewService(store domain.VectorStore, limit int, logger *slog.Logger) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{store: store, limit: limit, logger: logging.OrDiscard(logger)}
}

// List scans at most the configured number of records of collection and
// aggregates them. A collection that does not exist yet lists as empty.
func (s *Service) List(ctx context.Context, collection string) ([]domain.DocumentInfo, error) {
	if collection == "" {
		return nil, apperr.Invalid("list documents", "collection is required")
	}
	col, err := s.store.GetOrCreate(ctx, collection)
	if err != nil {
		return nil, apperr.Upstream("list documents", err)
	}
	records, err := col.Get(ctx, s.limit)
	if err != nil {
		return nil, apperr.Upstream("list documents", err)
	}
	if len(records) == s.limit {
		s.logger.Warn("document listing truncated", "collection", collection, "limit", s.limit)
	}
	docs := Aggregate(records)
	s.logger.Debug("documents listed", "collection", collection, "records", len(records), "documents", len(docs))
	return docs, nil
}
