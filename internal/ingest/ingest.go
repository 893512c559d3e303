// Package ingest loads, chunks, embeds and stores documents.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"docrag/internal/apperr"
	"docrag/internal/chunker"
	"docrag/internal/domain"
	"docrag/internal/logging"
)

// Request describes one ingestion run.
type Request struct {
	// Patterns are exact file paths or doublestar globs such as "data/**/*.pdf".
	Patterns     []string
	Collection   string
	ChunkSize    int
	ChunkOverlap int
	Mode         chunker.Mode
	// Reset drops the collection before ingesting.
	Reset bool
}

// FileResult is the outcome for one ingested file.
type FileResult struct {
	Path   string `json:"path"`
	Chunks int    `json:"chunks"`
}

// Result summarises a run. Total may be zero.
type Result struct {
	Collection string       `json:"collection"`
	Total      int          `json:"total_chunks"`
	Files      []FileResult `json:"files"`
	Skipped    []string     `json:"skipped,omitempty"`
}

// Pipeline wires a loader, an embedder and a vector store.
type Pipeline struct {
	loader   domain.PageLoader
	embedder domain.Embedder
	store    domain.VectorStore
	logger   *slog.Logger
}

func NewPipeline(loader domain.PageLoader, embedder domain.Embedder, store domain.VectorStore, logger *slog.Logger) *Pipeline {
	return &Pipeline{loader: loader, embedder: embedder, store: store, logger: logging.OrDiscard(logger)}
}

// Ingest runs the request. Parameters, patterns and extensions are checked
// before the store is touched. An embedding or store failure stops the run;
// files upserted before it stay committed.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	res := Result{Collection: req.Collection}
	if req.Collection == "" {
		return res, apperr.Invalid("ingest", "collection is required")
	}
	if err := chunker.Validate(req.Mode, req.ChunkSize, req.ChunkOverlap); err != nil {
		return res, err
	}
	paths, err := ResolvePaths(req.Patterns)
	if err != nil {
		return res, err
	}
	for _, path := range paths {
		if !p.loader.Supported(path) {
			return res, apperr.Wrap(apperr.InvalidArgument, "ingest "+path, apperr.ErrUnsupportedExtension)
		}
	}
	p.logger.Info("files to ingest", "collection", req.Collection, "count", len(paths), "files", paths)

	if req.Reset {
		if err := p.store.Delete(ctx, req.Collection); err != nil && apperr.KindOf(err) != apperr.NotFound {
			return res, apperr.Upstream("reset collection", err)
		}
		p.logger.Info("collection reset", "collection", req.Collection)
	}
	col, err := p.store.GetOrCreate(ctx, req.Collection)
	if err != nil {
		return res, apperr.Upstream("open collection", err)
	}

	for _, path := range paths {
		start := time.Now()
		docs, metas, ids, err := p.buildChunks(path, req)
		if err != nil {
			return res, err
		}
		if len(docs) == 0 {
			p.logger.Warn("no text found, skipping", "path", path)
			res.Skipped = append(res.Skipped, path)
			continue
		}

		embeddings := make([][]float32, len(docs))
		for i, doc := range docs {
			vec, err := p.embedder.Embed(ctx, doc)
			if err != nil {
				return res, apperr.Upstream(fmt.Sprintf("embed %s", ids[i]), err)
			}
			embeddings[i] = vec
		}
		if err := col.Upsert(ctx, ids, docs, embeddings, metas); err != nil {
			return res, apperr.Upstream("upsert "+path, err)
		}

		res.Files = append(res.Files, FileResult{Path: path, Chunks: len(docs)})
		res.Total += len(docs)
		p.logger.Info("file ingested",
			"path", path,
			"chunks", len(docs),
			"collection", req.Collection,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	if res.Total == 0 {
		p.logger.Warn("no chunks generated from any file, nothing ingested", "collection", req.Collection)
	} else {
		p.logger.Info("ingestion finished", "collection", req.Collection, "total_chunks", res.Total, "files", len(res.Files))
	}
	return res, nil
}

// buildChunks splits every page of path and derives ids and metadata. Ids
// use the per-page index; chunk_number runs across the whole file.
func (p *Pipeline) buildChunks(path string, req Request) (docs []string, metas []domain.Metadata, ids []string, err error) {
	pages, err := p.loader.LoadPages(path)
	if err != nil {
		return nil, nil, nil, err
	}
	filename := filepath.Base(path)
	counter := 0
	words := 0
	for _, page := range pages {
		words += len(strings.Fields(page.Text))
		chunks, err := chunker.Split(req.Mode, page.Text, req.ChunkSize, req.ChunkOverlap)
		if err != nil {
			return nil, nil, nil, err
		}
		for localIdx, chunk := range chunks {
			pageNum, chunkNum := page.Number, counter
			md := domain.ChunkMetadata{Source: path, Filename: filename, Page: &pageNum, ChunkNumber: &chunkNum}
			ids = append(ids, fmt.Sprintf("%s-p%d-c%d", filename, page.Number, localIdx))
			docs = append(docs, chunk)
			metas = append(metas, md.ToMetadata())
			counter++
		}
	}
	p.logger.Debug("file chunked", "filename", filename, "pages", len(pages), "words", words, "chunks", len(docs))
	return docs, metas, ids, nil
}

// ResolvePaths expands patterns into existing regular files, deduplicated and
// sorted. A pattern naming an existing file is taken as is; anything else is
// matched as a glob. Nothing matching gives NotFound.
func ResolvePaths(patterns []string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	add := func(path string) {
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			return
		}
		key := filepath.Clean(path)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, path)
	}
	for _, pattern := range patterns {
		if info, err := os.Stat(pattern); err == nil && info.Mode().IsRegular() {
			add(pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, apperr.Invalid("resolve paths", "bad pattern %q: %v", pattern, err)
		}
		for _, m := range matches {
			add(m)
		}
	}
	if len(out) == 0 {
		return nil, apperr.Wrap(apperr.NotFound, fmt.Sprintf("resolve %v", patterns), apperr.ErrNoFilesMatched)
	}
	sort.Strings(out)
	return out, nil
}
