// Package service composes retrieval, prompting and completion into the
// operations exposed by the CLI and the HTTP API.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"docrag/internal/answer"
	"docrag/internal/apperr"
	"docrag/internal/documents"
	"docrag/internal/domain"
	"docrag/internal/ingest"
	"docrag/internal/logging"
	"docrag/internal/prompt"
	"docrag/internal/retrieval"
)

// NoContextAnswer is returned when retrieval finds nothing. The model is not called.
const NoContextAnswer = "I couldn't find any relevant context to answer this question."

// AskSystemPrompt is the system message for plain questions.
const AskSystemPrompt = "You are a concise assistant"

// Options bounds the service. Zero values fall back to the defaults below.
type Options struct {
	Collection     string
	DefaultTopK    int
	MaxTopK        int
	MaxQueryChars  int
	DocumentsLimit int
}

func (o Options) withDefaults() Options {
	if o.Collection == "" {
		o.Collection = "docs"
	}
	if o.DefaultTopK <= 0 {
		o.DefaultTopK = 6
	}
	if o.MaxTopK <= 0 {
		o.MaxTopK = 20
	}
	if o.DefaultTopK > o.MaxTopK {
		o.DefaultTopK = o.MaxTopK
	}
	if o.MaxQueryChars <= 0 {
		o.MaxQueryChars = 2000
	}
	return o
}

// AnswerRequest is one grounded question.
type AnswerRequest struct {
	Question   string
	TopK       int
	Filename   string
	Filter     map[string]any
	Collection string
}

// RAGService is built from explicit collaborators and holds no global state.
type RAGService struct {
	embedder  domain.Embedder
	completer domain.Completer
	engine    *retrieval.Engine
	pipeline  *ingest.Pipeline
	docs      *documents.Service
	opts      Options
	logger    *slog.Logger
}

func NewRAGService(embedder domain.Embedder, completer domain.Completer, store domain.VectorStore, loader domain.PageLoader, opts Options, logger *slog.Logger) *RAGService {
	logger = logging.OrDiscard(logger)
	opts = opts.withDefaults()
	return &RAGService{
		embedder:  embedder,
		completer: completer,
		engine:    retrieval.NewEngine(embedder, store, logger),
		pipeline:  ingest.NewPipeline(loader, embedder, store, logger),
		docs:      documents.NewService(store, opts.DocumentsLimit, logger),
		opts:      opts,
		logger:    logger,
	}
}

// Options returns the effective limits.
func (s *RAGService) Options() Options { return s.opts }

// Answer retrieves context for the question, asks the completer for a
// grounded reply and parses it. Citation [i] in the answer refers to Sources[i].
func (s *RAGService) Answer(ctx context.Context, req AnswerRequest) (domain.RagAnswer, error) {
	question, err := s.checkQuestion("answer", req.Question)
	if err != nil {
		return domain.RagAnswer{}, err
	}
	start := time.Now()
	chunks, err := s.Search(ctx, retrieval.Query{
		Text:       question,
		Collection: req.Collection,
		K:          req.TopK,
		Filename:   req.Filename,
		Filter:     req.Filter,
	})
	if err != nil {
		return domain.RagAnswer{}, err
	}
	if len(chunks) == 0 {
		s.logger.Info("no context retrieved", "collection", s.collection(req.Collection))
		return domain.RagAnswer{Answer: NoContextAnswer, Sources: []domain.Chunk{}}, nil
	}

	p := prompt.BuildRAGPrompt(question, prompt.BuildContext(chunks))
	raw, err := s.completer.Complete(ctx, p)
	if err != nil {
		return domain.RagAnswer{}, apperr.Upstream("complete", err)
	}
	text, summary := answer.Parse(raw)
	s.logger.Info("rag answer",
		"prompt_version", prompt.Version,
		"completer", s.completer.Name(),
		"sources", len(chunks),
		"has_summary", summary != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return domain.RagAnswer{Answer: text, Summary: summary, Sources: chunks}, nil
}

// Search runs retrieval with the service defaults. K <= 0 means the default
// top-k, and K is capped at the maximum.
func (s *RAGService) Search(ctx context.Context, q retrieval.Query) ([]domain.Chunk, error) {
	q.Collection = s.collection(q.Collection)
	q.K = s.topK(q.K)
	if utf8.RuneCountInString(q.Text) > s.opts.MaxQueryChars {
		return nil, apperr.Invalid("search", "query exceeds %d characters", s.opts.MaxQueryChars)
	}
	return s.engine.Search(ctx, q)
}

// Ask sends a plain question to the completer, without retrieval.
func (s *RAGService) Ask(ctx context.Context, question string) (string, error) {
	question, err := s.checkQuestion("ask", question)
	if err != nil {
		return "", err
	}
	var out string
	if sc, ok := s.completer.(domain.SystemCompleter); ok {
		out, err = sc.CompleteWithSystem(ctx, AskSystemPrompt, question)
	} else {
		out, err = s.completer.Complete(ctx, question)
	}
	if err != nil {
		return "", apperr.Upstream("ask", err)
	}
	return strings.TrimSpace(out), nil
}

// StreamChat streams a completion for prompt. The caller must drain or close the stream.
func (s *RAGService) StreamChat(ctx context.Context, p string) (*domain.TokenStream, error) {
	if strings.TrimSpace(p) == "" {
		return nil, apperr.Invalid("stream chat", "prompt is required")
	}
	stream, err := s.completer.Stream(ctx, p)
	if err != nil {
		return nil, apperr.Upstream("stream chat", err)
	}
	return stream, nil
}

// Embed returns the embedding of text.
func (s *RAGService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Invalid("embed", "text is required")
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, apperr.Upstream("embed", err)
	}
	return vec, nil
}

// Ingest runs the ingestion pipeline. An empty collection means the default one.
func (s *RAGService) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	req.Collection = s.collection(req.Collection)
	return s.pipeline.Ingest(ctx, req)
}

// ListDocuments aggregates the chunks of a collection per file.
func (s *RAGService) ListDocuments(ctx context.Context, collection string) ([]domain.DocumentInfo, error) {
	return s.docs.List(ctx, s.collection(collection))
}

func (s *RAGService) checkQuestion(op, q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", apperr.Invalid(op, "question is required")
	}
	if utf8.RuneCountInString(q) > s.opts.MaxQueryChars {
		return "", apperr.Invalid(op, "question exceeds %d characters", s.opts.MaxQueryChars)
	}
	return q, nil
}

func (s *RAGService) collection(name string) string {
	if name == "" {
		return s.opts.Collection
	}
	return name
}

func (s *RAGService) topK(k int) int {
	if k <= 0 {
		return s.opts.DefaultTopK
	}
	if k > s.opts.MaxTopK {
		return s.opts.MaxTopK
	}
	return k
}
