// Package server exposes the RAG service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docrag/internal/apperr"
	"docrag/internal/chunker"
	"docrag/internal/domain"
	"docrag/internal/ingest"
	"docrag/internal/logging"
	"docrag/internal/retrieval"
	"docrag/internal/service"
)

const maxBodyBytes = 1 << 20

// Defaults are applied to reindex requests that omit a field.
type Defaults struct {
	ChunkSize    int
	ChunkOverlap int
	Mode         chunker.Mode
}

type Server struct {
	svc      *service.RAGService
	defaults Defaults
	logger   *slog.Logger
	mux      *http.ServeMux
}

func New(svc *service.RAGService, defaults Defaults, logger *slog.Logger) *Server {
	s := &Server{svc: svc, defaults: defaults, logger: logging.OrDiscard(logger), mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("POST /ask", s.askHandler)
	s.mux.HandleFunc("POST /embed", s.embedHandler)
	s.mux.HandleFunc("POST /stream-chat", s.streamChatHandler)
	s.mux.HandleFunc("POST /rag-query", s.ragQueryHandler)
	s.mux.HandleFunc("POST /search", s.searchHandler)
	s.mux.HandleFunc("GET /admin/documents", s.documentsHandler)
	s.mux.HandleFunc("POST /admin/reindex", s.reindexHandler)
	return s
}

// Handler returns the routes wrapped in the request middleware.
func (s *Server) Handler() http.Handler { return s.middleware(s.mux) }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}
	answer, err := s.svc.Ask(r.Context(), req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answer": answer})
}

type embedRequest struct {
	Text string `json:"text"`
}

func (s *Server) embedHandler(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if !s.decode(w, r, &req) {
		return
	}
	vec, err := s.svc.Embed(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"embedding": vec})
}

type streamChatRequest struct {
	Prompt string `json:"prompt"`
}

// streamChatHandler writes tokens as plain text, flushing after each one.
// Once the first byte is out the status is fixed, so later failures are only logged.
func (s *Server) streamChatHandler(w http.ResponseWriter, r *http.Request) {
	var req streamChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	stream, err := s.svc.StreamChat(r.Context(), req.Prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for tok, err := range stream.All() {
		if err != nil {
			s.logger.Error("stream aborted", "path", r.URL.Path, "error", err)
			return
		}
		if _, err := w.Write([]byte(tok)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

type ragQueryRequest struct {
	Question   string         `json:"question"`
	TopK       *int           `json:"top_k"`
	Filename   string         `json:"filename"`
	Filter     map[string]any `json:"filter"`
	Collection string         `json:"collection"`
}

func (s *Server) ragQueryHandler(w http.ResponseWriter, r *http.Request) {
	var req ragQueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	var problems []string
	if len(strings.TrimSpace(req.Question)) < 3 {
		problems = append(problems, "question: must be at least 3 characters")
	}
	topK := 0
	if req.TopK != nil {
		topK = *req.TopK
		if maxK := s.svc.Options().MaxTopK; topK < 1 || topK > maxK {
			problems = append(problems, "top_k: must be between 1 and "+strconv.Itoa(maxK))
		}
	}
	if len(problems) > 0 {
		writeValidation(w, problems)
		return
	}
	ans, err := s.svc.Answer(r.Context(), service.AnswerRequest{
		Question:   req.Question,
		TopK:       topK,
		Filename:   req.Filename,
		Filter:     req.Filter,
		Collection: req.Collection,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

type searchRequest struct {
	Query      string         `json:"query"`
	TopK       int            `json:"top_k"`
	Filename   string         `json:"filename"`
	Filter     map[string]any `json:"filter"`
	Collection string         `json:"collection"`
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	chunks, err := s.svc.Search(r.Context(), retrieval.Query{
		Text:       strings.TrimSpace(req.Query),
		Collection: req.Collection,
		K:          req.TopK,
		Filename:   req.Filename,
		Filter:     req.Filter,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": chunks})
}

func (s *Server) documentsHandler(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	docs, err := s.svc.ListDocuments(r.Context(), collection)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, docs)
}

type reindexRequest struct {
	Paths        []string `json:"paths"`
	Collection   string   `json:"collection"`
	ChunkSize    *int     `json:"chunk_size"`
	ChunkOverlap *int     `json:"chunk_overlap"`
	Mode         string   `json:"mode"`
	Reset        bool     `json:"reset"`
}

func (s *Server) reindexHandler(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Paths) == 0 {
		writeValidation(w, []string{"paths: at least one path or pattern is required"})
		return
	}
	ir := ingest.Request{
		Patterns:     req.Paths,
		Collection:   req.Collection,
		ChunkSize:    s.defaults.ChunkSize,
		ChunkOverlap: s.defaults.ChunkOverlap,
		Mode:         s.defaults.Mode,
		Reset:        req.Reset,
	}
	if req.ChunkSize != nil {
		ir.ChunkSize = *req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		ir.ChunkOverlap = *req.ChunkOverlap
	}
	if req.Mode != "" {
		m, err := chunker.ParseMode(req.Mode)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ir.Mode = m
	}
	res, err := s.svc.Ingest(r.Context(), ir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection":   res.Collection,
		"total_chunks": res.Total,
		"files":        res.Files,
		"skipped":      res.Skipped,
	})
}

// decode reads a JSON body. On failure it writes a 422 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeValidation(w, []string{"body: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.UpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		detail = "Internal server error"
	} else {
		s.logger.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]any{"detail": detail})
}

func writeValidation(w http.ResponseWriter, problems []string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": "Invalid request payload",
		"errors": problems,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
