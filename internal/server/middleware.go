package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"docrag/internal/telemetry"
)

const requestIDHeader = "X-Request-ID"

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// middleware tags each request with an ID and a call recorder, recovers
// panics, and logs one line per request.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		rec := telemetry.NewRecorder()
		r = r.WithContext(telemetry.WithRecorder(r.Context(), rec))
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic while serving request", "path", r.URL.Path, "request_id", reqID, "panic", p)
				if !sw.wrote {
					writeJSON(sw, http.StatusInternalServerError, map[string]any{"detail": "Internal server error"})
				}
			}
			s.logger.Info("request_completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", telemetry.Since(start),
				"request_id", reqID,
				"llm_calls", len(rec.Calls()),
			)
		}()
		next.ServeHTTP(sw, r)
	})
}
