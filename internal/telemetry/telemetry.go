// Package telemetry records model calls for the request that caused them.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Operation names used in call logs.
const (
	OpChat       = "chat.completions"
	OpChatStream = "chat.completions.stream"
	OpEmbeddings = "embeddings"
)

// CallLog describes one call to a model provider. Zero token counts mean the
// provider did not report usage.
type CallLog struct {
	Provider         string  `json:"provider"`
	Operation        string  `json:"operation"`
	RequestedModel   string  `json:"requested_model"`
	ActualModel      string  `json:"actual_model,omitempty"`
	LatencyMS        float64 `json:"latency_ms"`
	PromptTokens     int64   `json:"prompt_tokens,omitempty"`
	CompletionTokens int64   `json:"completion_tokens,omitempty"`
	TotalTokens      int64   `json:"total_tokens,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// LogValue renders the call as a slog group.
func (c CallLog) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("provider", c.Provider),
		slog.String("operation", c.Operation),
		slog.String("requested_model", c.RequestedModel),
		slog.Float64("latency_ms", c.LatencyMS),
	}
	if c.ActualModel != "" {
		attrs = append(attrs, slog.String("actual_model", c.ActualModel))
	}
	if c.TotalTokens > 0 {
		attrs = append(attrs,
			slog.Int64("prompt_tokens", c.PromptTokens),
			slog.Int64("completion_tokens", c.CompletionTokens),
			slog.Int64("total_tokens", c.TotalTokens),
		)
	}
	if c.Error != "" {
		attrs = append(attrs, slog.String("error", c.Error))
	}
	return slog.GroupValue(attrs...)
}

// Recorder collects the calls made while serving one request.
type Recorder struct {
	mu    sync.Mutex
	calls []CallLog
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Add appends a call.
func (r *Recorder) Add(c CallLog) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []CallLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallLog, len(r.calls))
	copy(out, r.calls)
	return out
}

type recorderKey struct{}

// WithRecorder attaches r to ctx.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// FromContext returns the recorder attached to ctx, or nil.
func FromContext(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}

// Record stores c on the request recorder, if any, and logs it.
func Record(ctx context.Context, logger *slog.Logger, c CallLog) {
	if r := FromContext(ctx); r != nil {
		r.Add(c)
	}
	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "llm_call", slog.Any("call", c))
	}
}

// Since returns the elapsed milliseconds since start.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
