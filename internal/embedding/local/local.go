// Package local runs a sentence-transformer ONNX model in process with hugot.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"

	"docrag/internal/apperr"
)

// DefaultModel produces 384-dimensional embeddings.
const DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"

// Config configures the local embedder.
type Config struct {
	Model        string
	ModelDir     string
	OnnxFilePath string
}

// Embedder embeds text with a hugot feature-extraction pipeline.
type Embedder struct {
	name    string
	mu      sync.Mutex
	run     func([]string) ([][]float32, error)
	destroy func() error
}

// New prepares the model, downloading it on first use, and starts a pure-Go session.
func New(cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = "./models"
	}
	modelPath, err := PrepareModel(cfg.ModelDir, cfg.Model, cfg.OnnxFilePath)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "docrag-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	return &Embedder{
		name: cfg.Model,
		run: func(texts []string) ([][]float32, error) {
			out, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return out.Embeddings, nil
		},
		destroy: session.Destroy,
	}, nil
}

// Name returns the model name.
func (e *Embedder) Name() string { return "local:" + e.name }

// Embed runs the pipeline on a single text.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	embeddings, err := e.run([]string{text})
	if err != nil {
		return nil, apperr.Upstream("local embed", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, apperr.Upstream("local embed", fmt.Errorf("no embedding generated"))
	}
	return embeddings[0], nil
}

// Close releases the hugot session.
func (e *Embedder) Close() error {
	if e.destroy == nil {
		return nil
	}
	return e.destroy()
}

// PrepareModel returns the local directory of modelName under dir,
// downloading it from the Hugging Face hub when it is missing.
func PrepareModel(dir, modelName, onnxFilePath string) (string, error) {
	modelPath := filepath.Join(dir, strings.ReplaceAll(modelName, "/", "_"))
	if st, err := os.Stat(modelPath); err == nil && st.IsDir() {
		return modelPath, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	opts := hugot.NewDownloadOptions()
	if onnxFilePath != "" {
		opts.OnnxFilePath = onnxFilePath
	}
	downloaded, err := hugot.DownloadModel(modelName, dir, opts)
	if err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", modelName, err)
	}
	return downloaded, nil
}
