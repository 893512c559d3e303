// Package qdrant is a vector store backed by Qdrant's REST API.
// Collections use cosine distance and are created on first upsert, once the
// embedding dimension is known.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docrag/internal/apperr"
	"docrag/internal/domain"
	"docrag/internal/filter"
	"docrag/internal/logging"
)

// Store is a minimal REST client to Qdrant.
type Store struct {
	url    string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, apperr.Invalid("qdrant", "url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Store{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: hc,
		logger: logging.OrDiscard(cfg.Logger),
	}, nil
}

type collection struct {
	store *Store
	name  string

	mu      sync.Mutex
	ensured bool
}

// GetOrCreate returns a handle to the collection. Nothing is sent to Qdrant
// until the first upsert.
func (s *Store) GetOrCreate(_ context.Context, name string) (domain.Collection, error) {
	if name == "" {
		return nil, apperr.Invalid("qdrant get collection", "collection name is required")
	}
	return &collection{store: s, name: name}, nil
}

// Delete drops the collection. A missing collection is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.do(ctx, http.MethodDelete, s.collectionURL(name), nil, nil)
	if err != nil && !isNotFound(err) {
		return apperr.Upstream("qdrant delete", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (c *collection) Name() string { return c.name }

// PointID maps a chunk ID onto the UUID Qdrant requires. The mapping is stable
// so re-ingesting a chunk overwrites its point.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (c *collection) Upsert(ctx context.Context, ids, documents []string, embeddings [][]float32, metadatas []domain.Metadata) error {
	if err := domain.ValidateUpsert(ids, documents, embeddings, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := c.ensure(ctx, len(embeddings[0])); err != nil {
		return apperr.Upstream("qdrant create collection", err)
	}
	points := make([]map[string]any, len(ids))
	for i := range ids {
		points[i] = map[string]any{
			"id":     PointID(ids[i]),
			"vector": embeddings[i],
			"payload": map[string]any{
				"chunk_id": ids[i],
				"document": documents[i],
				"metadata": metadatas[i],
			},
		}
	}
	body := map[string]any{"points": points}
	if err := c.store.do(ctx, http.MethodPut, c.store.collectionURL(c.name)+"/points?wait=true", body, nil); err != nil {
		return apperr.Upstream("qdrant upsert", err)
	}
	return nil
}

// ensure creates the collection unless it already exists.
func (c *collection) ensure(ctx context.Context, dimension int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ensured {
		return nil
	}
	err := c.store.do(ctx, http.MethodGet, c.store.collectionURL(c.name), nil, nil)
	if isNotFound(err) {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": "Cosine",
			},
		}
		err = c.store.do(ctx, http.MethodPut, c.store.collectionURL(c.name), body, nil)
		if err == nil {
			c.store.logger.Info("qdrant collection created", "collection", c.name, "dimension", dimension)
		}
	}
	if err != nil {
		return err
	}
	c.ensured = true
	return nil
}

type scoredPoint struct {
	Score   float64 `json:"score"`
	Payload payload `json:"payload"`
}

type payload struct {
	ChunkID  string          `json:"chunk_id"`
	Document string          `json:"document"`
	Metadata domain.Metadata `json:"metadata"`
}

// Query searches the collection. Qdrant reports cosine similarity, which is
// turned into a distance so lower means closer like every other store.
func (c *collection) Query(ctx context.Context, embedding []float32, k int, where filter.Condition) (domain.QueryResult, error) {
	if k <= 0 {
		return domain.QueryResult{}, apperr.Invalid("qdrant query", "k must be > 0")
	}
	req := map[string]any{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
	}
	if where != nil {
		req["filter"] = Filter(where)
	}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	err := c.store.do(ctx, http.MethodPost, c.store.collectionURL(c.name)+"/points/search", req, &resp)
	if isNotFound(err) {
		return domain.QueryResult{}, nil
	}
	if err != nil {
		return domain.QueryResult{}, apperr.Upstream("qdrant query", err)
	}
	var res domain.QueryResult
	for _, r := range resp.Result {
		res.IDs = append(res.IDs, r.Payload.ChunkID)
		res.Documents = append(res.Documents, r.Payload.Document)
		res.Metadatas = append(res.Metadatas, r.Payload.Metadata)
		res.Distances = append(res.Distances, 1-r.Score)
	}
	return res, nil
}

// Get scrolls through the collection payloads, page by page, up to limit records.
func (c *collection) Get(ctx context.Context, limit int) ([]domain.Metadata, error) {
	const pageSize = 256
	var (
		out    []domain.Metadata
		offset any
	)
	for limit <= 0 || len(out) < limit {
		n := pageSize
		if limit > 0 && limit-len(out) < n {
			n = limit - len(out)
		}
		req := map[string]any{"limit": n, "with_payload": true, "with_vector": false}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload payload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		err := c.store.do(ctx, http.MethodPost, c.store.collectionURL(c.name)+"/points/scroll", req, &resp)
		if isNotFound(err) {
			return out, nil
		}
		if err != nil {
			return nil, apperr.Upstream("qdrant get", err)
		}
		for _, p := range resp.Result.Points {
			out = append(out, p.Payload.Metadata)
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	return out, nil
}

// Filter translates a condition into a Qdrant filter object. Metadata lives
// under the "metadata" payload key. Negations also require the key to be
// present, since a missing key never matches a condition.
func Filter(c filter.Condition) map[string]any {
	switch v := c.(type) {
	case filter.Combinator:
		subs := make([]map[string]any, 0, len(v.Conditions))
		for _, sub := range v.Conditions {
			subs = append(subs, Filter(sub))
		}
		if v.Op == filter.Or {
			return map[string]any{"should": subs}
		}
		return map[string]any{"must": subs}
	case filter.Equality:
		return map[string]any{"must": []map[string]any{matchValue(v.Key, v.Value)}}
	case filter.Operator:
		key := payloadKey(v.Key)
		present := map[string]any{"is_empty": map[string]any{"key": key}}
		switch v.Op {
		case filter.OpEq:
			return map[string]any{"must": []map[string]any{matchValue(v.Key, v.Value)}}
		case filter.OpNe:
			return map[string]any{"must_not": []map[string]any{matchValue(v.Key, v.Value), present}}
		case filter.OpIn:
			return map[string]any{"must": []map[string]any{{"key": key, "match": map[string]any{"any": v.Value}}}}
		case filter.OpNin:
			return map[string]any{
				"must":     []map[string]any{{"key": key, "match": map[string]any{"except": v.Value}}},
				"must_not": []map[string]any{present},
			}
		default:
			// $gt -> "gt" and so on
			op := strings.TrimPrefix(string(v.Op), "$")
			return map[string]any{"must": []map[string]any{{"key": key, "range": map[string]any{op: v.Value}}}}
		}
	}
	return map[string]any{}
}

func matchValue(key string, value any) map[string]any {
	return map[string]any{"key": payloadKey(key), "match": map[string]any{"value": value}}
}

func payloadKey(key string) string { return "metadata." + key }

func (s *Store) collectionURL(name string) string {
	return fmt.Sprintf("%s/collections/%s", s.url, url.PathEscape(name))
}

type statusError struct {
	method string
	url    string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.method, e.url, e.status, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func (s *Store) do(ctx context.Context, method, endpoint string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{method: method, url: endpoint, status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
