package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"math"
)

// Metadata is the free-form metadata stored next to a chunk in a collection.
type Metadata map[string]any

// Value implements the driver.Valuer interface for database storage
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database retrieval
func (m *Metadata) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case Metadata:
		*m = v
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("metadata: unsupported scan type")
	}
}

// ChunkMetadata is the typed view of the metadata written at ingestion.
type ChunkMetadata struct {
	Source      string `json:"source"`
	Filename    string `json:"filename"`
	Page        *int   `json:"page,omitempty"`
	ChunkNumber *int   `json:"chunk_number,omitempty"`
}

// Metadata keys written by the ingestion pipeline.
const (
	KeySource      = "source"
	KeyFilename    = "filename"
	KeyPage        = "page"
	KeyChunkNumber = "chunk_number"
)

// ToMetadata converts m into the store-level map.
func (m ChunkMetadata) ToMetadata() Metadata {
	out := Metadata{
		KeySource:   m.Source,
		KeyFilename: m.Filename,
	}
	if m.Page != nil {
		out[KeyPage] = *m.Page
	}
	if m.ChunkNumber != nil {
		out[KeyChunkNumber] = *m.ChunkNumber
	}
	return out
}

// ChunkMetadataFrom reads the known keys out of a stored metadata map.
// Unknown keys are ignored and wrongly typed values are treated as absent.
func ChunkMetadataFrom(md Metadata) ChunkMetadata {
	var out ChunkMetadata
	out.Source, _ = md[KeySource].(string)
	out.Filename, _ = md[KeyFilename].(string)
	if p, ok := IntValue(md[KeyPage]); ok {
		out.Page = &p
	}
	if n, ok := IntValue(md[KeyChunkNumber]); ok {
		out.ChunkNumber = &n
	}
	return out
}

// IntValue coerces the numeric shapes produced by JSON decoding and SQL drivers.
func IntValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		if float64(n) == math.Trunc(float64(n)) {
			return int(n), true
		}
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// Chunk is one retrievable passage. Score is the store's raw distance.
type Chunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Page is one page of cleaned document text. Numbers start at 1.
type Page struct {
	Number int
	Text   string
}

// DocumentInfo summarises the chunks indexed for one file.
type DocumentInfo struct {
	Filename  string `json:"filename"`
	Source    string `json:"source"`
	NumChunks int    `json:"num_chunks"`
	Pages     []int  `json:"pages"`
}

// RagAnswer is a grounded answer with the passages it was built from.
type RagAnswer struct {
	Answer  string  `json:"answer"`
	Summary *string `json:"summary"`
	Sources []Chunk `json:"sources"`
}
