// Package vectorstore holds the ranking helpers shared by the stores that
// score every record in process.
package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"docrag/internal/domain"
)

// Hit is one scored record.
type Hit struct {
	ID       string
	Document string
	Metadata domain.Metadata
	Distance float64
}

// CosineDistance returns 1 - cos(a, b). Vectors of different length or with a
// zero norm are maximally distant from everything.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Nearest sorts hits by ascending distance and keeps the first k. Ties keep
// their input order.
func Nearest(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k >= 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// Result unzips hits into the positional query result.
func Result(hits []Hit) domain.QueryResult {
	res := domain.QueryResult{
		IDs:       make([]string, len(hits)),
		Documents: make([]string, len(hits)),
		Metadatas: make([]domain.Metadata, len(hits)),
		Distances: make([]float64, len(hits)),
	}
	for i, h := range hits {
		res.IDs[i] = h.ID
		res.Documents[i] = h.Document
		res.Metadatas[i] = h.Metadata
		res.Distances[i] = h.Distance
	}
	return res
}

// EncodeVector packs v as little-endian IEEE 754 float32 values with no
// length prefix.
func EncodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
