package domain

import "docrag/internal/apperr"

// ValidateUpsert checks that an upsert batch is positionally aligned.
func ValidateUpsert(ids, documents []string, embeddings [][]float32, metadatas []Metadata) error {
	n := len(ids)
	if len(documents) != n || len(embeddings) != n || len(metadatas) != n {
		return apperr.Invalid("upsert", "misaligned batch: %d ids, %d documents, %d embeddings, %d metadatas",
			n, len(documents), len(embeddings), len(metadatas))
	}
	seen := make(map[string]struct{}, n)
	for i, id := range ids {
		if id == "" {
			return apperr.Invalid("upsert", "empty id at position %d", i)
		}
		if _, ok := seen[id]; ok {
			return apperr.Invalid("upsert", "duplicate id %q", id)
		}
		seen[id] = struct{}{}
		if len(embeddings[i]) == 0 {
			return apperr.Invalid("upsert", "empty embedding for %q", id)
		}
	}
	return nil
}
