// Package chunker splits page text into overlapping word-based passages.
package chunker

import (
	"regexp"
	"strings"

	"docrag/internal/apperr"
)

// Mode selects a chunking strategy.
type Mode string

const (
	ModeFixed    Mode = "fixed"
	ModeSemantic Mode = "semantic"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFixed, ModeSemantic:
		return m, nil
	default:
		return "", apperr.Wrap(apperr.InvalidArgument, "chunk", apperr.ErrUnsupportedMode)
	}
}

// Validate checks the parameters for mode without chunking anything.
func Validate(mode Mode, size, overlap int) error {
	switch mode {
	case ModeFixed:
		return validateFixed(size, overlap)
	case ModeSemantic:
		return validateSemantic(size, overlap)
	default:
		return apperr.Wrap(apperr.InvalidArgument, "chunk", apperr.ErrUnsupportedMode)
	}
}

// Split chunks text with the given strategy. For semantic mode size is the
// word budget per chunk and overlap the number of seeded words.
func Split(mode Mode, text string, size, overlap int) ([]string, error) {
	switch mode {
	case ModeFixed:
		return Fixed(text, size, overlap)
	case ModeSemantic:
		return Semantic(text, size, overlap)
	default:
		return nil, apperr.Wrap(apperr.InvalidArgument, "chunk", apperr.ErrUnsupportedMode)
	}
}

func validateFixed(size, overlap int) error {
	if size <= 0 {
		return apperr.Invalid("chunk", "chunk_size must be > 0")
	}
	if overlap < 0 {
		return apperr.Invalid("chunk", "chunk_overlap must be >= 0")
	}
	if overlap >= size {
		return apperr.Invalid("chunk", "chunk_overlap must be smaller than chunk_size")
	}
	return nil
}

// Fixed splits text into windows of size words that advance by size-overlap.
// The last window ends at the last word and may be shorter than size.
func Fixed(text string, size, overlap int) ([]string, error) {
	if err := validateFixed(size, overlap); err != nil {
		return nil, err
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}
	var chunks []string
	step := size - overlap
	for i := 0; i < len(words); i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

func validateSemantic(maxWords, overlapWords int) error {
	if maxWords <= 0 {
		return apperr.Invalid("chunk", "max_chunk_words must be > 0")
	}
	if overlapWords < 0 {
		return apperr.Invalid("chunk", "overlap_words must be >= 0")
	}
	return nil
}

// Semantic packs whole paragraphs into chunks of at most maxWords words.
// A paragraph longer than maxWords is never split and ends up in a chunk of
// its own. With overlapWords > 0 each new chunk starts with the tail of the
// previous one.
func Semantic(text string, maxWords, overlapWords int) ([]string, error) {
	if err := validateSemantic(maxWords, overlapWords); err != nil {
		return nil, err
	}
	var chunks []string
	var buf []string
	for _, para := range paragraphBreak.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1) {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		if len(buf) > 0 && len(buf)+len(words) > maxWords {
			chunks = append(chunks, strings.Join(buf, " "))
			buf = seed(buf, overlapWords)
		}
		buf = append(buf, words...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, " "))
	}
	return chunks, nil
}

func seed(prev []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if n > len(prev) {
		n = len(prev)
	}
	next := make([]string, n, n+len(prev))
	copy(next, prev[len(prev)-n:])
	return next
}
