// Package extractive is an offline completer. It answers grounded prompts by
// picking the context sentences that best match the question, so the whole
// pipeline runs without a model API.
package extractive

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"docrag/internal/domain"
	"docrag/internal/prompt"
)

// Completer ranks sentences by word frequency and question overlap (stopwords filtered).
type Completer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	blockHeader     *regexp.Regexp
	stopwords       map[string]struct{}
	answerSentences int
	summaryBullets  int
}

// New creates an extractive completer.
func New() *Completer {
	return &Completer{
		tokenPattern:    regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		sentencePattern: regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
		blockHeader:     regexp.MustCompile(`^\[(\d+)\] \[[^\n]*\]$`),
		stopwords:       defaultStopwords(),
		answerSentences: 2,
		summaryBullets:  3,
	}
}

// Name returns the identifier of this completer.
func (c *Completer) Name() string { return "extractive" }

// Complete answers a grounded prompt in the ANSWER:/SUMMARY: format. Prompts
// without a context section are summarised instead.
func (c *Completer) Complete(_ context.Context, p string) (string, error) {
	ctxText, question, ok := prompt.Sections(p)
	if !ok {
		return c.Summarize(p, c.summaryBullets), nil
	}
	sentences := c.contextSentences(ctxText)
	if len(sentences) == 0 {
		return "ANSWER:\nI cannot answer based on the given information.\n\nSUMMARY:\n", nil
	}

	freq := c.frequencies(sentences)
	qset := make(map[string]struct{})
	for _, tok := range c.tokens(question) {
		qset[tok] = struct{}{}
	}

	type scored struct {
		idx     int
		overlap int
		score   float64
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		overlap := 0
		seen := map[string]struct{}{}
		for _, tok := range c.tokens(s.text) {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			if _, hit := qset[tok]; hit {
				overlap++
			}
		}
		ranked[i] = scored{idx: i, overlap: overlap, score: float64(overlap) + 0.1*c.sentenceScore(s.text, freq)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var answer []string
	for _, r := range ranked {
		if len(answer) == c.answerSentences || r.overlap == 0 {
			break
		}
		s := sentences[r.idx]
		answer = append(answer, fmt.Sprintf("%s [%d]", s.text, s.block))
	}
	if len(answer) == 0 {
		answer = []string{"I cannot answer based on the given information."}
	}

	var b strings.Builder
	b.WriteString("ANSWER:\n")
	b.WriteString(strings.Join(answer, " "))
	b.WriteString("\n\nSUMMARY:\n")
	for _, s := range c.top(sentences, freq, c.summaryBullets) {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// Stream emits the completion word by word.
func (c *Completer) Stream(ctx context.Context, p string) (*domain.TokenStream, error) {
	out, err := c.Complete(ctx, p)
	if err != nil {
		return nil, err
	}
	var fragments []string
	for _, line := range strings.SplitAfter(out, "\n") {
		words := strings.SplitAfter(line, " ")
		fragments = append(fragments, words...)
	}
	return domain.StreamOf(fragments...), nil
}

// Summarize returns the maxSentences most representative sentences of text, in original order.
func (c *Completer) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	raw := c.sentencePattern.FindAllString(text, -1)
	if len(raw) == 0 {
		return strings.TrimSpace(text)
	}
	sentences := make([]sentence, len(raw))
	for i, s := range raw {
		sentences[i] = sentence{text: strings.TrimSpace(s)}
	}
	return strings.Join(c.top(sentences, c.frequencies(sentences), maxSentences), " ")
}

type sentence struct {
	text  string
	block int
}

func (c *Completer) contextSentences(ctxText string) []sentence {
	var out []sentence
	for _, block := range strings.Split(ctxText, "\n\n") {
		header, body, found := strings.Cut(block, "\n")
		m := c.blockHeader.FindStringSubmatch(strings.TrimSpace(header))
		if !found || m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		parts := c.sentencePattern.FindAllString(body, -1)
		if len(parts) == 0 && strings.TrimSpace(body) != "" {
			parts = []string{body}
		}
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, sentence{text: p, block: idx})
			}
		}
	}
	return out
}

// frequencies returns stopword-filtered token counts normalised to the most frequent token.
func (c *Completer) frequencies(sentences []sentence) map[string]float64 {
	freq := map[string]float64{}
	for _, s := range sentences {
		for _, tok := range c.tokens(s.text) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	return freq
}

func (c *Completer) sentenceScore(text string, freq map[string]float64) float64 {
	toks := c.tokens(text)
	score := 0.0
	for _, tok := range toks {
		score += freq[tok]
	}
	// Normalize by sentence length to avoid bias
	if l := float64(len(toks)); l > 0 {
		score /= math.Sqrt(l)
	}
	return score
}

func (c *Completer) top(sentences []sentence, freq map[string]float64, n int) []string {
	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, s := range sentences {
		scores[i] = pair{i, c.sentenceScore(s.text, freq)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if n > len(scores) {
		n = len(scores)
	}
	// Keep original order among selected
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, n)
	for _, idx := range selected {
		out = append(out, sentences[idx].text)
	}
	return out
}

func (c *Completer) tokens(text string) []string {
	raw := c.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := c.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "how", "why", "when", "where", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
