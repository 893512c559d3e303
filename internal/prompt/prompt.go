// Package prompt assembles retrieved chunks into a numbered context and wraps
// it in the grounded answer template.
package prompt

import (
	"strconv"
	"strings"

	"docrag/internal/domain"
)

// Version identifies the template below. Bump it whenever the wording changes.
const Version = "rag-v1"

const (
	contextMarker      = "Context:\n"
	questionMarker     = "\n\nQuestion:\n"
	instructionsMarker = "\n\nInstructions:\n"
)

const ragTemplate = `You are a precise assistant answering questions based ONLY on the provided context.

Context:
{context}

Question:
{question}

Instructions:
- Use ONLY the information in the context. Do NOT use external knowledge.
- If the answer is not in the context, say you cannot answer based on the given information.
- When you refer to specific facts, add citations like [0], [1], [2] that correspond to the snippet indices in the Context section.
- Do NOT invent or list your own source filenames or page numbers; citations are just [0], [1], etc.
- First write an 'ANSWER:' section with a concise answer (2–4 sentences).
- Then write a 'SUMMARY:' section with 1–3 bullet points summarizing the key ideas.

Respond in the following format exactly:

ANSWER:
<your answer here>

SUMMARY:
<your summary here>
`

// BuildContext renders chunks as numbered blocks separated by a blank line:
//
//	[i] [source=<filename or source>, page=<p>, chunk=<n>]
//	<text>
//
// page and chunk are omitted when the metadata lacks them. The index i is the
// position in chunks, which is what citations refer to.
func BuildContext(chunks []domain.Chunk) string {
	blocks := make([]string, 0, len(chunks))
	for i, ch := range chunks {
		src := ch.Metadata.Filename
		if src == "" {
			src = ch.Metadata.Source
		}
		var b strings.Builder
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("] [source=")
		b.WriteString(src)
		if ch.Metadata.Page != nil {
			b.WriteString(", page=")
			b.WriteString(strconv.Itoa(*ch.Metadata.Page))
		}
		if ch.Metadata.ChunkNumber != nil {
			b.WriteString(", chunk=")
			b.WriteString(strconv.Itoa(*ch.Metadata.ChunkNumber))
		}
		b.WriteString("]\n")
		b.WriteString(strings.TrimSpace(ch.Text))
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// BuildRAGPrompt fills the template with the rendered context and question.
func BuildRAGPrompt(question, context string) string {
	r := strings.NewReplacer("{context}", context, "{question}", question)
	return r.Replace(ragTemplate)
}

// Sections recovers the context and question from a prompt produced by
// BuildRAGPrompt. ok is false for any other prompt.
func Sections(p string) (context, question string, ok bool) {
	_, rest, found := strings.Cut(p, contextMarker)
	if !found {
		return "", "", false
	}
	// the question is searched from the end so a context containing the
	// marker text does not cut it short
	qi := strings.LastIndex(rest, questionMarker)
	if qi < 0 {
		return "", "", false
	}
	context = rest[:qi]
	question, _, found = strings.Cut(rest[qi+len(questionMarker):], instructionsMarker)
	if !found {
		return "", "", false
	}
	return context, strings.TrimSpace(question), true
}
