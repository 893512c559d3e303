package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestBuildContext(t *testing.T) {
	t.Run("Blocks carry index and metadata", func(t *testing.T) {
		chunks := []domain.Chunk{
			{Text: "  Alice led ML projects.  ", Metadata: domain.ChunkMetadata{Source: "data/resume.pdf", Filename: "resume.pdf", Page: intPtr(1), ChunkNumber: intPtr(0)}},
			{Text: "Second passage", Metadata: domain.ChunkMetadata{Source: "notes/plain.txt"}},
		}

		got := BuildContext(chunks)

		want := "[0] [source=resume.pdf, page=1, chunk=0]\nAlice led ML projects.\n\n" +
			"[1] [source=notes/plain.txt]\nSecond passage"
		assert.Equal(t, want, got)
	})

	t.Run("Page without chunk number", func(t *testing.T) {
		got := BuildContext([]domain.Chunk{{Text: "x", Metadata: domain.ChunkMetadata{Filename: "a.md", Page: intPtr(3)}}})
		assert.Equal(t, "[0] [source=a.md, page=3]\nx", got)
	})

	t.Run("No chunks gives empty context", func(t *testing.T) {
		assert.Empty(t, BuildContext(nil))
	})
}

func TestBuildRAGPrompt(t *testing.T) {
	p := BuildRAGPrompt("What did Alice lead?", "[0] [source=resume.pdf]\nAlice led ML projects.")

	assert.True(t, strings.HasPrefix(p, "You are a precise assistant answering questions based ONLY on the provided context."))
	assert.Contains(t, p, "Context:\n[0] [source=resume.pdf]\nAlice led ML projects.\n\nQuestion:\nWhat did Alice lead?\n\nInstructions:")
	assert.Contains(t, p, "add citations like [0], [1], [2]")
	assert.True(t, strings.HasSuffix(p, "ANSWER:\n<your answer here>\n\nSUMMARY:\n<your summary here>\n"))
	assert.NotContains(t, p, "{context}")
	assert.NotContains(t, p, "{question}")
}

func TestSections(t *testing.T) {
	t.Run("Round trip through the template", func(t *testing.T) {
		ctx := "[0] [source=a.md]\nQuestion:\nnot really a question"
		p := BuildRAGPrompt("  Who wrote it?  ", ctx)

		gotCtx, gotQ, ok := Sections(p)
		require.True(t, ok)
		assert.Equal(t, ctx, gotCtx)
		assert.Equal(t, "Who wrote it?", gotQ)
	})

	t.Run("Foreign prompt is rejected", func(t *testing.T) {
		_, _, ok := Sections("tell me a joke")
		assert.False(t, ok)
	})
}
