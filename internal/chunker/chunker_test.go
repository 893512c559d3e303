package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/apperr"
)

func sequentialWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i+1)
	}
	return strings.Join(words, " ")
}

func TestFixed(t *testing.T) {
	t.Run("Fifty words with size 20 and overlap 5", func(t *testing.T) {
		chunks, err := Fixed(sequentialWords(50), 20, 5)
		require.NoError(t, err)
		require.Len(t, chunks, 3, "Expected exactly three windows")

		first := strings.Fields(chunks[0])
		second := strings.Fields(chunks[1])
		third := strings.Fields(chunks[2])
		assert.Equal(t, "word1", first[0])
		assert.Equal(t, "word20", first[len(first)-1])
		assert.Equal(t, "word16", second[0])
		assert.Equal(t, "word35", second[len(second)-1])
		assert.Equal(t, "word31", third[0])
		assert.Equal(t, "word50", third[len(third)-1])
	})

	t.Run("Windows step by size minus overlap and end at the last word", func(t *testing.T) {
		for _, tc := range []struct{ n, size, overlap int }{
			{1, 3, 0}, {7, 3, 1}, {10, 5, 0}, {11, 4, 3}, {100, 30, 10},
		} {
			chunks, err := Fixed(sequentialWords(tc.n), tc.size, tc.overlap)
			require.NoError(t, err)
			step := tc.size - tc.overlap
			for i, c := range chunks {
				words := strings.Fields(c)
				assert.Equal(t, fmt.Sprintf("word%d", i*step+1), words[0], "case %+v chunk %d", tc, i)
				assert.LessOrEqual(t, len(words), tc.size)
			}
			last := strings.Fields(chunks[len(chunks)-1])
			assert.Equal(t, fmt.Sprintf("word%d", tc.n), last[len(last)-1], "case %+v", tc)
		}
	})

	t.Run("Whitespace is collapsed", func(t *testing.T) {
		chunks, err := Fixed("  alpha\n\tbeta   gamma \n", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha beta gamma"}, chunks)
	})

	t.Run("Empty text yields no chunks", func(t *testing.T) {
		chunks, err := Fixed("   \n ", 10, 2)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Invalid parameters", func(t *testing.T) {
		for _, p := range [][2]int{{0, 0}, {-1, 0}, {10, -1}, {10, 10}, {10, 11}} {
			_, err := Fixed("some text", p[0], p[1])
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument, "params %v", p)
		}
	})
}

func TestSemantic(t *testing.T) {
	t.Run("Paragraphs are packed up to the budget", func(t *testing.T) {
		text := "one two three\n\nfour five\n\nsix seven eight nine"
		chunks, err := Semantic(text, 5, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"one two three four five", "six seven eight nine"}, chunks)
	})

	t.Run("Oversized paragraph stays whole", func(t *testing.T) {
		big := sequentialWords(12)
		text := "intro words\n\n" + big + "\n\nclosing"
		chunks, err := Semantic(text, 5, 0)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.Equal(t, "intro words", chunks[0])
		assert.Equal(t, big, chunks[1], "Expected the long paragraph unsplit in its own chunk")
		assert.Equal(t, "closing", chunks[2])
	})

	t.Run("Overlap seeds the next chunk with the previous tail", func(t *testing.T) {
		text := "a1 a2 a3 a4\n\nb1 b2 b3\n\nc1 c2 c3 c4"
		chunks, err := Semantic(text, 6, 2)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for i := 0; i+1 < len(chunks); i++ {
			prev := strings.Fields(chunks[i])
			next := strings.Fields(chunks[i+1])
			assert.Equal(t, prev[len(prev)-2:], next[:2], "chunk %d", i)
		}
		assert.Equal(t, "a3 a4 b1 b2 b3", chunks[1])
	})

	t.Run("Paragraphs are never split across chunks", func(t *testing.T) {
		paras := []string{"p1a p1b", "p2a p2b p2c", "p3a", "p4a p4b p4c p4d"}
		chunks, err := Semantic(strings.Join(paras, "\n \n"), 4, 0)
		require.NoError(t, err)
		for _, p := range paras {
			found := 0
			for _, c := range chunks {
				if strings.Contains(c, p) {
					found++
				}
			}
			assert.Equal(t, 1, found, "paragraph %q", p)
		}
	})

	t.Run("Blank input and whitespace-only paragraphs", func(t *testing.T) {
		chunks, err := Semantic(" \n\n \t \n\n", 10, 2)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Invalid parameters", func(t *testing.T) {
		_, err := Semantic("x", 0, 0)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		_, err = Semantic("x", 5, -1)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})
}

func TestModes(t *testing.T) {
	m, err := ParseMode(" Semantic ")
	require.NoError(t, err)
	assert.Equal(t, ModeSemantic, m)

	_, err = ParseMode("sentences")
	assert.ErrorIs(t, err, apperr.ErrUnsupportedMode)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	chunks, err := Split(ModeFixed, sequentialWords(4), 2, 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	assert.ErrorIs(t, Validate(Mode("x"), 1, 0), apperr.ErrUnsupportedMode)
	assert.NoError(t, Validate(ModeSemantic, 200, 400))
}
