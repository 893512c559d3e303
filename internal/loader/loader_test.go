package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/apperr"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCleanText(t *testing.T) {
	t.Run("Unwraps lines and keeps paragraph breaks", func(t *testing.T) {
		raw := "First line\r\nstill first   paragraph.\r\n\r\n \n\tSecond\nparagraph here.\n\n\n"
		assert.Equal(t, "First line still first paragraph.\n\nSecond paragraph here.", CleanText(raw))
	})

	t.Run("Blank input gives empty string", func(t *testing.T) {
		assert.Equal(t, "", CleanText(" \n\n\t "))
	})
}

func TestLoadPages(t *testing.T) {
	dir := t.TempDir()
	l := New()

	t.Run("Text file is one page", func(t *testing.T) {
		path := writeFile(t, dir, "notes.txt", "Hello\nworld.\n\nBye.")
		pages, err := l.LoadPages(path)
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, 1, pages[0].Number)
		assert.Equal(t, "Hello world.\n\nBye.", pages[0].Text)
	})

	t.Run("Markdown file is one page", func(t *testing.T) {
		path := writeFile(t, dir, "readme.MD", "# Title\n\nBody text.")
		pages, err := l.LoadPages(path)
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, "# Title\n\nBody text.", pages[0].Text)
	})

	t.Run("HTML drops scripts and keeps paragraphs", func(t *testing.T) {
		html := `<html><head><title>t</title><style>p{}</style></head><body>
<h1>FastAPI</h1><script>alert(1)</script><p>FastAPI is awesome.</p><p>Second paragraph.</p></body></html>`
		path := writeFile(t, dir, "page.html", html)
		pages, err := l.LoadPages(path)
		require.NoError(t, err)
		require.Len(t, pages, 1)
		text := pages[0].Text
		assert.Contains(t, text, "FastAPI is awesome.")
		assert.Contains(t, text, "Second paragraph.")
		assert.NotContains(t, text, "alert")
		assert.NotContains(t, text, "p{}")
		assert.True(t, strings.Contains(text, "\n\n"), "Expected paragraphs separated by a blank line")
	})

	t.Run("Empty file yields no pages", func(t *testing.T) {
		path := writeFile(t, dir, "empty.txt", "  \n\n ")
		pages, err := l.LoadPages(path)
		require.NoError(t, err)
		assert.Empty(t, pages)
	})

	t.Run("Missing file is NotFound", func(t *testing.T) {
		_, err := l.LoadPages(filepath.Join(dir, "nope.txt"))
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Unsupported extension is InvalidArgument", func(t *testing.T) {
		path := writeFile(t, dir, "sheet.xlsx", "data")
		_, err := l.LoadPages(path)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		assert.ErrorIs(t, err, apperr.ErrUnsupportedExtension)
		assert.False(t, l.Supported(path))
	})

	t.Run("Corrupt pdf is an upstream failure", func(t *testing.T) {
		path := writeFile(t, dir, "broken.pdf", "not a pdf at all")
		_, err := l.LoadPages(path)
		assert.ErrorIs(t, err, apperr.ErrUpstream)
	})

	t.Run("Custom parsers keep page numbers of skipped pages", func(t *testing.T) {
		custom := New()
		custom.Register(FileTypeTXT, func(string) ([]string, error) {
			return []string{"page one", "   ", "page three"}, nil
		})
		path := writeFile(t, dir, "paged.txt", "ignored")
		pages, err := custom.LoadPages(path)
		require.NoError(t, err)
		require.Len(t, pages, 2)
		assert.Equal(t, 1, pages[0].Number)
		assert.Equal(t, 3, pages[1].Number)
	})
}

func TestFileTypeFromPath(t *testing.T) {
	assert.Equal(t, FileTypePDF, FileTypeFromPath("a/B.PDF"))
	assert.Equal(t, FileTypeHTML, FileTypeFromPath("x.htm"))
	assert.Equal(t, FileTypeMD, FileTypeFromPath("x.markdown"))
	assert.Equal(t, FileTypeUnknown, FileTypeFromPath("x"))
	assert.Equal(t, []string{"html", "md", "pdf", "txt"}, New().Extensions())
}
