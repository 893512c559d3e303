package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/service"
)

type fakeAnswerer struct {
	answer domain.RagAnswer
	err    error
	got    []service.AnswerRequest
}

func (f *fakeAnswerer) Answer(_ context.Context, req service.AnswerRequest) (domain.RagAnswer, error) {
	f.got = append(f.got, req)
	return f.answer, f.err
}

func intPtr(v int) *int { return &v }

func sized(t *testing.T, svc Answerer) Model {
	t.Helper()
	m := New(context.Background(), svc, Options{Collection: "docs", TopK: 3, Style: "notty"})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

func typeQuestion(t *testing.T, m Model, q string) (Model, tea.Cmd) {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(q)})
	next, cmd := next.(Model).Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestAskFlow(t *testing.T) {
	summary := "- cargo"
	fa := &fakeAnswerer{answer: domain.RagAnswer{
		Answer:  "Cargo builds Rust projects [0].",
		Summary: &summary,
		Sources: []domain.Chunk{
			{ID: "a", Text: "Cargo builds Rust projects. It also runs tests.", Metadata: domain.ChunkMetadata{Filename: "guide.md", Page: intPtr(1), ChunkNumber: intPtr(0)}},
			{ID: "b", Text: "Go modules track dependencies.", Metadata: domain.ChunkMetadata{Filename: "go.md"}},
		},
	}}
	m := sized(t, fa)
	assert.Contains(t, m.View(), "No answer yet.")

	m, cmd := typeQuestion(t, m, "What builds Rust?")
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	next, _ := m.Update(cmd())
	m = next.(Model)
	require.Len(t, fa.got, 1)
	assert.Equal(t, service.AnswerRequest{Question: "What builds Rust?", TopK: 3, Collection: "docs"}, fa.got[0])
	assert.False(t, m.busy)
	assert.Equal(t, `2 sources for "What builds Rust?"`, m.status)

	content := m.render()
	assert.Contains(t, content, "Cargo builds Rust projects [0].")
	assert.Contains(t, content, "guide.md p.1 #0")
	assert.Equal(t, 0, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.render(), "Source 2/2")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, next.(Model).cursor, "Expected the cursor to wrap around")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, next.(Model).cursor)
}

func TestAskError(t *testing.T) {
	fa := &fakeAnswerer{err: errors.New("store offline")}
	m := sized(t, fa)

	m, cmd := typeQuestion(t, m, "anything")
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	m = next.(Model)

	assert.Equal(t, "Error: store offline", m.status)
	assert.Nil(t, m.answer)
}

func TestEmptyQuestionIsIgnored(t *testing.T) {
	fa := &fakeAnswerer{}
	m := sized(t, fa)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, next.(Model).busy)
	assert.Empty(t, fa.got)
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("Cats sleep. Dogs bark loudly.", "why do dogs bark")
	assert.True(t, strings.HasPrefix(out, "Cats sleep."))
	assert.Contains(t, out, "Dogs bark loudly.")
	assert.Equal(t, "", highlightBestSentence("", "x"))
}
