// Package tui is an interactive question box over the RAG service.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"docrag/internal/domain"
	"docrag/internal/service"
)

// Answerer is the TUI-facing subset of the RAG service.
type Answerer interface {
	Answer(ctx context.Context, req service.AnswerRequest) (domain.RagAnswer, error)
}

// Options fixes the request fields the TUI does not let the user edit.
type Options struct {
	Collection string
	TopK       int
	Filename   string
	// Style is a glamour style name. Empty means auto-detect from the terminal.
	Style string
}

type answerMsg struct {
	question string
	answer   domain.RagAnswer
	err      error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx      context.Context
	service  Answerer
	opts     Options
	input    textinput.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer
	answer   *domain.RagAnswer
	question string
	status   string
	cursor   int
	busy     bool
	ready    bool
}

// New creates a new TUI model instance.
func New(ctx context.Context, svc Answerer, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		ctx:      ctx,
		service:  svc,
		opts:     opts,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Ready. Up/Down cycles sources, Ctrl+C quits.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.renderer = m.newRenderer(m.viewport.Width - 4)
		m.viewport.SetContent(m.render())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = nil
		} else {
			m.status = fmt.Sprintf("%d sources for %q", len(msg.answer.Sources), msg.question)
			m.answer = &msg.answer
			m.question = msg.question
			m.cursor = 0
		}
		m.viewport.SetContent(m.render())
		m.viewport.GotoTop()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Thinking..."
			return m, m.ask(q)
		case "down":
			if n := m.sourceCount(); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "up":
			if n := m.sourceCount(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	svc, ctx, opts := m.service, m.ctx, m.opts
	return func() tea.Msg {
		ans, err := svc.Answer(ctx, service.AnswerRequest{
			Question:   q,
			TopK:       opts.TopK,
			Filename:   opts.Filename,
			Collection: opts.Collection,
		})
		return answerMsg{question: q, answer: ans, err: err}
	}
}

// View renders the TUI layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docrag")
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) sourceCount() int {
	if m.answer == nil {
		return 0
	}
	return len(m.answer.Sources)
}

func (m Model) newRenderer(width int) *glamour.TermRenderer {
	style := glamour.WithAutoStyle()
	if m.opts.Style != "" {
		style = glamour.WithStandardStyle(m.opts.Style)
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(max(20, width)))
	if err != nil {
		return nil
	}
	return r
}

func (m Model) render() string {
	if m.answer == nil {
		return "No answer yet."
	}
	var md strings.Builder
	md.WriteString("## Answer\n\n")
	md.WriteString(m.answer.Answer)
	md.WriteString("\n")
	if m.answer.Summary != nil {
		md.WriteString("\n## Summary\n\n")
		md.WriteString(*m.answer.Summary)
		md.WriteString("\n")
	}
	out := md.String()
	if m.renderer != nil {
		if rendered, err := m.renderer.Render(out); err == nil {
			out = rendered
		}
	}
	return out + "\n" + m.renderSources()
}

func (m Model) renderSources() string {
	if len(m.answer.Sources) == 0 {
		return "No sources."
	}
	var b strings.Builder
	for i, c := range m.answer.Sources {
		line := fmt.Sprintf("[%d] %s", i, sourceLabel(c))
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	cur := m.answer.Sources[m.cursor]
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Source %d/%d  distance=%.3f\n\n", m.cursor+1, len(m.answer.Sources), cur.Score))
	b.WriteString(highlightBestSentence(cur.Text, m.question))
	return b.String()
}

func sourceLabel(c domain.Chunk) string {
	name := c.Metadata.Filename
	if name == "" {
		name = c.Metadata.Source
	}
	if c.Metadata.Page != nil {
		name += fmt.Sprintf(" p.%d", *c.Metadata.Page)
	}
	if c.Metadata.ChunkNumber != nil {
		name += fmt.Sprintf(" #%d", *c.Metadata.ChunkNumber)
	}
	return name
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	cursorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasises the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
