package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bartender/internal/domain"
)

// ChatPort is the TUI-facing subset of the retrieval service.
type ChatPort interface {
	Reply(ctx context.Context, query string, topK int) (domain.Reply, error)
}

type replyMsg struct {
	query string
	reply domain.Reply
	err   error
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	service  ChatPort
	topK     int
	input    textinput.Model
	viewport viewport.Model
	reply    *domain.Reply
	summary  string
	status   string
	cursor   int
	ready    bool
	waiting  bool
}

// New creates a new chat model. summary is shown under the header.
func New(service ChatPort, topK int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask the bartender and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: service, topK: topK, input: ti, viewport: vp, summary: summary, status: "Ready. What are we drinking?"}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and reply events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around reply and query boxes
		_, rh := replyBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := max(3, msg.Height-reserved)
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderReply())
		return m, nil
	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.reply = nil
		} else {
			m.reply = &msg.reply
			m.cursor = 0
			m.status = fmt.Sprintf("%d items for %q (%s)", len(msg.reply.Hits), msg.query, msg.reply.Constraints)
			if msg.reply.Degraded {
				m.status += " [degraded]"
			}
		}
		m.viewport.SetContent(m.renderReply())
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.waiting {
				m.waiting = true
				m.status = "Mixing an answer..."
				m.input.SetValue("")
				return m, m.ask(q)
			}
		case "down":
			if m.reply != nil && len(m.reply.Hits) > 0 {
				m.cursor = (m.cursor + 1) % len(m.reply.Hits)
				m.viewport.SetContent(m.renderReply())
				return m, nil
			}
		case "up":
			if m.reply != nil && len(m.reply.Hits) > 0 {
				m.cursor = (m.cursor - 1 + len(m.reply.Hits)) % len(m.reply.Hits)
				m.viewport.SetContent(m.renderReply())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	service, topK := m.service, m.topK
	return func() tea.Msg {
		r, err := service.Reply(context.Background(), q, topK)
		return replyMsg{query: q, reply: r, err: err}
	}
}

// View renders the layout: header, reply box, query input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("AI Bartender")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	reply := replyBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + reply + "\n" + input + "\n" + status
}

func (m Model) renderReply() string {
	if m.reply == nil {
		return "No answer yet."
	}
	var sb strings.Builder
	sb.WriteString(m.reply.Text)
	if len(m.reply.Hits) == 0 {
		return sb.String()
	}
	h := m.reply.Hits[m.cursor]
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("Item %d/%d  distance=%.3f  (up/down to browse)",
		m.cursor+1, len(m.reply.Hits), h.Distance)))
	sb.WriteString("\n")
	sb.WriteString(highlightTerms(h.Record.Text, m.reply.Query))
	return sb.String()
}

var (
	replyBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe  = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)
)

// highlightTerms renders every word of text that also appears in query.
func highlightTerms(text, query string) string {
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	return unicodeWordRe.ReplaceAllStringFunc(text, func(w string) string {
		if _, ok := qTokens[strings.ToLower(w)]; ok {
			return highlightStyle.Render(w)
		}
		return w
	})
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}
