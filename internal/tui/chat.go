package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ghostwriter/internal/protocol"
)

const (
	maxSourcePreview = 60
	streamingCursor  = "▍"
)

// ChatModel renders the turn list of a display surface inside a scrollable panel.
type ChatModel struct {
	theme    Theme
	markdown *markdownRenderer

	turns []protocol.Turn
	lines []string
	width int

	scrollTop int
	// viewportHeight is the number of visible content lines inside the chat panel.
	// 0 means unconstrained.
	viewportHeight int
}

// NewChatModel creates an empty turn view.
func NewChatModel(theme Theme) ChatModel {
	return ChatModel{theme: theme, markdown: newMarkdownRenderer(theme.Markdown)}
}

// SetTurns replaces the displayed turns. A view scrolled to the bottom keeps
// following new output.
func (m *ChatModel) SetTurns(turns []protocol.Turn) {
	wasAtBottom := m.isAtBottom()
	m.turns = turns
	m.relayout()
	if wasAtBottom {
		m.scrollToBottom()
		return
	}
	m.clampScrollTop()
}

// Turns returns the displayed turns.
func (m ChatModel) Turns() []protocol.Turn {
	return protocol.CloneTurns(m.turns)
}

// SetWidth sets the outer panel width used to wrap turns.
func (m *ChatModel) SetWidth(width int) {
	if width == m.width {
		return
	}
	wasAtBottom := m.isAtBottom()
	m.width = width
	m.relayout()
	if wasAtBottom {
		m.scrollToBottom()
	}
}

// SetViewportHeight configures the visible line count for chat content.
func (m *ChatModel) SetViewportHeight(height int) {
	if height < 0 {
		height = 0
	}
	if height == m.viewportHeight {
		return
	}
	wasAtBottom := m.isAtBottom()
	m.viewportHeight = height
	if wasAtBottom {
		m.scrollToBottom()
		return
	}
	m.clampScrollTop()
}

// ScrollUp moves the chat viewport up by lines.
func (m *ChatModel) ScrollUp(lines int) {
	if lines <= 0 {
		return
	}
	m.scrollTop -= lines
	m.clampScrollTop()
}

// ScrollDown moves the chat viewport down by lines.
func (m *ChatModel) ScrollDown(lines int) {
	if lines <= 0 {
		return
	}
	m.scrollTop += lines
	m.clampScrollTop()
}

// PageUp scrolls one viewport up.
func (m *ChatModel) PageUp() {
	step := m.viewportHeight
	if step <= 0 {
		step = 10
	}
	m.ScrollUp(step)
}

// PageDown scrolls one viewport down.
func (m *ChatModel) PageDown() {
	step := m.viewportHeight
	if step <= 0 {
		step = 10
	}
	m.ScrollDown(step)
}

// ScrollToTop jumps to the first turn.
func (m *ChatModel) ScrollToTop() {
	m.scrollTop = 0
}

// ScrollToBottom jumps to the most recent output.
func (m *ChatModel) ScrollToBottom() {
	m.scrollToBottom()
}

// Render draws the visible window of turns inside a panel.
func (m ChatModel) Render(width int) string {
	if len(m.turns) == 0 {
		return renderPanel(width, m.theme.PanelStyle, m.theme.HintStyle.Render(
			"No turns yet. Type or paste text and press Enter to pick a trigger."))
	}

	lines := m.lines
	if m.viewportHeight > 0 && len(lines) > m.viewportHeight {
		start := m.scrollTop
		maxTop := len(lines) - m.viewportHeight
		if start < 0 {
			start = 0
		}
		if start > maxTop {
			start = maxTop
		}
		lines = lines[start : start+m.viewportHeight]
	}
	return renderPanel(width, m.theme.PanelStyle, strings.Join(lines, "\n"))
}

func (m *ChatModel) relayout() {
	contentWidth := m.width - m.theme.PanelStyle.GetHorizontalFrameSize()
	if m.width <= 0 {
		contentWidth = defaultAppWidth - m.theme.PanelStyle.GetHorizontalFrameSize()
	}
	lines := make([]string, 0, len(m.turns)*4)
	for i, turn := range m.turns {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, strings.Split(m.renderTurn(i, turn, contentWidth), "\n")...)
	}
	m.lines = lines
}

func (m *ChatModel) renderTurn(i int, turn protocol.Turn, width int) string {
	theme := m.theme
	header := theme.SourcePrefixStyle.Render(fmt.Sprintf("#%d %s:", i+1, fallbackText(turn.Kind, "turn"))) +
		" " + quotePreview(turn.SourceText)

	text := turn.Text()
	var body string
	switch {
	case turn.Control.CanStop:
		body = lipgloss.NewStyle().Width(width).Render(text + streamingCursor)
	case text != "":
		body = m.markdown.Render(text, width)
	}

	parts := []string{header}
	if body != "" {
		parts = append(parts, theme.AssistantPrefixStyle.Render("assistant:"), body)
	}
	if footer := turnFooter(i, turn, theme); footer != "" {
		parts = append(parts, footer)
	}
	return strings.Join(parts, "\n")
}

func turnFooter(i int, turn protocol.Turn, theme Theme) string {
	var notes []string
	if turn.Error != "" {
		notes = append(notes, theme.ErrorStyle.Render("error: "+turn.Error))
	}
	switch {
	case turn.Control.CanStop:
		notes = append(notes, theme.HintStyle.Render("generating · ctrl+x to stop"))
	case turn.FinishReason == protocol.FinishCancelled:
		notes = append(notes, theme.HintStyle.Render("stopped"))
	case turn.Control.CanContinue:
		notes = append(notes, theme.HintStyle.Render(fmt.Sprintf("truncated · /continue %d or ctrl+o", i+1)))
	}
	return strings.Join(notes, "  ")
}

func quotePreview(source string) string {
	flat := strings.Join(strings.Fields(source), " ")
	runes := []rune(flat)
	if len(runes) > maxSourcePreview {
		flat = string(runes[:maxSourcePreview-1]) + "…"
	}
	return fmt.Sprintf("%q", flat)
}

func renderPanel(width int, style lipgloss.Style, content string) string {
	if width > 0 {
		return style.Width(width).Render(content)
	}
	return style.Render(content)
}

func (m *ChatModel) isAtBottom() bool {
	if m.viewportHeight <= 0 {
		return true
	}
	return m.scrollTop >= m.maxScrollTop()
}

func (m *ChatModel) maxScrollTop() int {
	if m.viewportHeight <= 0 {
		return 0
	}
	maxTop := len(m.lines) - m.viewportHeight
	if maxTop < 0 {
		return 0
	}
	return maxTop
}

func (m *ChatModel) scrollToBottom() {
	m.scrollTop = m.maxScrollTop()
}

func (m *ChatModel) clampScrollTop() {
	if m.scrollTop < 0 {
		m.scrollTop = 0
		return
	}
	maxTop := m.maxScrollTop()
	if m.scrollTop > maxTop {
		m.scrollTop = maxTop
	}
}
