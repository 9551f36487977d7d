package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const inputCharLimit = 8000

// InputModel is the single-line selection/command prompt.
type InputModel struct {
	field textinput.Model
}

// NewInputModel constructs the focused input.
func NewInputModel(prompt, placeholder string, theme Theme) InputModel {
	p := strings.TrimSpace(prompt)
	if p == "" {
		p = ">"
	}
	field := textinput.New()
	field.Prompt = p + " "
	field.Placeholder = strings.TrimSpace(placeholder)
	field.CharLimit = inputCharLimit
	field.PromptStyle = theme.InputPromptStyle
	field.TextStyle = theme.InputTextStyle
	field.PlaceholderStyle = theme.InputPlaceholderTextStyle
	field.Focus()
	return InputModel{field: field}
}

// Value returns current raw input text.
func (m InputModel) Value() string {
	return m.field.Value()
}

// SetValue replaces input text.
func (m *InputModel) SetValue(value string) {
	m.field.SetValue(value)
	m.field.CursorEnd()
}

// Clear resets input text.
func (m *InputModel) Clear() {
	m.field.Reset()
}

// HandleKey mutates input state and reports the submit key.
func (m *InputModel) HandleKey(msg tea.KeyMsg) (submitted bool, cmd tea.Cmd) {
	if msg.Type == tea.KeyEnter {
		return true, nil
	}
	m.field, cmd = m.field.Update(msg)
	return false, cmd
}

// Render draws the input line.
func (m InputModel) Render(width int) string {
	line := m.field.View()
	if width > 0 {
		return lipgloss.NewStyle().Width(width).Render(line)
	}
	return line
}
