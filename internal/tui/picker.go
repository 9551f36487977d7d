package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"ghostwriter/internal/menu"
)

// pickerState is the open trigger menu for one selection.
type pickerState struct {
	Selection string
	Items     []menu.Trigger
	Cursor    int
}

func (p *pickerState) move(delta int) {
	if len(p.Items) == 0 {
		return
	}
	p.Cursor = (p.Cursor + delta + len(p.Items)) % len(p.Items)
}

func (p *pickerState) selected() (menu.Trigger, bool) {
	if len(p.Items) == 0 || p.Cursor < 0 || p.Cursor >= len(p.Items) {
		return menu.Trigger{}, false
	}
	return p.Items[p.Cursor], true
}

func (m *App) handlePickerKey(msg tea.KeyMsg) tea.Cmd {
	if m.picker == nil {
		return nil
	}

	switch msg.Type {
	case tea.KeyEsc:
		m.picker = nil
		m.setNotice("Selection cancelled.")
		return nil
	case tea.KeyUp, tea.KeyShiftTab:
		m.picker.move(-1)
		return nil
	case tea.KeyDown, tea.KeyTab:
		m.picker.move(1)
		return nil
	case tea.KeyEnter:
		trigger, ok := m.picker.selected()
		selection := m.picker.Selection
		m.picker = nil
		if !ok {
			return nil
		}
		m.input.Clear()
		return m.activate(trigger.ID, selection)
	}

	// Digits pick an entry directly.
	if len(msg.Runes) == 1 && msg.Runes[0] >= '1' && msg.Runes[0] <= '9' {
		index := int(msg.Runes[0] - '1')
		if index < len(m.picker.Items) {
			m.picker.Cursor = index
			return m.handlePickerKey(tea.KeyMsg{Type: tea.KeyEnter})
		}
	}
	return nil
}

func (m *App) renderPicker(width int) string {
	p := m.picker
	lines := []string{
		m.theme.SourcePrefixStyle.Render("Apply a trigger"),
		m.theme.HintStyle.Render("↑/↓ to navigate, Enter or 1-9 to run, Esc to cancel."),
	}
	if len(p.Items) == 0 {
		lines = append(lines, "No triggers registered. Add one with `ghostwriter triggers add`.")
	}
	for i, item := range p.Items {
		prefix := "  "
		label := menu.Label(item.Label, p.Selection)
		if i == p.Cursor {
			prefix = m.theme.CursorStyle.Render("> ")
			label = m.theme.CursorStyle.Render(label)
		}
		lines = append(lines, prefix+label)
	}
	return renderPanel(width, m.theme.PickerStyle, strings.Join(lines, "\n"))
}
