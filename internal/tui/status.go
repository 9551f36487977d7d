package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	stateIdle         = "idle"
	stateStreaming    = "streaming"
	stateFailed       = "failed"
	stateDisconnected = "disconnected"
)

// StatusModel renders the top status bar.
type StatusModel struct {
	Version   string
	ModelName string
	Endpoint  string
	AvatarURL string
	State     string

	spinner  spinner.Model
	spinning bool
}

// NewStatusModel constructs status data for rendering.
func NewStatusModel(version, modelName, endpoint, avatarURL string) StatusModel {
	return StatusModel{
		Version:   strings.TrimSpace(version),
		ModelName: strings.TrimSpace(modelName),
		Endpoint:  strings.TrimSpace(endpoint),
		AvatarURL: strings.TrimSpace(avatarURL),
		State:     stateIdle,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

// SetState updates the runtime state token. Entering the streaming state
// returns the command that starts the spinner.
func (m *StatusModel) SetState(state string) tea.Cmd {
	m.State = strings.TrimSpace(state)
	if m.State == "" {
		m.State = stateIdle
	}
	if m.State != stateStreaming {
		m.spinning = false
		return nil
	}
	if m.spinning {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

// Update advances the spinner while streaming. Ticks arriving after the
// stream ended are dropped so the tick loop stops.
func (m *StatusModel) Update(msg spinner.TickMsg) tea.Cmd {
	if !m.spinning {
		return nil
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return cmd
}

// Render draws a one-line status bar.
func (m StatusModel) Render(width int, theme Theme) string {
	state := fallbackText(m.State, stateIdle)
	if m.spinning {
		state = m.spinner.View() + " " + state
	}
	parts := []string{
		"ghostwriter " + fallbackText(m.Version, "dev"),
		fallbackText(m.ModelName, "unknown-model"),
	}
	if m.Endpoint != "" {
		parts = append(parts, m.Endpoint)
	}
	if m.AvatarURL != "" {
		parts = append(parts, "avatar: "+m.AvatarURL)
	}
	parts = append(parts, "state: "+state)
	line := strings.Join(parts, " | ")
	style := theme.StatusBarStyle
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(line)
}

func fallbackText(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
