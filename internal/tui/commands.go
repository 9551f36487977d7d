package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"ghostwriter/internal/protocol"
)

var helpLines = []string{
	"Type or paste text and press Enter to pick a trigger.",
	"Keys: ctrl+x stop · ctrl+o continue last truncated turn · ↑/↓ pgup/pgdn scroll · ctrl+c quit",
	"Slash commands:",
	"/help",
	"/stop",
	"/continue [n]",
	"/remove <n>",
	"/triggers",
	"/clear",
	"/quit",
}

// executeSlashCommand parses and handles one slash command.
func (m *App) executeSlashCommand(content string) tea.Cmd {
	parts := strings.Fields(strings.TrimSpace(content))
	if len(parts) == 0 {
		return nil
	}
	command := strings.TrimPrefix(parts[0], "/")
	args := parts[1:]

	switch command {
	case "help":
		m.setNotice(strings.Join(helpLines, "\n"))
	case "stop":
		return m.stop()
	case "continue":
		if len(args) == 0 {
			return m.continueLast()
		}
		n, ok := m.parseTurnNumber(args[0])
		if !ok {
			return nil
		}
		return m.continueTurn(n - 1)
	case "remove":
		if len(args) == 0 {
			m.setError("usage: /remove <n>")
			return nil
		}
		n, ok := m.parseTurnNumber(args[0])
		if !ok {
			return nil
		}
		return m.remove(n - 1)
	case "triggers":
		return m.loadTriggers("")
	case "clear":
		return m.clear()
	case "quit", "exit":
		return tea.Quit
	default:
		m.setError(fmt.Sprintf("unknown command /%s, try /help", command))
	}
	return nil
}

func (m *App) parseTurnNumber(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(raw, "#"))
	if err != nil || n < 1 {
		m.setError(fmt.Sprintf("invalid turn number %q", raw))
		return 0, false
	}
	return n, true
}

// lastContinuable returns the index of the newest turn offering continue.
func lastContinuable(turns []protocol.Turn) int {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Control.CanContinue {
			return i
		}
	}
	return -1
}

func (m *App) continueLast() tea.Cmd {
	i := lastContinuable(m.surface.Turns())
	if i < 0 {
		m.setNotice("No truncated turn to continue.")
		return nil
	}
	return m.continueTurn(i)
}
