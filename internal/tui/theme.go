package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme contains style tokens used by the terminal UI.
type Theme struct {
	Name string
	// Markdown is the glamour standard style used for finished turns.
	Markdown string

	StatusBarStyle            lipgloss.Style
	PanelStyle                lipgloss.Style
	PickerStyle               lipgloss.Style
	SourcePrefixStyle         lipgloss.Style
	AssistantPrefixStyle      lipgloss.Style
	ErrorStyle                lipgloss.Style
	HintStyle                 lipgloss.Style
	CursorStyle               lipgloss.Style
	InputPromptStyle          lipgloss.Style
	InputTextStyle            lipgloss.Style
	InputPlaceholderTextStyle lipgloss.Style
}

// ResolveTheme returns the configured theme or the dark default. "plain"
// disables colors, which keeps rendered output stable in tests and pipes.
func ResolveTheme(name string) Theme {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "light":
		return newLightTheme()
	case "plain", "notty":
		return newPlainTheme()
	default:
		return newDarkTheme()
	}
}

func newDarkTheme() Theme {
	border := lipgloss.Color("63")
	muted := lipgloss.Color("245")
	return Theme{
		Name:     "dark",
		Markdown: "dark",
		StatusBarStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("63")).
			Padding(0, 1),
		PanelStyle: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(border).
			Padding(0, 1),
		PickerStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("220")).
			Padding(0, 1),
		SourcePrefixStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		AssistantPrefixStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true),
		ErrorStyle:           lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		HintStyle:            lipgloss.NewStyle().Foreground(muted).Italic(true),
		CursorStyle:          lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true),
		InputPromptStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		InputTextStyle:       lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		InputPlaceholderTextStyle: lipgloss.NewStyle().
			Foreground(muted).
			Italic(true),
	}
}

func newLightTheme() Theme {
	border := lipgloss.Color("246")
	muted := lipgloss.Color("240")
	return Theme{
		Name:     "light",
		Markdown: "light",
		StatusBarStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("189")).
			Padding(0, 1),
		PanelStyle: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(border).
			Padding(0, 1),
		PickerStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("94")).
			Padding(0, 1),
		SourcePrefixStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("25")).Bold(true),
		AssistantPrefixStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("94")).Bold(true),
		ErrorStyle:           lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true),
		HintStyle:            lipgloss.NewStyle().Foreground(muted).Italic(true),
		CursorStyle:          lipgloss.NewStyle().Foreground(lipgloss.Color("94")).Bold(true),
		InputPromptStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("25")).Bold(true),
		InputTextStyle:       lipgloss.NewStyle().Foreground(lipgloss.Color("16")),
		InputPlaceholderTextStyle: lipgloss.NewStyle().
			Foreground(muted).
			Italic(true),
	}
}

func newPlainTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{
		Name:                      "plain",
		Markdown:                  "notty",
		StatusBarStyle:            plain,
		PanelStyle:                lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1),
		PickerStyle:               lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1),
		SourcePrefixStyle:         plain,
		AssistantPrefixStyle:      plain,
		ErrorStyle:                plain,
		HintStyle:                 plain,
		CursorStyle:               plain,
		InputPromptStyle:          plain,
		InputTextStyle:            plain,
		InputPlaceholderTextStyle: plain,
	}
}
