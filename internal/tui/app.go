// Package tui is the terminal display surface: it renders the turn list,
// lets the user apply a trigger to pasted text, and drives stop, continue
// and remove.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"ghostwriter/internal/bus"
	"ghostwriter/internal/completion"
	"ghostwriter/internal/display"
	"ghostwriter/internal/menu"
	"ghostwriter/internal/notify"
	"ghostwriter/internal/protocol"
)

const (
	defaultAppWidth = 100
	actionTimeout   = 10 * time.Second
)

// Backend starts generations and lists triggers, in process or over the bridge.
type Backend interface {
	Activate(ctx context.Context, triggerID, selection string) (string, error)
	Triggers(ctx context.Context) ([]menu.Trigger, error)
}

// AppConfig configures the root BubbleTea model.
type AppConfig struct {
	Version   string
	ModelName string
	Endpoint  string
	AvatarURL string
	ThemeName string

	Surface *display.Surface
	Events  <-chan protocol.Message
	// Notices carries notifications for failures that never reach a turn,
	// such as a missing API token.
	Notices <-chan notify.Notification
	Backend Backend
}

// surfaceEventMsg reports one lifecycle message already applied to the surface.
type surfaceEventMsg struct {
	Message protocol.Message
}

type eventsClosedMsg struct{}

type noticeMsg struct {
	Notification notify.Notification
}

type noticesClosedMsg struct{}

type triggersLoadedMsg struct {
	Selection string
	Triggers  []menu.Trigger
	Err       error
}

type activatedMsg struct {
	TriggerID string
	TurnID    string
	Err       error
}

// actionDoneMsg reports a finished surface action.
type actionDoneMsg struct {
	Notice string
	Err    error
}

// App is the root TUI model.
type App struct {
	theme   Theme
	surface *display.Surface
	events  <-chan protocol.Message
	notices <-chan notify.Notification
	backend Backend

	width  int
	height int

	status StatusModel
	chat   ChatModel
	input  InputModel
	picker *pickerState

	notice      string
	noticeError bool
	// noticePinned keeps a persistent notification until the user acts.
	noticePinned bool
}

// NewApp constructs the root TUI model. cfg.Surface must already be mounted.
func NewApp(cfg AppConfig) *App {
	theme := ResolveTheme(cfg.ThemeName)
	model := &App{
		theme:   theme,
		surface: cfg.Surface,
		events:  cfg.Events,
		notices: cfg.Notices,
		backend: cfg.Backend,
		width:   defaultAppWidth,
		status:  NewStatusModel(cfg.Version, cfg.ModelName, cfg.Endpoint, cfg.AvatarURL),
		chat:    NewChatModel(theme),
		input:   NewInputModel(">", "Paste text and press Enter, or /help", theme),
	}
	if model.surface == nil {
		model.surface = display.New(nopController{}, nil)
	}
	model.chat.SetWidth(model.width)
	model.chat.SetTurns(model.surface.Turns())
	return model
}

// Init starts following lifecycle messages.
func (m *App) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.waitForNotice(), m.refresh())
}

// Update applies state changes from user input and runtime events.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chat.SetWidth(m.width)
		m.chat.SetViewportHeight(m.chatViewportHeight())
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case spinner.TickMsg:
		return m, m.status.Update(msg)

	case surfaceEventMsg:
		return m, tea.Batch(m.refresh(), m.waitForEvent())

	case eventsClosedMsg:
		m.events = nil
		m.status.SetState(stateDisconnected)
		m.setError("event stream closed")
		return m, nil

	case noticeMsg:
		n := msg.Notification
		m.setError(strings.TrimSuffix(n.Title, ".") + ". " + n.Body)
		m.noticePinned = n.Persistent
		var stateCmd tea.Cmd
		if m.status.State != stateDisconnected {
			stateCmd = m.status.SetState(stateFailed)
		}
		return m, tea.Batch(stateCmd, m.waitForNotice())

	case noticesClosedMsg:
		m.notices = nil
		return m, nil

	case triggersLoadedMsg:
		if msg.Err != nil {
			m.setError(fmt.Sprintf("list triggers: %v", msg.Err))
			return m, nil
		}
		if msg.Selection == "" {
			m.setNotice(formatTriggers(msg.Triggers))
			return m, nil
		}
		m.picker = &pickerState{Selection: msg.Selection, Items: msg.Triggers}
		return m, nil

	case activatedMsg:
		if msg.Err != nil {
			m.setError(activationError(msg.Err))
			return m, nil
		}
		if !m.noticePinned {
			m.setNotice("")
		}
		return m, nil

	case actionDoneMsg:
		if msg.Err != nil {
			m.setError(actionError(msg.Err))
		} else if msg.Notice != "" {
			m.setNotice(msg.Notice)
		}
		return m, m.refresh()
	}

	return m, nil
}

// View renders status bar, turns or the trigger picker, notice, and input line.
func (m *App) View() string {
	width := m.width
	if width <= 0 {
		width = defaultAppWidth
	}

	rows := []string{m.status.Render(width, m.theme)}
	m.chat.SetViewportHeight(m.chatViewportHeight())
	if m.picker != nil {
		rows = append(rows, m.renderPicker(width))
	} else {
		rows = append(rows, m.chat.Render(width))
	}
	if m.notice != "" {
		style := m.theme.HintStyle
		if m.noticeError {
			style = m.theme.ErrorStyle
		}
		rows = append(rows, style.Render(m.notice))
	}
	rows = append(rows, m.input.Render(width))
	return strings.Join(rows, "\n")
}

func (m *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit
	case "ctrl+x":
		return m.stop()
	case "ctrl+o":
		return m.continueLast()
	}

	if m.picker != nil {
		return m.handlePickerKey(msg)
	}
	if m.handleChatScrollKey(msg) {
		return nil
	}
	if msg.Type == tea.KeyEsc {
		m.setNotice("")
		return nil
	}

	submitted, cmd := m.input.HandleKey(msg)
	if !submitted {
		return cmd
	}
	content := strings.TrimSpace(m.input.Value())
	if content == "" {
		return nil
	}
	if strings.HasPrefix(content, "/") {
		m.input.Clear()
		return m.executeSlashCommand(content)
	}
	return m.loadTriggers(content)
}

func (m *App) handleChatScrollKey(msg tea.KeyMsg) bool {
	switch msg.Type {
	case tea.KeyUp:
		m.chat.ScrollUp(1)
		return true
	case tea.KeyDown:
		m.chat.ScrollDown(1)
		return true
	case tea.KeyPgUp:
		m.chat.PageUp()
		return true
	case tea.KeyPgDown:
		m.chat.PageDown()
		return true
	case tea.KeyHome:
		m.chat.ScrollToTop()
		return true
	case tea.KeyEnd:
		m.chat.ScrollToBottom()
		return true
	default:
		return false
	}
}

// waitForEvent applies the next lifecycle message off the UI goroutine so a
// remote store round-trip never blocks rendering. Only one wait is
// outstanding at a time, which keeps messages in order.
func (m *App) waitForEvent() tea.Cmd {
	events, surface := m.events, m.surface
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		surface.Apply(context.Background(), msg)
		return surfaceEventMsg{Message: msg}
	}
}

func (m *App) waitForNotice() tea.Cmd {
	notices := m.notices
	if notices == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-notices
		if !ok {
			return noticesClosedMsg{}
		}
		return noticeMsg{Notification: n}
	}
}

// refresh pulls the turn list from the surface and derives the status state.
func (m *App) refresh() tea.Cmd {
	turns := m.surface.Turns()
	m.chat.SetTurns(turns)
	if m.status.State == stateDisconnected {
		return nil
	}
	return m.status.SetState(deriveState(turns))
}

func deriveState(turns []protocol.Turn) string {
	for _, turn := range turns {
		if turn.Control.CanStop {
			return stateStreaming
		}
	}
	if n := len(turns); n > 0 && turns[n-1].Error != "" {
		return stateFailed
	}
	return stateIdle
}

func (m *App) loadTriggers(selection string) tea.Cmd {
	if m.backend == nil {
		m.setError("no background session configured")
		return nil
	}
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		triggers, err := backend.Triggers(ctx)
		return triggersLoadedMsg{Selection: selection, Triggers: triggers, Err: err}
	}
}

func (m *App) activate(triggerID, selection string) tea.Cmd {
	backend := m.backend
	m.setNotice("Starting " + triggerID + "…")
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		turnID, err := backend.Activate(ctx, triggerID, selection)
		return activatedMsg{TriggerID: triggerID, TurnID: turnID, Err: err}
	}
}

func (m *App) stop() tea.Cmd {
	surface := m.surface
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := surface.Stop(ctx); err != nil {
			return actionDoneMsg{Err: err}
		}
		return actionDoneMsg{Notice: "Stop requested."}
	}
}

func (m *App) continueTurn(i int) tea.Cmd {
	surface := m.surface
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := surface.Continue(ctx, i); err != nil {
			return actionDoneMsg{Err: err}
		}
		return actionDoneMsg{Notice: fmt.Sprintf("Continuing turn %d.", i+1)}
	}
}

func (m *App) remove(i int) tea.Cmd {
	surface := m.surface
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := surface.Remove(ctx, i); err != nil {
			return actionDoneMsg{Err: err}
		}
		return actionDoneMsg{Notice: fmt.Sprintf("Removed turn %d.", i+1)}
	}
}

func (m *App) clear() tea.Cmd {
	surface := m.surface
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := surface.Clear(ctx); err != nil {
			return actionDoneMsg{Err: err}
		}
		return actionDoneMsg{Notice: "Cleared all turns."}
	}
}

func (m *App) setNotice(text string) {
	m.notice = strings.TrimSpace(text)
	m.noticeError = false
	m.noticePinned = false
}

func (m *App) setError(text string) {
	m.notice = "Error: " + strings.TrimSpace(text)
	m.noticeError = true
	m.noticePinned = false
}

func activationError(err error) string {
	switch {
	case errors.Is(err, completion.ErrBusy):
		return "a generation is already running, stop it first with ctrl+x"
	case errors.Is(err, menu.ErrEmptySelection):
		return "nothing to send, the selection is empty"
	case errors.Is(err, menu.ErrUnknownTrigger):
		return err.Error()
	default:
		return fmt.Sprintf("activate: %v", err)
	}
}

func actionError(err error) string {
	switch {
	case errors.Is(err, bus.ErrNoReceiver):
		return "no background session is listening"
	case errors.Is(err, display.ErrNoTurn):
		return "no such turn"
	case errors.Is(err, display.ErrNotContinuable):
		return "that turn cannot be continued"
	default:
		return err.Error()
	}
}

func formatTriggers(triggers []menu.Trigger) string {
	if len(triggers) == 0 {
		return "No triggers registered."
	}
	lines := make([]string, 0, len(triggers)+1)
	lines = append(lines, "Triggers:")
	for _, trigger := range triggers {
		lines = append(lines, fmt.Sprintf("%s  %s", trigger.ID, trigger.Label))
	}
	return strings.Join(lines, "\n")
}

func (m *App) chatViewportHeight() int {
	if m.height <= 0 {
		return 0
	}

	nonBodyRows := 2 // status + input
	if m.notice != "" {
		nonBodyRows += strings.Count(m.notice, "\n") + 1
	}
	bodyHeight := m.height - nonBodyRows
	if bodyHeight < 1 {
		return 1
	}

	contentHeight := bodyHeight - m.theme.PanelStyle.GetVerticalFrameSize()
	if contentHeight < 1 {
		return 1
	}
	return contentHeight
}

type nopController struct{}

func (nopController) SendControl(protocol.Control) error { return bus.ErrNoReceiver }
