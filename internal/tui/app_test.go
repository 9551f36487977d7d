package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"ghostwriter/internal/bus"
	"ghostwriter/internal/completion"
	"ghostwriter/internal/display"
	"ghostwriter/internal/menu"
	"ghostwriter/internal/notify"
	"ghostwriter/internal/protocol"
)

type fakeBackend struct {
	mu          sync.Mutex
	triggers    []menu.Trigger
	activateErr error
	activations []string
}

func (b *fakeBackend) Activate(_ context.Context, triggerID, selection string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activations = append(b.activations, triggerID+":"+selection)
	if b.activateErr != nil {
		return "", b.activateErr
	}
	return "turn-1", nil
}

func (b *fakeBackend) Triggers(context.Context) ([]menu.Trigger, error) {
	return b.triggers, nil
}

type fakeController struct {
	mu   sync.Mutex
	err  error
	sent []protocol.Control
}

func (c *fakeController) SendControl(cmd protocol.Control) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, cmd)
	return nil
}

type appFixture struct {
	app     *App
	events  chan protocol.Message
	notices chan notify.Notification
	backend *fakeBackend
	ctl     *fakeController
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	ctl := &fakeController{}
	backend := &fakeBackend{triggers: []menu.Trigger{
		{ID: "proofreading", Label: `Proofread "%s"`},
		{ID: "generate-title", Label: `Generate a title for "%s"`},
	}}
	events := make(chan protocol.Message, 16)
	notices := make(chan notify.Notification, 4)
	app := NewApp(AppConfig{
		ModelName: "gpt-4o-mini",
		AvatarURL: "https://example.com/me.png",
		ThemeName: "plain",
		Surface:   display.New(ctl, nil),
		Events:    events,
		Notices:   notices,
		Backend:   backend,
	})
	return &appFixture{app: app, events: events, notices: notices, backend: backend, ctl: ctl}
}

// deliver sends msgs and lets the app apply each of them.
func (f *appFixture) deliver(t *testing.T, msgs ...protocol.Message) tea.Cmd {
	t.Helper()
	var last tea.Cmd
	for _, msg := range msgs {
		f.events <- msg
		wait := f.app.waitForEvent()
		if wait == nil {
			t.Fatal("app is not following events")
		}
		_, last = f.app.Update(wait())
	}
	return last
}

// press sends one key and runs the resulting command once.
func (f *appFixture) press(t *testing.T, key tea.KeyMsg) {
	t.Helper()
	_, cmd := f.app.Update(key)
	if cmd == nil {
		return
	}
	if msg := cmd(); msg != nil {
		_, _ = f.app.Update(msg)
	}
}

func (f *appFixture) submit(t *testing.T, text string) {
	t.Helper()
	f.app.input.SetValue(text)
	f.press(t, tea.KeyMsg{Type: tea.KeyEnter})
}

func TestInputModelHandleKey(t *testing.T) {
	t.Parallel()

	input := NewInputModel(">", "placeholder", ResolveTheme("plain"))
	if submitted, _ := input.HandleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("h")}); submitted {
		t.Fatalf("unexpected submit on rune key")
	}
	if submitted, _ := input.HandleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("i")}); submitted {
		t.Fatalf("unexpected submit on rune key")
	}
	if got := input.Value(); got != "hi" {
		t.Fatalf("input value = %q, want hi", got)
	}

	if submitted, _ := input.HandleKey(tea.KeyMsg{Type: tea.KeyBackspace}); submitted {
		t.Fatalf("unexpected submit on backspace")
	}
	if got := input.Value(); got != "h" {
		t.Fatalf("input value after backspace = %q, want h", got)
	}

	if submitted, _ := input.HandleKey(tea.KeyMsg{Type: tea.KeyEnter}); !submitted {
		t.Fatalf("expected submit on enter")
	}
}

func TestAppEnterOpensPickerAndActivatesTrigger(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	f.submit(t, "hello wrld")

	if f.app.picker == nil {
		t.Fatal("picker not opened on submit")
	}
	view := f.app.View()
	if !strings.Contains(view, `Proofread "hello wrld"`) {
		t.Fatalf("picker view missing rendered label: %q", view)
	}

	f.press(t, tea.KeyMsg{Type: tea.KeyDown})
	f.press(t, tea.KeyMsg{Type: tea.KeyEnter})

	if f.app.picker != nil {
		t.Fatal("picker still open after activation")
	}
	if got := f.backend.activations; len(got) != 1 || got[0] != "generate-title:hello wrld" {
		t.Fatalf("activations = %v, want [generate-title:hello wrld]", got)
	}
	if got := f.app.input.Value(); got != "" {
		t.Fatalf("input value = %q, want cleared", got)
	}
}

func TestAppPickerDigitAndEscape(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	f.submit(t, "draft")
	f.press(t, tea.KeyMsg{Type: tea.KeyEsc})
	if f.app.picker != nil {
		t.Fatal("picker still open after esc")
	}
	if len(f.backend.activations) != 0 {
		t.Fatalf("activations = %v, want none", f.backend.activations)
	}

	f.submit(t, "draft")
	f.press(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("1")})
	if got := f.backend.activations; len(got) != 1 || got[0] != "proofreading:draft" {
		t.Fatalf("activations = %v, want [proofreading:draft]", got)
	}
}

func TestAppShowsActivationErrors(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	f.backend.activateErr = completion.ErrBusy
	f.submit(t, "text")
	f.press(t, tea.KeyMsg{Type: tea.KeyEnter})

	if !f.app.noticeError || !strings.Contains(f.app.notice, "already running") {
		t.Fatalf("notice = %q, want busy error", f.app.notice)
	}
}

func TestAppShowsPersistentNotification(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	f.submit(t, "draft")
	_, activate := f.app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if activate == nil {
		t.Fatal("expected activation command")
	}
	ack := activate()

	f.notices <- notify.Notification{
		Kind:       notify.KindMissingCredential,
		Title:      "API token is not configured",
		Body:       "Set it with: ghostwriter settings set apiToken <token>",
		Persistent: true,
	}
	wait := f.app.waitForNotice()
	if wait == nil {
		t.Fatal("app is not following notices")
	}
	_, next := f.app.Update(wait())
	if next == nil {
		t.Fatal("app stopped following notices")
	}

	// The activation ack arrives after the notice and must not clear it.
	_, _ = f.app.Update(ack)

	view := f.app.View()
	for _, want := range []string{"API token is not configured", "settings set apiToken"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
	if got := f.app.status.State; got != stateFailed {
		t.Fatalf("status state = %q, want %q", got, stateFailed)
	}

	f.press(t, tea.KeyMsg{Type: tea.KeyEsc})
	if f.app.notice != "" {
		t.Fatalf("notice after esc = %q, want empty", f.app.notice)
	}
}

func TestAppRendersStreamingTurn(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	cmd := f.deliver(t,
		protocol.Start("t1", "proofreading", "hello wrld"),
		protocol.InProgress("t1", "Hello", "hello wrld"),
		protocol.InProgress("t1", ", world", "hello wrld"),
	)
	if cmd == nil {
		t.Fatal("expected follow-up command while streaming")
	}

	turns := f.app.chat.Turns()
	if len(turns) != 1 || turns[0].Text() != "Hello, world" {
		t.Fatalf("turns = %#v, want one turn with Hello, world", turns)
	}
	if got := f.app.status.State; got != stateStreaming {
		t.Fatalf("status state = %q, want %q", got, stateStreaming)
	}
	view := f.app.View()
	if !strings.Contains(view, "ctrl+x to stop") {
		t.Fatalf("view missing stop affordance: %q", view)
	}
	if !strings.Contains(view, "avatar: https://example.com/me.png") {
		t.Fatalf("status bar missing avatar: %q", view)
	}

	f.deliver(t, protocol.End("t1", "hello wrld", protocol.FinishLength, ""))
	if got := f.app.status.State; got != stateIdle {
		t.Fatalf("status state = %q, want %q", got, stateIdle)
	}
	view = f.app.View()
	if !strings.Contains(view, "/continue 1") {
		t.Fatalf("view missing continue affordance: %q", view)
	}
	if !strings.Contains(view, "Hello, world") {
		t.Fatalf("view missing turn text: %q", view)
	}
}

func TestAppShowsFailureLabel(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	f.deliver(t,
		protocol.Start("t1", "proofreading", "x"),
		protocol.End("t1", "x", protocol.FinishError, completion.FailureLabel),
	)
	if got := f.app.status.State; got != stateFailed {
		t.Fatalf("status state = %q, want %q", got, stateFailed)
	}
	if view := f.app.View(); !strings.Contains(view, "error: request failed") {
		t.Fatalf("view missing failure label: %q", view)
	}
}

func TestAppStopAndContinueSendControls(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	f.deliver(t,
		protocol.Start("t1", "proofreading", "x"),
		protocol.InProgress("t1", "partial", "x"),
	)

	f.press(t, tea.KeyMsg{Type: tea.KeyCtrlX})
	if len(f.ctl.sent) != 1 || !f.ctl.sent[0].Stop {
		t.Fatalf("sent = %#v, want one stop", f.ctl.sent)
	}
	if f.app.chat.Turns()[0].Control.CanStop {
		t.Fatal("stop affordance still shown after stop")
	}

	f.deliver(t, protocol.End("t1", "x", protocol.FinishLength, ""))
	f.press(t, tea.KeyMsg{Type: tea.KeyCtrlO})
	if len(f.ctl.sent) != 2 || !f.ctl.sent[1].Continue || f.ctl.sent[1].Chat == nil || f.ctl.sent[1].Chat.ID != "t1" {
		t.Fatalf("sent = %#v, want continue of t1", f.ctl.sent)
	}
	if f.app.chat.Turns()[0].Control.CanContinue {
		t.Fatal("continue affordance still shown after continue")
	}
}

func TestAppStopWithoutSessionShowsError(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	f.ctl.err = bus.ErrNoReceiver
	f.press(t, tea.KeyMsg{Type: tea.KeyCtrlX})
	if !f.app.noticeError || !strings.Contains(f.app.notice, "no background session") {
		t.Fatalf("notice = %q, want no receiver error", f.app.notice)
	}
}

func TestAppSlashCommands(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	f.deliver(t,
		protocol.Start("t1", "proofreading", "one"),
		protocol.End("t1", "one", protocol.FinishStop, ""),
		protocol.Start("t2", "proofreading", "two"),
		protocol.End("t2", "two", protocol.FinishStop, ""),
	)

	f.submit(t, "/help")
	for _, want := range []string{"/stop", "/continue [n]", "/remove <n>", "/triggers", "/clear"} {
		if !strings.Contains(f.app.notice, want) {
			t.Fatalf("help notice missing %q: %q", want, f.app.notice)
		}
	}

	f.submit(t, "/triggers")
	if !strings.Contains(f.app.notice, "generate-title") {
		t.Fatalf("triggers notice = %q, want trigger ids", f.app.notice)
	}
	if f.app.picker != nil {
		t.Fatal("/triggers must not open the picker")
	}

	f.submit(t, "/continue")
	if !strings.Contains(f.app.notice, "No truncated turn") {
		t.Fatalf("notice = %q, want nothing to continue", f.app.notice)
	}

	f.submit(t, "/continue 1")
	if !f.app.noticeError || !strings.Contains(f.app.notice, "cannot be continued") {
		t.Fatalf("notice = %q, want not continuable error", f.app.notice)
	}

	f.submit(t, "/remove 1")
	turns := f.app.chat.Turns()
	if len(turns) != 1 || turns[0].ID != "t2" {
		t.Fatalf("turns after remove = %#v, want only t2", turns)
	}

	f.submit(t, "/remove 5")
	if !f.app.noticeError || !strings.Contains(f.app.notice, "no such turn") {
		t.Fatalf("notice = %q, want no such turn", f.app.notice)
	}

	f.submit(t, "/remove x")
	if !f.app.noticeError || !strings.Contains(f.app.notice, "invalid turn number") {
		t.Fatalf("notice = %q, want invalid number", f.app.notice)
	}

	f.submit(t, "/clear")
	if got := len(f.app.chat.Turns()); got != 0 {
		t.Fatalf("turns after clear = %d, want 0", got)
	}

	f.submit(t, "/bogus")
	if !f.app.noticeError || !strings.Contains(f.app.notice, "unknown command /bogus") {
		t.Fatalf("notice = %q, want unknown command", f.app.notice)
	}
}

func TestAppEventStreamClosed(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	close(f.events)
	_, _ = f.app.Update(f.app.waitForEvent()())
	if got := f.app.status.State; got != stateDisconnected {
		t.Fatalf("status state = %q, want %q", got, stateDisconnected)
	}
	if f.app.waitForEvent() != nil {
		t.Fatal("app keeps waiting on a closed stream")
	}
}

func TestAppArrowKeysScrollChat(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		f.deliver(t,
			protocol.Start(id, "proofreading", "source "+id),
			protocol.End(id, "source "+id, protocol.FinishStop, ""),
		)
	}
	_, _ = f.app.Update(tea.WindowSizeMsg{Width: 80, Height: 8})

	before := f.app.chat.scrollTop
	if before == 0 {
		t.Fatal("expected chat to follow the newest turn")
	}
	f.press(t, tea.KeyMsg{Type: tea.KeyUp})
	if got := f.app.chat.scrollTop; got != before-1 {
		t.Fatalf("scrollTop after up = %d, want %d", got, before-1)
	}
	f.press(t, tea.KeyMsg{Type: tea.KeyHome})
	if got := f.app.chat.scrollTop; got != 0 {
		t.Fatalf("scrollTop after home = %d, want 0", got)
	}
	f.press(t, tea.KeyMsg{Type: tea.KeyEnd})
	if got := f.app.chat.scrollTop; got != before {
		t.Fatalf("scrollTop after end = %d, want %d", got, before)
	}
}

func TestActionErrorMapping(t *testing.T) {
	t.Parallel()

	if got := actionError(errors.New("boom")); got != "boom" {
		t.Fatalf("actionError = %q, want boom", got)
	}
	if got := activationError(menu.ErrEmptySelection); !strings.Contains(got, "empty") {
		t.Fatalf("activationError = %q, want empty selection text", got)
	}
}
