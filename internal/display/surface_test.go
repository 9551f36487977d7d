package display

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostwriter/internal/protocol"
	"ghostwriter/internal/store"
)

type recordingController struct {
	mu   sync.Mutex
	cmds []protocol.Control
	err  error
}

func (r *recordingController) SendControl(cmd protocol.Control) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *recordingController) sent() []protocol.Control {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Control(nil), r.cmds...)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "display.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func stream(id string, deltas []string, reason protocol.FinishReason) []protocol.Message {
	msgs := []protocol.Message{protocol.Start(id, "proofreading", "source")}
	for _, d := range deltas {
		msgs = append(msgs, protocol.InProgress(id, d, "source"))
	}
	return append(msgs, protocol.End(id, "source", reason, ""))
}

func TestReduceControlFlags(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var turns []protocol.Turn
	var i int

	turns, i = Reduce(turns, protocol.Start("t1", "proofreading", "source"), now)
	require.Equal(t, 0, i)
	assert.True(t, turns[0].Control.CanStop)
	assert.Equal(t, "proofreading", turns[0].Kind)
	assert.Equal(t, now, turns[0].CreatedAt)

	turns, _ = Reduce(turns, protocol.InProgress("t1", "Hello", "source"), now)
	turns, _ = Reduce(turns, protocol.InProgress("t1", ", world", "source"), now)
	assert.Equal(t, "Hello, world", turns[0].Text())
	assert.True(t, turns[0].Control.CanStop)

	turns, _ = Reduce(turns, protocol.End("t1", "source", protocol.FinishLength, ""), now)
	assert.Equal(t, protocol.ControlState{CanStop: false, CanContinue: true}, turns[0].Control)

	turns, _ = Reduce(turns, protocol.InProgress("t1", " more", "source"), now)
	assert.Equal(t, protocol.ControlState{CanStop: true}, turns[0].Control)
	assert.Empty(t, turns[0].FinishReason)

	turns, _ = Reduce(turns, protocol.End("t1", "source", protocol.FinishStop, ""), now)
	assert.Equal(t, protocol.ControlState{}, turns[0].Control)
	assert.Equal(t, []string{"Hello", ", world", " more"}, turns[0].Segments)
}

func TestReduceRoutesByID(t *testing.T) {
	t.Parallel()

	now := time.Now()
	turns, _ := Reduce(nil, protocol.Start("a", "k", "s"), now)
	turns, _ = Reduce(turns, protocol.Start("b", "k", "s"), now)

	turns, i := Reduce(turns, protocol.InProgress("a", "late", "s"), now)
	assert.Equal(t, 0, i)
	assert.Equal(t, "late", turns[0].Text())
	assert.Empty(t, turns[1].Segments)

	_, i = Reduce(turns, protocol.InProgress("ghost", "x", "s"), now)
	assert.Equal(t, -1, i)
	_, i = Reduce(turns, protocol.Start("a", "k", "s"), now)
	assert.Equal(t, -1, i, "duplicate start is dropped")
	_, i = Reduce(turns, protocol.Smoke(), now)
	assert.Equal(t, -1, i)
}

func TestErrorEndKeepsLabelOutOfSegments(t *testing.T) {
	t.Parallel()

	turns, _ := Reduce(nil, protocol.Start("t", "k", "s"), time.Now())
	turns, _ = Reduce(turns, protocol.End("t", "s", protocol.FinishError, "request failed"), time.Now())
	assert.Equal(t, "request failed", turns[0].Error)
	assert.Empty(t, turns[0].Segments)
	assert.False(t, turns[0].Control.CanContinue)
}

func TestRemovePreservesOrderAndPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openStore(t)
	s := New(&recordingController{}, StoreTurns{Store: st})
	require.NoError(t, s.Mount(ctx))

	for _, id := range []string{"a", "b", "c"} {
		for _, msg := range stream(id, []string{id}, protocol.FinishStop) {
			s.Apply(ctx, msg)
		}
	}
	require.NoError(t, s.Remove(ctx, 1))

	ids := func(turns []protocol.Turn) []string {
		out := make([]string, 0, len(turns))
		for _, turn := range turns {
			out = append(out, turn.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a", "c"}, ids(s.Turns()))

	stored, err := StoreTurns{Store: st}.LoadTurns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(stored))

	reopened := New(&recordingController{}, StoreTurns{Store: st})
	require.NoError(t, reopened.Mount(ctx))
	assert.Equal(t, s.Turns(), reopened.Turns())

	assert.ErrorIs(t, s.Remove(ctx, 5), ErrNoTurn)
}

func TestConcurrentSurfacesConverge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openStore(t)
	first := New(&recordingController{}, StoreTurns{Store: st})
	second := New(&recordingController{}, StoreTurns{Store: st})
	require.NoError(t, first.Mount(ctx))
	require.NoError(t, second.Mount(ctx))

	first.Apply(ctx, protocol.Start("one", "k", "s"))
	second.Apply(ctx, protocol.Start("two", "k", "s"))
	first.Apply(ctx, protocol.InProgress("one", "x", "s"))

	stored, err := StoreTurns{Store: st}.LoadTurns(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "one", stored[0].ID)
	assert.Equal(t, "x", stored[0].Text())
	assert.Equal(t, "two", stored[1].ID)
}

func TestContinueSendsTurnAndClearsAffordance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctl := &recordingController{}
	s := New(ctl, nil)
	for _, msg := range stream("t1", []string{"Hello", ", world"}, protocol.FinishLength) {
		s.Apply(ctx, msg)
	}
	for _, msg := range stream("t2", []string{"done"}, protocol.FinishStop) {
		s.Apply(ctx, msg)
	}

	require.NoError(t, s.Continue(ctx, 0))
	cmds := ctl.sent()
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].Continue)
	require.NotNil(t, cmds[0].Chat)
	assert.Equal(t, "Hello, world", cmds[0].Chat.Text())
	assert.False(t, s.Turns()[0].Control.CanContinue)

	assert.ErrorIs(t, s.Continue(ctx, 0), ErrNotContinuable)
	assert.ErrorIs(t, s.Continue(ctx, 1), ErrNotContinuable)
	assert.ErrorIs(t, s.Continue(ctx, -1), ErrNoTurn)
}

func TestStopClearsAffordanceOnlyWhenSent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctl := &recordingController{err: errors.New("no session")}
	s := New(ctl, nil)
	s.Apply(ctx, protocol.Start("t1", "k", "s"))

	require.Error(t, s.Stop(ctx))
	assert.True(t, s.Turns()[0].Control.CanStop)

	ctl.err = nil
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Turns()[0].Control.CanStop)
	assert.Equal(t, []protocol.Control{protocol.StopCommand()}, ctl.sent())
}

func TestFollowAppliesUntilClosed(t *testing.T) {
	t.Parallel()

	msgs := make(chan protocol.Message, 8)
	for _, msg := range stream("t1", []string{"a", "b"}, protocol.FinishStop) {
		msgs <- msg
	}
	close(msgs)

	s := New(&recordingController{}, nil)
	changes := 0
	s.Follow(context.Background(), msgs, func() { changes++ })
	assert.Equal(t, 4, changes)
	assert.Equal(t, "ab", s.Turns()[0].Text())
}

func TestMerge(t *testing.T) {
	t.Parallel()

	stored := []protocol.Turn{{ID: "a"}, {ID: "b"}}
	got := Merge(stored, []protocol.Turn{{ID: "b", Kind: "new"}, {ID: "c"}}, []string{"a"})
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Kind)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, []protocol.Turn{}, Merge(nil, nil, []string{"x"}))
}
