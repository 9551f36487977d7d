// Package background runs the completion session behind the message bus:
// it starts generations for trigger activations and applies control
// commands sent back by display surfaces.
package background

import (
	"context"
	"errors"
	"sync"

	"ghostwriter/internal/bus"
	"ghostwriter/internal/completion"
	"ghostwriter/internal/logger"
	"ghostwriter/internal/menu"
	"ghostwriter/internal/protocol"
)

// ErrNotRunning indicates an activation before Run or after it returned.
var ErrNotRunning = errors.New("background worker is not running")

// Activator validates trigger activations.
type Activator interface {
	Activate(triggerID, selection string) (menu.Activation, error)
}

// ControlSource provides the reverse channel of the bus.
type ControlSource interface {
	ListenControl() *bus.Subscription[protocol.Control]
}

// Worker owns the completion session for the lifetime of Run.
type Worker struct {
	session  *completion.Session
	triggers Activator
	controls ControlSource

	ready     chan struct{}
	readyOnce sync.Once

	mu   sync.Mutex
	base context.Context
	runs sync.WaitGroup
}

// New returns a worker. Call Run before activating triggers.
func New(session *completion.Session, triggers Activator, controls ControlSource) *Worker {
	return &Worker{session: session, triggers: triggers, controls: controls, ready: make(chan struct{})}
}

// Ready is closed once Run accepts activations.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Session returns the session driven by the worker.
func (w *Worker) Session() *completion.Session {
	return w.session
}

// Run serves control commands until ctx is done, then stops any in-flight
// generation and waits for it to end.
func (w *Worker) Run(ctx context.Context) error {
	sub := w.controls.ListenControl()
	defer sub.Close()

	w.mu.Lock()
	w.base = ctx
	w.mu.Unlock()
	w.readyOnce.Do(func() { close(w.ready) })

	defer func() {
		w.mu.Lock()
		w.base = nil
		w.mu.Unlock()
		w.session.Stop()
		w.runs.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-sub.C():
			if !ok {
				return nil
			}
			w.handle(ctx, cmd)
		}
	}
}

// Activate starts a generation for a trigger activation.
func (w *Worker) Activate(triggerID, selection string) (*completion.Run, error) {
	activation, err := w.triggers.Activate(triggerID, selection)
	if err != nil {
		return nil, err
	}
	ctx, err := w.reserve()
	if err != nil {
		return nil, err
	}
	run, err := w.session.Start(ctx, activation)
	if err != nil {
		w.runs.Done()
		return nil, err
	}
	w.track(run)
	return run, nil
}

func (w *Worker) handle(ctx context.Context, cmd protocol.Control) {
	switch {
	case cmd.Stop:
		if !w.session.Stop() {
			logger.Debug("stop ignored: no generation in flight")
		}
	case cmd.Continue && cmd.Chat != nil:
		if _, err := w.reserve(); err != nil {
			return
		}
		run, err := w.session.Continue(ctx, *cmd.Chat)
		if err != nil {
			w.runs.Done()
			logger.Warn("continue rejected", "turn", cmd.Chat.ID, "err", err)
			return
		}
		w.track(run)
	default:
		logger.Warn("unknown control command dropped")
	}
}

// reserve counts a generation about to start, so Run waits for it.
func (w *Worker) reserve() (context.Context, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.base == nil || w.base.Err() != nil {
		return nil, ErrNotRunning
	}
	w.runs.Add(1)
	return w.base, nil
}

func (w *Worker) track(run *completion.Run) {
	go func() {
		defer w.runs.Done()
		if err := run.Wait(); err != nil {
			logger.Warn("generation ended", "turn", run.TurnID, "reason", completion.ReasonOf(err), "err", err)
			return
		}
		logger.Debug("generation ended", "turn", run.TurnID)
	}()
}
