// Package display holds the state of one display surface: the turn list
// reduced from lifecycle messages, and the stop/continue/remove actions.
package display

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ghostwriter/internal/logger"
	"ghostwriter/internal/protocol"
)

var (
	// ErrNoTurn indicates an action on an index outside the turn list.
	ErrNoTurn = errors.New("no such turn")
	// ErrNotContinuable indicates a continue on a turn without the continue affordance.
	ErrNotContinuable = errors.New("turn cannot be continued")
)

// Controller sends control commands back to the completion session.
type Controller interface {
	SendControl(cmd protocol.Control) error
}

// Surface is the state of one display surface. It is safe for concurrent use.
type Surface struct {
	ctl   Controller
	store TurnStore
	now   func() time.Time

	mu    sync.Mutex
	turns []protocol.Turn
}

// New returns an empty surface. store may be nil for an ephemeral surface.
func New(ctl Controller, store TurnStore) *Surface {
	return &Surface{ctl: ctl, store: store, now: time.Now}
}

// Mount rehydrates the turn list from the store.
func (s *Surface) Mount(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	turns, err := s.store.LoadTurns(ctx)
	if err != nil {
		return fmt.Errorf("load turns: %w", err)
	}
	s.mu.Lock()
	s.turns = turns
	s.mu.Unlock()
	return nil
}

// Turns returns a copy of the turn list.
func (s *Surface) Turns() []protocol.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.CloneTurns(s.turns)
}

// Apply reduces msg into the turn list and persists the mutated turn.
// It reports whether anything changed.
func (s *Surface) Apply(ctx context.Context, msg protocol.Message) bool {
	s.mu.Lock()
	var i int
	s.turns, i = Reduce(s.turns, msg, s.now())
	var changed protocol.Turn
	if i >= 0 {
		changed = s.turns[i].Clone()
	}
	s.mu.Unlock()

	if i < 0 {
		return false
	}
	s.persist(ctx, []protocol.Turn{changed}, nil)
	return true
}

// Stop asks the session to cancel the in-flight generation, then clears
// the stop affordance.
func (s *Surface) Stop(ctx context.Context) error {
	if err := s.ctl.SendControl(protocol.StopCommand()); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}

	s.mu.Lock()
	var touched []protocol.Turn
	for i := range s.turns {
		if s.turns[i].Control.CanStop {
			s.turns[i].Control.CanStop = false
			touched = append(touched, s.turns[i].Clone())
		}
	}
	s.mu.Unlock()

	s.persist(ctx, touched, nil)
	return nil
}

// Continue asks the session to resume the turn at index i.
func (s *Surface) Continue(ctx context.Context, i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.turns) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoTurn, i)
	}
	turn := s.turns[i].Clone()
	s.mu.Unlock()

	if !turn.Control.CanContinue {
		return fmt.Errorf("%w: %s", ErrNotContinuable, turn.ID)
	}
	if err := s.ctl.SendControl(protocol.ContinueCommand(turn)); err != nil {
		return fmt.Errorf("send continue: %w", err)
	}

	s.mu.Lock()
	if j := indexOf(s.turns, turn.ID); j >= 0 {
		s.turns[j].Control.CanContinue = false
		turn = s.turns[j].Clone()
	}
	s.mu.Unlock()

	s.persist(ctx, []protocol.Turn{turn}, nil)
	return nil
}

// Remove deletes the turn at index i locally and from the store.
func (s *Surface) Remove(ctx context.Context, i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.turns) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoTurn, i)
	}
	id := s.turns[i].ID
	s.turns = append(s.turns[:i:i], s.turns[i+1:]...)
	s.mu.Unlock()

	return s.save(ctx, nil, []string{id})
}

// Clear removes every turn.
func (s *Surface) Clear(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.turns))
	for _, turn := range s.turns {
		ids = append(ids, turn.ID)
	}
	s.turns = nil
	s.mu.Unlock()

	return s.save(ctx, nil, ids)
}

func (s *Surface) persist(ctx context.Context, upserts []protocol.Turn, removed []string) {
	if err := s.save(ctx, upserts, removed); err != nil {
		logger.Warn("persist turns", "err", err)
	}
}

func (s *Surface) save(ctx context.Context, upserts []protocol.Turn, removed []string) error {
	if s.store == nil || (len(upserts) == 0 && len(removed) == 0) {
		return nil
	}
	if err := s.store.SaveTurns(ctx, upserts, removed); err != nil {
		return fmt.Errorf("save turns: %w", err)
	}
	return nil
}

// Follow applies every message from msgs until ctx is done or msgs closes.
// onChange, when set, runs after each message that changed the turn list.
func (s *Surface) Follow(ctx context.Context, msgs <-chan protocol.Message, onChange func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if s.Apply(ctx, msg) && onChange != nil {
				onChange()
			}
		}
	}
}
