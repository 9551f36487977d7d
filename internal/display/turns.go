package display

import (
	"context"
	"errors"
	"slices"

	"ghostwriter/internal/protocol"
	"ghostwriter/internal/store"
)

// TurnStore persists the shared turn list.
type TurnStore interface {
	LoadTurns(ctx context.Context) ([]protocol.Turn, error)
	// SaveTurns upserts turns by id and deletes the removed ids in one
	// transaction, keeping turns written by other surfaces.
	SaveTurns(ctx context.Context, upserts []protocol.Turn, removed []string) error
}

// StoreTurns keeps the turn list under store.KeyChats.
type StoreTurns struct {
	Store *store.Store
}

// LoadTurns implements TurnStore.
func (s StoreTurns) LoadTurns(ctx context.Context) ([]protocol.Turn, error) {
	var turns []protocol.Turn
	err := s.Store.GetJSON(ctx, store.KeyChats, &turns)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return turns, err
}

// SaveTurns implements TurnStore.
func (s StoreTurns) SaveTurns(ctx context.Context, upserts []protocol.Turn, removed []string) error {
	return store.UpdateJSON(ctx, s.Store, store.KeyChats, func(current *[]protocol.Turn) error {
		*current = Merge(*current, upserts, removed)
		return nil
	})
}

// Merge applies upserts and removals to stored by turn id. Upserted turns
// replace their stored copy in place; new ones are appended.
func Merge(stored, upserts []protocol.Turn, removed []string) []protocol.Turn {
	out := slices.DeleteFunc(protocol.CloneTurns(stored), func(t protocol.Turn) bool {
		return slices.Contains(removed, t.ID)
	})
	for _, turn := range upserts {
		if slices.Contains(removed, turn.ID) {
			continue
		}
		if i := indexOf(out, turn.ID); i >= 0 {
			out[i] = turn.Clone()
			continue
		}
		out = append(out, turn.Clone())
	}
	if out == nil {
		out = []protocol.Turn{}
	}
	return out
}
