// Package menu keeps the registry of named triggers a user can activate on
// selected text.
package menu

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ghostwriter/internal/logger"
	"ghostwriter/internal/store"
)

const (
	selectionPlaceholder = "%s"
	maxLabelSelection    = 32
)

var (
	// ErrUnknownTrigger indicates an activation or lookup for an unregistered id.
	ErrUnknownTrigger = errors.New("unknown trigger")
	// ErrInvalidTrigger indicates a trigger without a label.
	ErrInvalidTrigger = errors.New("invalid trigger")
	// ErrEmptySelection indicates an activation with no selected text.
	ErrEmptySelection = errors.New("empty selection")
)

// Trigger is one entry of the menu. Label may contain %s, replaced by the selection.
type Trigger struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Activation is a trigger applied to selected text.
type Activation struct {
	TriggerID     string `json:"triggerId"`
	SelectionText string `json:"selectionText"`
}

// Seed is a trigger installed on first run together with its prompt template.
type Seed struct {
	ID     string `toml:"id"`
	Label  string `toml:"label"`
	Prompt string `toml:"prompt"`
}

// DefaultSeeds returns the triggers installed when the store has none.
func DefaultSeeds() []Seed {
	return []Seed{
		{
			ID:     "proofreading",
			Label:  `Proofread "%s"`,
			Prompt: "You are a meticulous proofreader. Correct spelling, grammar and punctuation in the user's text. Reply with the corrected text only.",
		},
		{
			ID:     "generate-title",
			Label:  `Generate a title for "%s"`,
			Prompt: "You write concise, engaging titles. Propose one title for the user's text. Reply with the title only.",
		},
	}
}

// Registry is the in-memory view of the triggers stored under store.KeyTriggers.
type Registry struct {
	store *store.Store

	mu       sync.RWMutex
	triggers []Trigger
}

// New loads the registry from st.
func New(ctx context.Context, st *store.Store) (*Registry, error) {
	r := &Registry{store: st}
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Seed installs seeds when no trigger list has ever been stored.
func (r *Registry) Seed(ctx context.Context, seeds []Seed) error {
	if _, err := r.store.Get(ctx, store.KeyTriggers); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	triggers := make([]Trigger, 0, len(seeds))
	for _, seed := range seeds {
		id := strings.TrimSpace(seed.ID)
		if id == "" {
			id = uuid.NewString()
		}
		if strings.TrimSpace(seed.Label) == "" {
			return fmt.Errorf("%w: seed %q has no label", ErrInvalidTrigger, id)
		}
		triggers = append(triggers, Trigger{ID: id, Label: seed.Label})
		if seed.Prompt != "" {
			if err := r.store.Set(ctx, store.PromptKey(id), seed.Prompt); err != nil {
				return fmt.Errorf("seed prompt %q: %w", id, err)
			}
		}
	}
	if err := r.store.SetJSON(ctx, store.KeyTriggers, triggers); err != nil {
		return fmt.Errorf("seed triggers: %w", err)
	}
	return r.Load(ctx)
}

// Load rereads the trigger list from the store.
func (r *Registry) Load(ctx context.Context) error {
	var triggers []Trigger
	err := r.store.GetJSON(ctx, store.KeyTriggers, &triggers)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load triggers: %w", err)
	}

	r.mu.Lock()
	r.triggers = triggers
	r.mu.Unlock()
	return nil
}

// Triggers returns the registered triggers in menu order.
func (r *Registry) Triggers() []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.triggers)
}

// Lookup finds a trigger by id.
func (r *Registry) Lookup(id string) (Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, trigger := range r.triggers {
		if trigger.ID == id {
			return trigger, true
		}
	}
	return Trigger{}, false
}

// Activate validates a trigger click on selection.
func (r *Registry) Activate(id, selection string) (Activation, error) {
	if _, ok := r.Lookup(id); !ok {
		return Activation{}, fmt.Errorf("%w: %s", ErrUnknownTrigger, id)
	}
	if strings.TrimSpace(selection) == "" {
		return Activation{}, ErrEmptySelection
	}
	return Activation{TriggerID: id, SelectionText: selection}, nil
}

// Prompt returns the prompt template of a trigger, or store.ErrNotFound.
func (r *Registry) Prompt(ctx context.Context, id string) (string, error) {
	return r.store.Get(ctx, store.PromptKey(id))
}

// Add registers a new trigger with a generated id.
func (r *Registry) Add(ctx context.Context, label, prompt string) (Trigger, error) {
	if strings.TrimSpace(label) == "" {
		return Trigger{}, fmt.Errorf("%w: label is required", ErrInvalidTrigger)
	}
	trigger := Trigger{ID: uuid.NewString(), Label: label}

	err := store.UpdateJSON(ctx, r.store, store.KeyTriggers, func(triggers *[]Trigger) error {
		*triggers = append(*triggers, trigger)
		return nil
	})
	if err != nil {
		return Trigger{}, fmt.Errorf("add trigger: %w", err)
	}
	if prompt != "" {
		if err := r.store.Set(ctx, store.PromptKey(trigger.ID), prompt); err != nil {
			return Trigger{}, fmt.Errorf("store prompt: %w", err)
		}
	}
	return trigger, r.Load(ctx)
}

// Remove unregisters a trigger and deletes its prompt.
func (r *Registry) Remove(ctx context.Context, id string) error {
	found := false
	err := store.UpdateJSON(ctx, r.store, store.KeyTriggers, func(triggers *[]Trigger) error {
		*triggers = slices.DeleteFunc(*triggers, func(t Trigger) bool {
			if t.ID == id {
				found = true
				return true
			}
			return false
		})
		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownTrigger, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, store.PromptKey(id)); err != nil {
		return err
	}
	return r.Load(ctx)
}

// Run reloads the registry whenever the trigger list changes, until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	changes, stop := r.store.Subscribe()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if !change.External && change.Key != store.KeyTriggers {
				continue
			}
			if err := r.Load(ctx); err != nil {
				logger.Warn("reload triggers failed", "err", err)
			}
		}
	}
}

// Label renders a trigger label for selection. The selection is flattened to
// one line and truncated so menu entries stay short.
func Label(template, selection string) string {
	if !strings.Contains(template, selectionPlaceholder) {
		return template
	}
	flat := strings.Join(strings.Fields(selection), " ")
	runes := []rune(flat)
	if len(runes) > maxLabelSelection {
		flat = string(runes[:maxLabelSelection-1]) + "…"
	}
	return strings.ReplaceAll(template, selectionPlaceholder, flat)
}
