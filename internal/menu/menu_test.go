package menu

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostwriter/internal/store"
)

func newRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "menu.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	r, err := New(ctx, st)
	require.NoError(t, err)
	return r, st
}

func TestSeedInstallsDefaultsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, st := newRegistry(t)
	require.Empty(t, r.Triggers())

	require.NoError(t, r.Seed(ctx, DefaultSeeds()))
	triggers := r.Triggers()
	require.Len(t, triggers, 2)
	assert.Equal(t, "proofreading", triggers[0].ID)
	assert.Equal(t, "generate-title", triggers[1].ID)

	prompt, err := r.Prompt(ctx, "proofreading")
	require.NoError(t, err)
	assert.Contains(t, prompt, "proofreader")

	require.NoError(t, r.Remove(ctx, "generate-title"))
	require.NoError(t, r.Seed(ctx, DefaultSeeds()))
	assert.Len(t, r.Triggers(), 1, "seeding never overrides a stored list")

	_, err = st.Get(ctx, store.PromptKey("generate-title"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestActivate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, _ := newRegistry(t)
	require.NoError(t, r.Seed(ctx, DefaultSeeds()))

	activation, err := r.Activate("proofreading", "this is a test.")
	require.NoError(t, err)
	assert.Equal(t, Activation{TriggerID: "proofreading", SelectionText: "this is a test."}, activation)

	_, err = r.Activate("missing", "x")
	assert.ErrorIs(t, err, ErrUnknownTrigger)
	_, err = r.Activate("proofreading", "  ")
	assert.ErrorIs(t, err, ErrEmptySelection)
}

func TestAddGeneratesStableID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, _ := newRegistry(t)

	trigger, err := r.Add(ctx, "Translate %s", "Translate the user's text to French.")
	require.NoError(t, err)
	_, err = uuid.Parse(trigger.ID)
	require.NoError(t, err)

	got, ok := r.Lookup(trigger.ID)
	require.True(t, ok)
	assert.Equal(t, "Translate %s", got.Label)

	_, err = r.Add(ctx, " ", "")
	assert.ErrorIs(t, err, ErrInvalidTrigger)
	assert.ErrorIs(t, r.Remove(ctx, "nope"), ErrUnknownTrigger)
}

func TestRunReloadsOnStoreChange(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, st := newRegistry(t)
	go r.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, st.SetJSON(ctx, store.KeyTriggers, []Trigger{{ID: "x", Label: "X %s"}}))
	assert.Eventually(t, func() bool {
		_, ok := r.Lookup("x")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `Proofread "this is a test."`, Label(`Proofread "%s"`, "this is a test."))
	assert.Equal(t, "Static", Label("Static", "ignored"))
	assert.Equal(t, "a b", Label("%s", "a\n\tb"))

	long := Label("%s", strings.Repeat("あ", 100))
	assert.Equal(t, maxLabelSelection, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}
