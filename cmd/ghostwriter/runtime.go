package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ghostwriter/internal/background"
	"ghostwriter/internal/bus"
	"ghostwriter/internal/completion"
	"ghostwriter/internal/config"
	"ghostwriter/internal/display"
	"ghostwriter/internal/llm"
	"ghostwriter/internal/logger"
	"ghostwriter/internal/menu"
	"ghostwriter/internal/notify"
	"ghostwriter/internal/server"
	"ghostwriter/internal/store"
	"ghostwriter/internal/transcript"
)

const shutdownTimeout = 5 * time.Second

// runtime is the in-process background side: store, trigger registry, bus,
// completion session and the worker serving control commands.
type runtime struct {
	cfg         config.Config
	settings    config.ProviderSettings
	store       *store.Store
	registry    *menu.Registry
	bus         *bus.Bus
	session     *completion.Session
	worker      *background.Worker
	transcripts *transcript.Store
}

func openRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	settings, err := cfg.ProviderSettings()
	if err != nil {
		return nil, fmt.Errorf("resolve provider settings: %w", err)
	}
	factory, err := newProviderFactory(settings)
	if err != nil {
		return nil, fmt.Errorf("build provider: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	rt, err := assembleRuntime(ctx, cfg, settings, st, factory)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return rt, nil
}

// assembleRuntime wires the background side around an open store.
func assembleRuntime(ctx context.Context, cfg config.Config, settings config.ProviderSettings, st *store.Store, factory completion.ProviderFactory) (*runtime, error) {
	registry, err := menu.New(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}
	if err := registry.Seed(ctx, cfg.Triggers); err != nil {
		return nil, fmt.Errorf("seed triggers: %w", err)
	}

	b := bus.New()
	temperature := settings.Temperature
	session, err := completion.New(completion.Config{
		Bus:         b,
		Credentials: credentialChain{store: st, fallback: settings.APIKey},
		Prompts:     registry,
		Notifier:    notify.Fanout{notify.Log{}, b},
		NewProvider: factory,
		Model:       settings.Model,
		MaxTokens:   settings.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}

	rt := &runtime{
		cfg:      cfg,
		settings: settings,
		store:    st,
		registry: registry,
		bus:      b,
		session:  session,
		worker:   background.New(session, registry, b),
	}
	if cfg.Transcript.Enabled {
		ts, err := transcript.NewStore(cfg.Transcript.Dir)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open transcripts: %w", err)
		}
		rt.transcripts = ts
	}
	return rt, nil
}

// Close releases the bus and the store.
func (r *runtime) Close() error {
	r.bus.Close()
	return r.store.Close()
}

// start runs the worker, trigger reloads, the store watcher and the
// transcript recorder on g until ctx is done.
func (r *runtime) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return r.worker.Run(ctx)
	})
	g.Go(func() error {
		r.registry.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := r.store.Watch(ctx); err != nil {
			// Cross-process reloads are optional; the process keeps working without them.
			logger.Warn("store watch disabled", "err", err)
		}
		return nil
	})
	if r.transcripts != nil {
		tap := r.bus.Tap()
		id := transcript.NewID(time.Now())
		logger.Info("recording transcript", "transcript", id, "dir", r.transcripts.Dir())
		g.Go(func() error {
			defer tap.Close()
			r.transcripts.Record(ctx, id, tap.C())
			return nil
		})
	}
}

// serve runs the HTTP bridge on g until ctx is done.
func (r *runtime) serve(ctx context.Context, g *errgroup.Group, addr string) {
	srv := server.New(server.Config{
		Bus:       r.bus,
		Activator: r.worker,
		Triggers:  r.registry,
		Turns:     display.StoreTurns{Store: r.store},
	})
	g.Go(func() error {
		if err := srv.Listen(addr); err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// localBackend adapts the in-process worker and registry to the TUI.
type localBackend struct {
	worker   *background.Worker
	registry *menu.Registry
}

func (b localBackend) Activate(_ context.Context, triggerID, selection string) (string, error) {
	run, err := b.worker.Activate(triggerID, selection)
	if err != nil {
		return "", err
	}
	return run.TurnID, nil
}

func (b localBackend) Triggers(context.Context) ([]menu.Trigger, error) {
	return b.registry.Triggers(), nil
}

type tokenReader interface {
	APIToken(ctx context.Context) (string, error)
}

// credentialChain prefers the token stored with `settings set apiToken` and
// falls back to the key from config or environment.
type credentialChain struct {
	store    tokenReader
	fallback string
}

func (c credentialChain) APIToken(ctx context.Context) (string, error) {
	token, err := c.store.APIToken(ctx)
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}
	return strings.TrimSpace(c.fallback), nil
}

func newProviderFactory(settings config.ProviderSettings) (completion.ProviderFactory, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Name)) {
	case config.ProviderOpenAI:
		return func(token string) llm.Provider {
			return llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey:  token,
				BaseURL: settings.BaseURL,
			})
		}, nil
	case config.ProviderAnthropic:
		return func(token string) llm.Provider {
			return llm.NewAnthropicProvider(llm.AnthropicConfig{
				APIKey:  token,
				BaseURL: settings.BaseURL,
				Version: settings.Version,
			})
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedProvider, settings.Name)
	}
}

// ignoreCanceled treats a shutdown by cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
