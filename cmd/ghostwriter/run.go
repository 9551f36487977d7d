package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ghostwriter/internal/completion"
	"ghostwriter/internal/display"
	"ghostwriter/internal/logger"
	"ghostwriter/internal/protocol"
	"ghostwriter/internal/remote"
	"ghostwriter/internal/tui"
)

// endDrainTimeout bounds the wait for a turn's end message after its
// generation finished.
const endDrainTimeout = 2 * time.Second

var (
	errGenerationFailed    = errors.New("generation failed")
	errGenerationCancelled = errors.New("generation cancelled")
	errEventStreamClosed   = errors.New("event stream closed")
	errEmptyInput          = errors.New("no text given; pass it as arguments or on stdin")
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var serve bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the background session with the terminal display surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLocal(cmd, opts, serve)
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", true, "Also serve the HTTP bridge for attached surfaces")
	return cmd
}

// runLocal runs the whole system in one process: worker, optional bridge, and the TUI.
func runLocal(cmd *cobra.Command, opts *rootOptions, serve bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := opts.logToStateFile(cfg); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Close()
	}()

	surface := display.New(rt.bus, display.StoreTurns{Store: rt.store})
	if err := surface.Mount(ctx); err != nil {
		return err
	}
	sub := rt.bus.Subscribe()
	defer sub.Close()
	notices := rt.bus.SubscribeNotices()
	defer notices.Close()

	avatar, err := rt.store.AvatarURL(ctx)
	if err != nil {
		logger.Warn("read avatar url", "err", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	rt.start(gctx, g)
	endpoint := "local"
	if serve {
		rt.serve(gctx, g, cfg.Server.Addr)
		endpoint = "serving " + cfg.Server.Addr
	}

	app := tui.NewApp(tui.AppConfig{
		Version:   version,
		ModelName: rt.settings.Model,
		Endpoint:  endpoint,
		AvatarURL: avatar,
		ThemeName: cfg.TUI.Theme,
		Surface:   surface,
		Events:    sub.C(),
		Notices:   notices.C(),
		Backend:   localBackend{worker: rt.worker, registry: rt.registry},
	})
	g.Go(func() error {
		defer cancel()
		return runProgram(gctx, app)
	})
	return ignoreCanceled(g.Wait())
}

func runProgram(ctx context.Context, app *tui.App) error {
	program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background session headless, serving the HTTP bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(addr) == "" {
				addr = cfg.Server.Addr
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			rt, err := openRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()

			g, gctx := errgroup.WithContext(ctx)
			rt.start(gctx, g)
			rt.serve(gctx, g, addr)
			logger.Info("ghostwriter serving", "addr", addr, "provider", rt.settings.Name, "model", rt.settings.Model)
			return ignoreCanceled(g.Wait())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config server.addr)")
	return cmd
}

func newAttachCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Open a terminal display surface on a running ghostwriter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := opts.logToStateFile(cfg); err != nil {
				return err
			}
			if strings.TrimSpace(addr) == "" {
				addr = cfg.Server.Addr
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			client := remote.New(addr, nil)
			surface := display.New(client, client)
			if err := surface.Mount(ctx); err != nil {
				return fmt.Errorf("attach %s: %w", addr, err)
			}
			events, err := client.Events(ctx)
			if err != nil {
				return fmt.Errorf("attach %s: %w", addr, err)
			}

			model := ""
			if settings, err := cfg.ProviderSettings(); err == nil {
				model = settings.Model
			}
			app := tui.NewApp(tui.AppConfig{
				Version:   version,
				ModelName: model,
				Endpoint:  "attached " + addr,
				ThemeName: cfg.TUI.Theme,
				Surface:   surface,
				Events:    events,
				Notices:   client.Notices(),
				Backend:   client,
			})
			return runProgram(ctx, app)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Bridge address (default from config server.addr)")
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var triggerID string
	cmd := &cobra.Command{
		Use:   "ask [text...]",
		Short: "Apply one trigger to text and stream the answer to stdout",
		Example: `  ghostwriter ask --trigger proofreading "teh quick brown fox"
  pbpaste | ghostwriter ask --trigger generate-title`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			rt, err := openRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			return ask(ctx, rt, triggerID, text, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&triggerID, "trigger", "t", "proofreading", "Trigger id (see `ghostwriter triggers list`)")
	return cmd
}

// ask runs one activation against rt, printing deltas to w as they arrive.
func ask(ctx context.Context, rt *runtime, triggerID, text string, w io.Writer) error {
	sub := rt.bus.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.worker.Run(gctx)
	})
	defer func() {
		cancel()
		_ = g.Wait()
	}()
	<-rt.worker.Ready()

	run, err := rt.worker.Activate(triggerID, text)
	if err != nil {
		return err
	}
	return printTurn(ctx, w, sub.C(), run)
}

// printTurn streams the turn of run to w and returns once it ended.
func printTurn(ctx context.Context, w io.Writer, msgs <-chan protocol.Message, run *completion.Run) error {
	done := run.Done()
	var drain <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			done = nil
			err := run.Wait()
			switch completion.ReasonOf(err) {
			case completion.ReasonMissingCredential, completion.ReasonNoReceiver:
				// The turn was never announced, so no end message follows.
				return err
			}
			drain = time.After(endDrainTimeout)
		case <-drain:
			if err := run.Wait(); err != nil {
				return err
			}
			return errGenerationCancelled
		case msg, ok := <-msgs:
			if !ok {
				return errEventStreamClosed
			}
			if msg.ID != run.TurnID {
				continue
			}
			switch msg.Name {
			case protocol.NameInProgress:
				if _, err := io.WriteString(w, msg.Data); err != nil {
					return err
				}
			case protocol.NameEnd:
				_, _ = io.WriteString(w, "\n")
				switch msg.FinishReason {
				case protocol.FinishError:
					if err := run.Wait(); err != nil {
						return fmt.Errorf("%w: %s: %w", errGenerationFailed, msg.Error, err)
					}
					return fmt.Errorf("%w: %s", errGenerationFailed, msg.Error)
				case protocol.FinishCancelled:
					return errGenerationCancelled
				case protocol.FinishLength:
					logger.Warn("answer truncated at the token limit", "turn", run.TurnID)
				}
				return nil
			}
		}
	}
}

func readInput(stdin io.Reader, args []string) (string, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" && stdin != nil {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimSpace(string(raw))
	}
	if text == "" {
		return "", errEmptyInput
	}
	return text, nil
}
