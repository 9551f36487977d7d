// Command ghostwriter applies named writing triggers to text with a
// streaming language model and shows the result on a display surface.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ghostwriter/internal/config"
	"ghostwriter/internal/logger"
)

const (
	version    = "v0.1.0"
	envPrefix  = "GHOSTWRITER"
	logFileTUI = "ghostwriter.log"
)

var errUnsupportedProvider = errors.New("unsupported provider")

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ghostwriter: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	return newRootCmd().Execute()
}

// rootOptions carries the persistent flags, bound through viper so every flag
// can also be set as GHOSTWRITER_<FLAG>.
type rootOptions struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	opts := &rootOptions{v: v}

	cmd := &cobra.Command{
		Use:   "ghostwriter",
		Short: "ghostwriter streams writing triggers through a language model",
		Long: `ghostwriter applies named triggers such as "proofread" or "generate a title"
to text, streams the model's answer to a display surface, and lets you stop,
continue, or remove each turn.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd, opts, true)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default ~/.config/ghostwriter/config.toml)")
	flags.String("log-level", "info", "Log level (debug|info|warn|error)")
	flags.String("log-file", "", "Write logs to file instead of stderr")
	flags.String("env-file", ".env", "Dotenv file loaded before reading the environment")
	flags.Bool("transcript", false, "Record lifecycle messages to the transcript directory")
	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}

	cmd.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newAttachCmd(opts),
		newAskCmd(opts),
		newSettingsCmd(opts),
		newTriggersCmd(opts),
		newTranscriptCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ghostwriter %s\n", version)
		},
	}
}

// setup loads the dotenv file and configures logging.
func (o *rootOptions) setup() error {
	if path := strings.TrimSpace(o.v.GetString("env-file")); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := logger.Configure(o.v.GetString("log-level"), o.v.GetString("log-file")); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	return nil
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(o.v.GetString("config"))})
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if o.v.GetBool("transcript") {
		cfg.Transcript.Enabled = true
	}
	return cfg, nil
}

// logToStateFile keeps log output off the terminal while a TUI owns it.
// An explicit --log-file wins.
func (o *rootOptions) logToStateFile(cfg config.Config) error {
	if strings.TrimSpace(o.v.GetString("log-file")) != "" {
		return nil
	}
	dir := filepath.Dir(cfg.Store.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := logger.Configure(o.v.GetString("log-level"), filepath.Join(dir, logFileTUI)); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	return nil
}
