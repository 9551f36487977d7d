package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ghostwriter/internal/config"
	"ghostwriter/internal/menu"
	"ghostwriter/internal/protocol"
	"ghostwriter/internal/store"
	"ghostwriter/internal/transcript"
)

var errUnknownSetting = errors.New("unknown setting")

// settingKeys are the user-editable store keys, in display order.
var settingKeys = []string{store.KeyAPIToken, store.KeyAvatarURL}

// withStore opens the configured store for one management command.
func withStore(ctx context.Context, cfg config.Config, fn func(st *store.Store) error) error {
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()
	return fn(st)
}

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change the API token and avatar URL",
	}

	var reveal bool
	get := &cobra.Command{
		Use:   "get [key]",
		Short: "Print settings (" + strings.Join(settingKeys, ", ") + ")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := settingKeys
			if len(args) == 1 {
				if err := checkSettingKey(args[0]); err != nil {
					return err
				}
				keys = args[:1]
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(st *store.Store) error {
				for _, key := range keys {
					value, err := st.GetString(cmd.Context(), key)
					if err != nil {
						return err
					}
					if key == store.KeyAPIToken && !reveal {
						value = maskSecret(value)
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, value)
				}
				return nil
			})
		},
	}
	get.Flags().BoolVar(&reveal, "reveal", false, "Print the API token unmasked")

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting; an empty value clears it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], strings.TrimSpace(args[1])
			if err := checkSettingKey(key); err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(st *store.Store) error {
				if value == "" {
					return st.Delete(cmd.Context(), key)
				}
				return st.Set(cmd.Context(), key, value)
			})
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}

func checkSettingKey(key string) error {
	if !slices.Contains(settingKeys, key) {
		return fmt.Errorf("%w %q (want one of %s)", errUnknownSetting, key, strings.Join(settingKeys, ", "))
	}
	return nil
}

// maskSecret keeps the last four characters of a token.
func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}

func newTriggersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "Manage the trigger menu",
	}

	withRegistry := func(ctx context.Context, fn func(r *menu.Registry) error) error {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		return withStore(ctx, cfg, func(st *store.Store) error {
			registry, err := menu.New(ctx, st)
			if err != nil {
				return err
			}
			if err := registry.Seed(ctx, cfg.Triggers); err != nil {
				return err
			}
			return fn(registry)
		})
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd.Context(), func(r *menu.Registry) error {
				return printTriggers(cmd.OutOrStdout(), r.Triggers())
			})
		},
	}

	var prompt string
	add := &cobra.Command{
		Use:   "add <label>",
		Short: `Add a trigger; "%s" in the label is replaced by the selection`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(r *menu.Registry) error {
				trigger, err := r.Add(cmd.Context(), args[0], strings.TrimSpace(prompt))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), trigger.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&prompt, "prompt", "", "System prompt sent with this trigger")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a trigger and its prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(r *menu.Registry) error {
				return r.Remove(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}

func printTriggers(w io.Writer, triggers []menu.Trigger) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tLABEL")
	for _, trigger := range triggers {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", trigger.ID, trigger.Label)
	}
	return tw.Flush()
}

func newTranscriptCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Inspect recorded lifecycle transcripts",
	}

	withTranscripts := func(fn func(ts *transcript.Store) error) error {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		ts, err := transcript.NewStore(cfg.Transcript.Dir)
		if err != nil {
			return err
		}
		return fn(ts)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List transcripts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTranscripts(func(ts *transcript.Store) error {
				infos, err := ts.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tUPDATED\tSIZE")
				for _, info := range infos {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", info.ID, info.UpdatedAt.Local().Format(time.DateTime), info.SizeBytes)
				}
				return tw.Flush()
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the messages of one transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTranscripts(func(ts *transcript.Store) error {
				entries, err := ts.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, entry := range entries {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), formatEntry(entry))
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func formatEntry(entry transcript.Entry) string {
	msg := entry.Message
	ts := time.UnixMilli(entry.TS).Local().Format("15:04:05.000")
	head := fmt.Sprintf("%4d %s %-10s %s", entry.Seq, ts, msg.Name, msg.ID)
	switch msg.Name {
	case protocol.NameStart:
		return fmt.Sprintf("%s kind=%s selection=%q", head, msg.ContextMenuName, msg.SelectionText)
	case protocol.NameInProgress:
		return fmt.Sprintf("%s data=%q", head, msg.Data)
	case protocol.NameEnd:
		line := fmt.Sprintf("%s finish=%s", head, msg.FinishReason)
		if msg.Error != "" {
			line += fmt.Sprintf(" error=%q", msg.Error)
		}
		return line
	default:
		return head
	}
}
