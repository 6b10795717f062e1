// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions.go - Stored session management.
//
// Command: sessions [subcommand]
// Short:   List, search and delete stored sessions
// Aliases: session
//
// Subcommands:
//   list (default)      List stored sessions, most recent first
//   delete <id>...      Delete stored sessions
//   export <id>         Export a session to Markdown, JSON or HTML
//
// Examples:
//   nextchat sessions
//   nextchat sessions list --search "docker"
//   nextchat sessions list --json
//   nextchat sessions delete 0b6f...
//   nextchat sessions export 0b6f... --format html -o notes.html
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vsare/next-chat/internal/export"
	"github.com/vsare/next-chat/internal/storage"
)

func newSessionsCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "List, search and delete stored sessions",
	}
	list := newSessionsListCommand(flags)
	cmd.RunE = list.RunE
	cmd.Flags().AddFlagSet(list.Flags())
	cmd.AddCommand(list, newSessionsDeleteCommand(flags), newSessionsExportCommand(flags))
	return cmd
}

func newSessionsListCommand(flags *GlobalFlags) *cobra.Command {
	var (
		search string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}

			var metas []storage.ConversationMeta
			if search != "" {
				metas, err = st.sessions.Search(cmd.Context(), search)
			} else {
				metas, err = st.sessions.List(cmd.Context())
			}
			if err != nil {
				return &CommandError{Command: "sessions", Action: "list", Reason: "could not read sessions", Err: err}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if metas == nil {
					metas = []storage.ConversationMeta{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(metas)
			}
			fmt.Fprintln(out, storage.FormatSessionList(metas))
			return nil
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "only sessions whose topic or messages contain text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func newSessionsDeleteCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete stored sessions",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return &UsageError{Reason: "missing session id", Example: "nextchat sessions delete <id>"}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := st.sessions.Delete(cmd.Context(), id); err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						return &NotFoundError{Resource: "session", ID: id}
					}
					if errors.Is(err, storage.ErrInvalidID) {
						return &UsageError{Reason: err.Error()}
					}
					return &CommandError{Command: "sessions", Action: "delete", Reason: id, Err: err}
				}
				// Unsent input for the session goes with it.
				_, _ = st.drafts.TakeDraft(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderConditional(SuccessStyle, "Deleted"), id)
			}
			return nil
		},
	}
}

func newSessionsExportCommand(flags *GlobalFlags) *cobra.Command {
	var (
		format string
		output string
		dir    string
		theme  string
		bare   bool
		open   bool
	)
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a session to Markdown, JSON or HTML",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return &UsageError{Reason: "export takes exactly one session id", Example: "nextchat sessions export <id> --format md"}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, appOptions{logOutput: io.Discard})
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			snap, err := a.engine.Snapshot(sess.ID)
			if err != nil {
				return err
			}

			tracker := a.engine.Tracker()
			opts := export.DefaultOptions()
			opts.OutputDir = dir
			opts.Theme = theme
			opts.IncludeMetadata = !bare
			opts.IncludeTimestamps = !bare
			opts.OpenAfterExport = open
			opts.Process = a.engine.RenderText
			opts.Metric = func(id string) (string, bool) {
				if _, ok := tracker.Record(id); !ok {
					return "", false
				}
				return tracker.Label(id), true
			}

			exp, err := export.New(format, opts)
			if err != nil {
				return &UsageError{Reason: err.Error(), Example: "nextchat sessions export <id> --format " + strings.Join(export.Formats, "|")}
			}
			if output == "-" {
				data, err := exp.Export(snap)
				if err != nil {
					return &CommandError{Command: "sessions", Action: "export", Reason: snap.ID, Err: err}
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			path, err := export.ExportToFile(snap, exp, output, opts)
			if path == "" {
				return &CommandError{Command: "sessions", Action: "export", Reason: snap.ID, Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderConditional(SuccessStyle, "Exported"), path)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", RenderConditional(WarningStyle, "Warning:"), err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "export format: "+strings.Join(export.Formats, ", "))
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, or - for stdout")
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory when --output is not set")
	cmd.Flags().StringVar(&theme, "theme", "dark", "HTML theme: dark or light")
	cmd.Flags().BoolVar(&bare, "bare", false, "omit metadata, timestamps and metrics")
	cmd.Flags().BoolVar(&open, "open", false, "open the file after exporting")
	return cmd
}
