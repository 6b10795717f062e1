// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and global flags for nextchat.
//
// Usage:
//   nextchat                   Start the TUI (default, needs a terminal)
//   nextchat chat              Line-based chat REPL
//   nextchat serve             HTTP + WebSocket server
//   nextchat sessions [list|delete]
//   nextchat config [show|init]
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// GlobalFlags are the flags shared by every command.
type GlobalFlags struct {
	// ConfigPath overrides the config file location.
	ConfigPath string
	// Model overrides backend.model.
	Model string
	// LogLevel overrides log.level.
	LogLevel string
	// Session opens an existing session instead of creating one.
	Session string
}

// NewRootCommand builds the nextchat command tree.
func NewRootCommand() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "nextchat",
		Short: "Streaming chat client for local Ollama models",
		Long: `nextchat is a chat client for local Ollama models.

Without a subcommand it opens the terminal UI. When stdin or stdout is not a
terminal it falls back to the line-based chat REPL.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, GitCommit, BuildDate, runtime.Version()),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !IsTTY() || !IsStdoutTTY() {
				return runChat(cmd.Context(), flags, cmd.InOrStdin(), cmd.OutOrStdout())
			}
			return runTUI(cmd.Context(), flags)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", "config file path (default $NEXTCHAT_HOME/config.toml)")
	pf.StringVarP(&flags.Model, "model", "m", "", "model name (overrides backend.model)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	root.Flags().StringVarP(&flags.Session, "session", "s", "", "resume a stored session by id")

	root.AddCommand(
		newChatCommand(flags),
		newServeCommand(flags),
		newSessionsCommand(flags),
		newConfigCommand(flags),
	)
	return root
}

// Execute runs the command tree with os.Args and returns the process exit
// code.
func Execute(ctx context.Context) int {
	return execute(ctx, NewRootCommand(), os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		DisplayError(stderr, err)
		return ExitCodeFor(err)
	}
	return ExitSuccess
}
