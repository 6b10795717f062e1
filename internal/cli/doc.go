// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the nextchat command tree.
//
// Every command loads the TOML configuration, opens the stores under the
// data directory and builds one engine wired to the Ollama transport, the
// token/latency tracker and a Prometheus registry:
//
//   - nextchat: the Bubble Tea chat UI (falls back to chat without a TTY)
//   - chat: a liner-based REPL that streams replies as plain text
//   - serve: the HTTP and WebSocket server, the stale-reply sweeper and a
//     config watcher, run together in an errgroup
//   - sessions: list, search and delete stored sessions
//   - config: show, init, get and set configuration values
//
// # Usage
//
//	os.Exit(cli.Execute(ctx))
package cli
