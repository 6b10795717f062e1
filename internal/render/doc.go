// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns processed messages into displayable output.
//
// Both renderers consume the block sequence produced by the content pipeline
// with a type switch:
//
//   - HTML produces fragments for the web surface using goldmark for markdown
//     and chroma for code. Script links are neutralized, raw HTML is dropped
//     and HTML artifacts get a sandboxed preview frame.
//   - Terminal produces ANSI text for the TUI and the REPL using glamour and
//     lipgloss.
package render
