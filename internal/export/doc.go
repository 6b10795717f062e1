// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes stored sessions to files.
//
// # Supported Formats
//
//   - md: Markdown with YAML frontmatter; message text as stored
//   - json: the stored session plus metric labels, re-loadable
//   - html: a standalone page rendered through the content pipeline
//
// Pinned context is exported ahead of the conversation and the clear-context
// cut is shown as a divider.
//
// # Usage
//
//	exp, err := export.New("html", opts)
//	path, err := export.ExportToFile(sess, exp, "", opts)
package export
