// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the stores and the terminal
// surfaces: crash-safe file writes and width-aware string truncation.
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0o600)
//
//	// Truncate for a status line, counting CJK as two columns
//	line := util.TruncateWidth(topic, 40)
package util
