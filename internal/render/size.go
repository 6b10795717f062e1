// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"strconv"
)

// FormatSize formats a byte count for display.
func FormatSize(bytes float64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)
	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", bytes/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", bytes/kb)
	default:
		return fmt.Sprintf("%.0f B", bytes)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
