// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal detection for nextchat.
//
// The root command opens the TUI only when both stdin and stdout are
// terminals; piped or redirected sessions get the line REPL without colors.

package cli

import (
	"os"
	"sync/atomic"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is used when the width cannot be read.
	DefaultTerminalWidth = 80
	// MinTerminalWidth is the narrowest width replies are wrapped to.
	MinTerminalWidth = 40
)

// IsTTY reports whether stdin is a terminal, so line editing is possible.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// GetTerminalWidth returns the stdout width clamped to MinTerminalWidth.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	switch {
	case err != nil || width <= 0:
		return DefaultTerminalWidth
	case width < MinTerminalWidth:
		return MinTerminalWidth
	}
	return width
}

// colorMode is 0 until decided, then 1 for on and 2 for off.
var colorMode atomic.Int32

// ColorsEnabled reports whether styled output should be used. NO_COLOR wins
// over FORCE_COLOR, which wins over TTY detection (https://no-color.org/).
func ColorsEnabled() bool {
	switch colorMode.Load() {
	case 1:
		return true
	case 2:
		return false
	}
	enabled := IsStdoutTTY()
	if os.Getenv("FORCE_COLOR") != "" {
		enabled = true
	}
	if os.Getenv("NO_COLOR") != "" {
		enabled = false
	}
	ForceColorsEnabled(enabled)
	return enabled
}

// ForceColorsEnabled overrides color detection. Tests use it to get plain
// output.
func ForceColorsEnabled(enabled bool) {
	if enabled {
		colorMode.Store(1)
	} else {
		colorMode.Store(2)
	}
}

// GetColorProfile returns the termenv profile for styled output; Ascii when
// colors are off.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
