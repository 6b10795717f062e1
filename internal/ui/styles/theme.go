// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Bubble selects the style of one transcript entry.
type Bubble int

const (
	BubbleUser Bubble = iota
	BubbleAssistant
	BubbleSystem
	// BubbleStreaming is an assistant reply still receiving content.
	BubbleStreaming
	// BubbleError is a failed reply.
	BubbleError
	// BubblePreview is a transient entry that is never stored.
	BubblePreview
)

// Theme holds the styles of the chat transcript.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// TRANSCRIPT
	// ==========================================================================

	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	SystemBubble    lipgloss.Style
	StreamingBubble lipgloss.Style
	ErrorBubble     lipgloss.Style
	PreviewBubble   lipgloss.Style

	RoleLabel    lipgloss.Style
	MetricsLabel lipgloss.Style
	Divider      lipgloss.Style
	PageHint     lipgloss.Style

	// ==========================================================================
	// STATUS AND INPUT
	// ==========================================================================

	StatusBar      lipgloss.Style
	StatusKey      lipgloss.Style
	StatusPending  lipgloss.Style
	StatusError    lipgloss.Style
	InputContainer lipgloss.Style
	Hint           lipgloss.Style
}

// NewTheme creates a theme for the current terminal.
func NewTheme() *Theme {
	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	bubble := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		Padding(0, 1)

	t.UserBubble = bubble.
		Foreground(TextPrimary).
		BorderForeground(UserBubbleBorder).
		MarginLeft(4)
	t.AssistantBubble = bubble.
		Foreground(TextPrimary).
		BorderForeground(AssistantBubbleBorder).
		MarginRight(4)
	t.SystemBubble = bubble.
		Foreground(TextSecondary).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(Amber)
	t.StreamingBubble = t.AssistantBubble.
		BorderForeground(Amber)
	t.ErrorBubble = t.AssistantBubble.
		BorderForeground(Rose)
	t.PreviewBubble = bubble.
		Foreground(TextMuted).
		BorderStyle(lipgloss.HiddenBorder()).
		BorderForeground(PreviewBubbleBorder).
		Italic(true)

	t.RoleLabel = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.MetricsLabel = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)
	t.Divider = lipgloss.NewStyle().Foreground(Amber).Bold(true)
	t.PageHint = lipgloss.NewStyle().Foreground(TextMuted).Align(lipgloss.Center)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim).
		Padding(0, 1)
	t.StatusKey = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.StatusPending = lipgloss.NewStyle().Foreground(Amber)
	t.StatusError = lipgloss.NewStyle().Foreground(Rose).Bold(true)
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.Hint = lipgloss.NewStyle().Foreground(TextMuted)
}

// BubbleStyle returns the style for a transcript entry.
func (t *Theme) BubbleStyle(b Bubble) lipgloss.Style {
	switch b {
	case BubbleUser:
		return t.UserBubble
	case BubbleSystem:
		return t.SystemBubble
	case BubbleStreaming:
		return t.StreamingBubble
	case BubbleError:
		return t.ErrorBubble
	case BubblePreview:
		return t.PreviewBubble
	default:
		return t.AssistantBubble
	}
}

// ContentWidth returns the text width available inside a bubble.
func (t *Theme) ContentWidth() int {
	w := t.Width - 4 - 4 // margin, border and padding
	if w < 20 {
		w = 20
	}
	return w
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the current layout mode based on width.
func (t *Theme) GetLayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// LayoutMode represents the current responsive layout mode.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // > 100 columns
)
