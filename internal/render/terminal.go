// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/vsare/next-chat/internal/pipeline"
	"github.com/vsare/next-chat/internal/ui/styles"
)

// DefaultWordWrap is the terminal wrap width when none is configured.
const DefaultWordWrap = 80

// ResolveStyle maps a configured theme to a glamour standard style. "auto"
// asks the terminal for its background.
func ResolveStyle(theme string) string {
	switch theme {
	case "dark", "light", "notty", "ascii", "dracula", "pink", "tokyo-night":
		return theme
	default:
		if termenv.HasDarkBackground() {
			return "dark"
		}
		return "light"
	}
}

// =============================================================================
// TERMINAL RENDERER
// =============================================================================

// Terminal renders processed messages for ANSI terminals.
type Terminal struct {
	mu     sync.Mutex
	md     *glamour.TermRenderer
	width  int
	labels pipeline.Labels

	muted      lipgloss.Style
	badge      lipgloss.Style
	math       lipgloss.Style
	attachment lipgloss.Style
	reasoning  lipgloss.Style
}

// NewTerminal creates a terminal renderer. theme is passed through
// ResolveStyle; width <= 0 uses DefaultWordWrap.
func NewTerminal(theme string, width int) (*Terminal, error) {
	if width <= 0 {
		width = DefaultWordWrap
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(ResolveStyle(theme)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return &Terminal{
		md:     md,
		width:  width,
		labels: pipeline.DefaultLabels,
		muted:  lipgloss.NewStyle().Foreground(styles.TextMuted).Italic(true),
		badge: lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Background(styles.OverlayDim).
			Padding(0, 1).
			Bold(true),
		math: lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Italic(true).
			PaddingLeft(2),
		attachment: lipgloss.NewStyle().
			Foreground(styles.Purple).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(styles.Overlay).
			Padding(0, 1),
		reasoning: lipgloss.NewStyle().
			Foreground(styles.TextSecondary).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderTop(false).
			BorderRight(false).
			BorderBottom(false).
			BorderForeground(styles.Overlay).
			PaddingLeft(1),
	}, nil
}

// Width returns the wrap width.
func (t *Terminal) Width() int {
	return t.width
}

// Render converts the blocks of a processed message to styled text.
func (t *Terminal) Render(out pipeline.Output) string {
	parts := make([]string, 0, len(out.Blocks))
	for _, b := range out.Blocks {
		if s := t.block(b); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func (t *Terminal) block(b pipeline.Block) string {
	switch b := b.(type) {
	case pipeline.Text:
		return t.markdown(b.Markdown)

	case pipeline.Code:
		s := t.markdown(fence(b.Lang, b.Source))
		if b.Open {
			s += "\n" + t.muted.Render("  …")
		}
		return s

	case pipeline.Math:
		return t.math.Render(b.Source)

	case pipeline.Diagram:
		label := b.Syntax + " preview"
		if b.Syntax == "mermaid" {
			label = "mermaid diagram"
		}
		return t.badge.Render(label) + "\n" + t.markdown(fence(b.Syntax, b.Source))

	case pipeline.Attachment:
		return t.attachment.Render(fmt.Sprintf("📄 %s · %s · %s", b.Name, b.Type, FormatSize(b.Size)))

	case pipeline.Reasoning:
		head := t.muted.Render("▸ " + b.Summary(t.labels))
		body := strings.TrimSpace(b.Body)
		if body == "" {
			return head
		}
		return head + "\n" + t.reasoning.Render(t.markdown(body))

	default:
		return ""
	}
}

// markdown renders through glamour, returning the source on failure.
func (t *Terminal) markdown(src string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out, err := t.md.Render(src)
	if err != nil {
		return src
	}
	return strings.Trim(out, "\n")
}

func fence(lang, src string) string {
	ticks := "```"
	for strings.Contains(src, ticks) {
		ticks += "`"
	}
	return ticks + lang + "\n" + src + "\n" + ticks
}
