// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/ui/styles"
	"github.com/vsare/next-chat/internal/util"
	"github.com/vsare/next-chat/internal/window"
)

const dividerLabel = " context cleared "

// =============================================================================
// MAIN LAYOUT
// =============================================================================

// renderChat stacks the transcript viewport, the input box, the optional
// help panel and the status bar.
func (m Model) renderChat() string {
	parts := []string{m.viewport.View(), m.renderInput()}
	if m.help.ShowAll {
		parts = append(parts, m.help.View(m.keys))
	}
	parts = append(parts, m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderInput() string {
	return m.theme.InputContainer.Width(max(m.width-2, 10)).Render(m.input.View())
}

func (m Model) renderStatusBar() string {
	var left []string
	if snap, err := m.engine.Snapshot(m.sessionID); err == nil {
		name := snap.Model
		if name == "" {
			name = m.engine.Config().Model
		}
		left = append(left, m.theme.StatusKey.Render(name), util.TruncateWidth(snap.Topic, 30))
	}
	if m.busy() {
		left = append(left, m.theme.StatusPending.Render(m.spinner.View()+" generating"))
	}
	if m.lastErr != nil {
		left = append(left, m.theme.StatusError.Render(util.FirstLine(m.lastErr.Error())))
	} else if m.status != "" {
		left = append(left, m.status)
	}

	bar := strings.Join(left, " · ")
	if !m.help.ShowAll {
		hint := m.help.ShortHelpView(m.keys.ShortHelp())
		if gap := m.width - 2 - lipgloss.Width(bar) - lipgloss.Width(hint); gap > 0 {
			bar += strings.Repeat(" ", gap) + hint
		}
	}
	return m.theme.StatusBar.Width(max(m.width, 1)).Render(util.TruncateWidth(bar, max(m.width-2, 1)))
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript renders the window and records where each entry starts.
func (m *Model) renderTranscript(v window.View, total int) (string, []anchor) {
	var b strings.Builder
	anchors := make([]anchor, 0, len(v.Entries))
	line := 0
	write := func(s string) int {
		if b.Len() > 0 {
			b.WriteString("\n")
			line++
		}
		start := line
		b.WriteString(s)
		line += lipgloss.Height(s) - 1
		return start
	}

	if v.Start > 0 {
		write(m.pageHint(fmt.Sprintf("↑ %d earlier %s", v.Start, plural(v.Start, "message", "messages"))))
	}
	now := time.Now()
	for i, msg := range v.Entries {
		anchors = append(anchors, anchor{id: msg.ID, line: write(m.renderEntry(msg, now))})
		if i == v.DividerAfter {
			write(m.divider())
		}
	}
	if later := total - v.Start - len(v.Entries); later > 0 {
		write(m.pageHint(fmt.Sprintf("↓ %d later %s", later, plural(later, "message", "messages"))))
	}
	return b.String(), anchors
}

func (m Model) pageHint(s string) string {
	return m.theme.PageHint.Width(max(m.width, 1)).Render(s)
}

func (m Model) divider() string {
	label := m.theme.Divider.Render(dividerLabel)
	return lipgloss.PlaceHorizontal(max(m.width, lipgloss.Width(label)), lipgloss.Center, label,
		lipgloss.WithWhitespaceChars("─"),
		lipgloss.WithWhitespaceForeground(styles.Overlay))
}

// renderEntry renders one transcript entry as a bubble with a header line.
func (m *Model) renderEntry(msg *model.Message, now time.Time) string {
	header := []string{m.theme.RoleLabel.Render(msg.Role.DisplayName())}
	if ts := formatTimestamp(msg.Date, now); ts != "" && !msg.Preview {
		header = append(header, m.theme.Hint.Render(ts))
	}
	if msg.Role == model.RoleAssistant && !msg.Preview {
		if label := m.engine.Metrics(msg.ID).Label; label != "" {
			header = append(header, m.theme.MetricsLabel.Render(label))
		}
	}

	style := m.theme.BubbleStyle(bubbleKind(msg))
	return style.Width(m.theme.ContentWidth()).Render(strings.Join(header, " ") + "\n" + m.body(msg))
}

// body returns the rendered content of an entry, reusing the cached result
// while the text is unchanged.
func (m *Model) body(msg *model.Message) string {
	if msg.ID == window.PendingPreviewID {
		return m.spinner.View() + " " + window.PendingText
	}
	if m.renderer == nil {
		return msg.Text()
	}

	text := msg.Text()
	width := m.renderer.Width()
	if c, ok := m.cache[msg.ID]; ok && c.text == text && c.streaming == msg.Streaming && c.width == width {
		return c.body
	}

	var body string
	if msg.Preview {
		body = m.renderer.Render(m.engine.RenderText(text))
	} else {
		out, err := m.engine.Render(m.sessionID, msg.ID)
		if err != nil {
			m.logger.Debug("render failed", "message", msg.ID, "error", err)
			body = text
		} else {
			body = m.renderer.Render(out)
		}
	}
	m.cache[msg.ID] = renderedEntry{text: text, streaming: msg.Streaming, width: width, body: body}
	return body
}

func bubbleKind(msg *model.Message) styles.Bubble {
	switch {
	case msg.Preview:
		return styles.BubblePreview
	case msg.Role == model.RoleUser:
		return styles.BubbleUser
	case msg.Role == model.RoleSystem:
		return styles.BubbleSystem
	case msg.IsError:
		return styles.BubbleError
	case msg.Streaming:
		return styles.BubbleStreaming
	default:
		return styles.BubbleAssistant
	}
}
