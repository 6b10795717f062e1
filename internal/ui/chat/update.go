// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vsare/next-chat/internal/engine"
	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/window"
)

// opTimeout bounds transcript operations started from the keyboard.
const opTimeout = 10 * time.Second

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.Stop):
		return m.stop()

	case key.Matches(msg, m.keys.StopAll):
		n := m.engine.StopAll()
		m.status = fmt.Sprintf("stopped %d %s", n, plural(n, "reply", "replies"))
		return m, nil

	case key.Matches(msg, m.keys.Resend):
		return m.resend()

	case key.Matches(msg, m.keys.ToggleMetric):
		return m.toggleMetric()

	case key.Matches(msg, m.keys.ClearContext):
		return m, m.clearContextCmd()

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		m.evaluateScroll()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		m.evaluateScroll()
		return m, nil

	case key.Matches(msg, m.keys.Top):
		m.state = m.state.Detach()
		m.viewport.GotoTop()
		m.evaluateScroll()
		return m, nil

	case key.Matches(msg, m.keys.Bottom):
		t := m.transcript()
		m.state = m.win.ScrollToBottom(m.state, t.Len())
		m.paint(t, true)
		return m, nil

	case key.Matches(msg, m.keys.Recall) && m.input.Value() == "":
		if snap, err := m.engine.Snapshot(m.sessionID); err == nil && snap.LastInput != "" {
			m.input.SetValue(snap.LastInput)
			m.input.CursorEnd()
		}
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.previewBubble && m.input.Value() != before {
		m.redraw(window.Change{Cause: window.CauseDraft, Composing: m.composing()})
	}
	return m, cmd
}

// =============================================================================
// ACTIONS
// =============================================================================

func (m Model) quit() (tea.Model, tea.Cmd) {
	if err := m.engine.SaveDraft(m.sessionID, m.input.Value()); err != nil {
		m.logger.Warn("save draft failed", "session", m.sessionID, "error", err)
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.quitting = true
	return m, tea.Quit
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	m.input.Reset()
	m.submitting = true
	m.lastErr = nil
	m.status = ""

	t := m.transcript()
	m.state = m.win.ScrollToBottom(m.state, t.Len())
	m.paint(t, true)

	eng, ctx, id := m.engine, m.ctx, m.sessionID
	send := func() tea.Msg {
		_, err := eng.Submit(ctx, id, engine.Input{Text: text})
		return submittedMsg{Err: err}
	}
	return m, tea.Batch(send, m.startSpinner())
}

// stop cancels the newest streaming reply of the session.
func (m Model) stop() (tea.Model, tea.Cmd) {
	reply := m.lastAssistant(func(msg *model.Message) bool { return msg.Streaming })
	if reply == nil {
		return m, nil
	}
	if m.engine.Stop(m.sessionID, reply.ID) {
		m.status = "stopped"
	}
	return m, nil
}

// resend regenerates the newest assistant reply.
func (m Model) resend() (tea.Model, tea.Cmd) {
	reply := m.lastAssistant(func(msg *model.Message) bool { return !msg.Streaming })
	if reply == nil {
		m.status = "nothing to resend"
		return m, nil
	}
	m.lastErr = nil
	m.submitting = true

	eng, ctx, id, msgID := m.engine, m.ctx, m.sessionID, reply.ID
	send := func() tea.Msg {
		_, err := eng.Resend(ctx, id, msgID)
		return submittedMsg{Err: err}
	}
	return m, tea.Batch(send, m.startSpinner())
}

func (m Model) toggleMetric() (tea.Model, tea.Cmd) {
	reply := m.lastAssistant(func(*model.Message) bool { return true })
	if reply == nil {
		return m, nil
	}
	mm := m.engine.ToggleMetric(reply.ID)
	m.status = mm.Label
	delete(m.cache, reply.ID)
	m.redraw(window.Change{})
	return m, nil
}

func (m Model) clearContextCmd() tea.Cmd {
	eng, ctx, id := m.engine, m.ctx, m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		cleared, err := eng.ClearContext(ctx, id)
		status := "context restored"
		if cleared {
			status = "context cleared"
		}
		return opResultMsg{Status: status, Err: err}
	}
}

// lastAssistant returns the newest assistant message matching keep.
func (m Model) lastAssistant(keep func(*model.Message) bool) *model.Message {
	snap, err := m.engine.Snapshot(m.sessionID)
	if err != nil {
		return nil
	}
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		msg := snap.Messages[i]
		if msg.Role == model.RoleAssistant && keep(msg) {
			return msg
		}
	}
	return nil
}
