// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vsare/next-chat/internal/engine"
)

// =============================================================================
// ENGINE MESSAGES
// =============================================================================

// EventMsg carries one engine event into the update loop.
type EventMsg struct {
	Event engine.Event
}

// eventsClosedMsg is sent when the engine closed the subscription.
type eventsClosedMsg struct{}

// frameTickMsg triggers a throttled redraw.
type frameTickMsg struct {
	Time time.Time
}

// submittedMsg reports the result of a Submit or Resend call.
type submittedMsg struct {
	Err error
}

// opResultMsg reports the result of a transcript operation.
type opResultMsg struct {
	Status string
	Err    error
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForEvent blocks on the subscription and returns the next event.
func waitForEvent(ch <-chan engine.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}
