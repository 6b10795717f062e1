// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/window"
)

// EventType names a transcript change.
type EventType string

const (
	EventAppended EventType = "appended"
	EventUpdated  EventType = "updated"
	EventDeleted  EventType = "deleted"
	// EventSession reports a session-level change such as a new session, a
	// pin or a clear-context toggle.
	EventSession EventType = "session"
)

// subscriberBuffer is the per-subscriber queue length. Events beyond it are
// dropped for that subscriber.
const subscriberBuffer = 256

// Event describes one change to an open session.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"sessionId"`
	MessageID string         `json:"messageId,omitempty"`
	Cause     window.Cause   `json:"cause"`
	Message   *model.Message `json:"message,omitempty"`
}

// Change converts the event into the input of the auto-scroll decision.
func (ev Event) Change(composing bool) window.Change {
	return window.Change{Cause: ev.Cause, Composing: composing}
}

// Subscribe returns a channel of engine events and a function that ends the
// subscription. Slow subscribers lose events rather than block the engine.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

func (e *Engine) emit(ev Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.logger.Debug("event dropped", "subscriber", id, "type", ev.Type, "session", ev.SessionID)
		}
	}
}
