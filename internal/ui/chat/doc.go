// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the full-screen chat view of the next-chat TUI.

The Model is a Bubble Tea model backed by an engine.Engine. It never owns
transcript state: every frame is composed from the engine's transcript of
one session and the window state kept here.

# Event Flow

The model subscribes to engine events at construction. A command blocks on
the subscription and delivers each event as an EventMsg:

  - Appended, updated and session events redraw immediately.
  - Stream events are coalesced by a redraw throttle and drawn at most 30
    times per second.

Every redraw consults window.State.ShouldAutoScroll to decide whether the
view follows the bottom. Scrolling with the mouse wheel or the page keys
feeds a scroll sample to window.Config.Evaluate, which pages the rendered
window; the first visible entry keeps its position when the window moves.

# Key Bindings

	Enter       send            Esc     stop the streaming reply
	Alt+Enter   new line        C-x     stop all replies
	↑           recall input    C-r     resend the last reply
	C-t         toggle metric   C-l     clear context
	PgUp/PgDn   page            F1      help
	C-c         quit (the unsent input is kept as a draft)

# Usage

	err := chat.Run(chat.Options{
		Engine:    eng,
		SessionID: sess.ID,
		Style:     cfg.UI.Theme,
	})
*/
package chat
