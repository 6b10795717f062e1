// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package window

import (
	"github.com/vsare/next-chat/internal/model"
)

// Preview entry ids are fixed so renderers can key them stably.
const (
	PendingPreviewID = "preview-pending"
	DraftPreviewID   = "preview-draft"
)

// PendingText is the body of the pending-reply preview.
const PendingText = "……"

// Previews selects the transient entries appended after the messages.
type Previews struct {
	// Loading adds the pending-reply placeholder.
	Loading bool
	// Draft is the text being typed; ShowDraft echoes it as a user bubble.
	Draft     string
	ShowDraft bool
}

// Transcript is the full logical sequence rendered for a session.
type Transcript struct {
	Entries []*model.Message
	// ClearIndex is the clear-context cut within Entries, or -1.
	ClearIndex int
}

// Compose builds context ⧺ messages ⧺ previews. When the session has no
// pinned context, greeting (if non-nil) takes its place.
func Compose(sess *model.Session, greeting *model.Message, p Previews) Transcript {
	ctx := sess.Context
	offset := 0
	if len(ctx) == 0 && greeting != nil {
		ctx = []*model.Message{greeting}
		offset = 1
	}

	entries := make([]*model.Message, 0, len(ctx)+len(sess.Messages)+2)
	entries = append(entries, ctx...)
	entries = append(entries, sess.Messages...)
	if p.Loading {
		entries = append(entries, &model.Message{
			ID:        PendingPreviewID,
			Role:      model.RoleAssistant,
			Content:   model.Text(PendingText),
			Streaming: true,
			Preview:   true,
		})
	}
	if p.ShowDraft && p.Draft != "" {
		entries = append(entries, &model.Message{
			ID:      DraftPreviewID,
			Role:    model.RoleUser,
			Content: model.Text(p.Draft),
			Preview: true,
		})
	}

	cut := -1
	if sess.ClearContextIndex != nil && *sess.ClearContextIndex >= 0 {
		cut = *sess.ClearContextIndex + offset
	}
	return Transcript{Entries: entries, ClearIndex: cut}
}

// Len returns the number of entries.
func (t Transcript) Len() int {
	return len(t.Entries)
}

// View is the materialized part of a transcript.
type View struct {
	// Start is the index of Entries[0] in the full transcript.
	Start   int
	Entries []*model.Message
	// DividerAfter is the index within Entries after which the clear-context
	// divider is drawn, or -1.
	DividerAfter int
}

// Window materializes the slice selected by st.
func (c Config) Window(t Transcript, st State) View {
	start, end := c.Slice(st, t.Len())
	v := View{Start: start, Entries: t.Entries[start:end], DividerAfter: -1}
	if t.ClearIndex >= 0 {
		if i := t.ClearIndex - start - 1; i >= 0 && i < len(v.Entries) {
			v.DividerAfter = i
		}
	}
	return v
}
