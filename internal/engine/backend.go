// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"

	"github.com/vsare/next-chat/internal/model"
)

// =============================================================================
// EXTERNAL INTERFACES
// =============================================================================

// Request is one model request.
type Request struct {
	ConversationID string
	// MessageID is the placeholder the reply streams into.
	MessageID string
	Model     string
	// History is what the model sees before the new input: pinned context and
	// messages after the clear-context cut, without errors or placeholders.
	History []*model.Message
	// Text is the new user input, attachment records included.
	Text string
	// Attachments are image URLs sent with Text.
	Attachments []string
}

// Chunk is one streamed increment. The channel is closed after a chunk with
// Done or Err set, or when the request context is cancelled.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// Backend streams a reply for a request. Cancelling ctx ends the stream.
type Backend interface {
	Submit(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Store persists sessions.
type Store interface {
	Load(ctx context.Context, id string) (*model.Session, error)
	Save(ctx context.Context, sess *model.Session) error
}

// Drafts keeps unsent input per conversation.
type Drafts interface {
	SaveDraft(id, text string) error
	TakeDraft(id string) (string, bool)
}
