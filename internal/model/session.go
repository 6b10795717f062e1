// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"time"
)

// ErrPreview is returned when a preview entry is offered as a durable message.
var ErrPreview = errors.New("model: preview entries cannot be stored")

// DefaultTopic is the topic of a session before the first user message.
const DefaultTopic = "New Conversation"

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session holds one conversation: pinned context plus live messages.
type Session struct {
	// Identity
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Model configuration
	Model string `json:"model,omitempty"`

	// Context is the pinned prefix, prepended for rendering and model input.
	Context []*Message `json:"context,omitempty"`

	// Messages is the append-ordered durable transcript.
	Messages []*Message `json:"messages"`

	// ClearContextIndex is an index into Context ++ Messages. Entries before it
	// are not sent to the model.
	ClearContextIndex *int `json:"clearContextIndex,omitempty"`

	// LastInput is the last submitted user text.
	LastInput string `json:"lastInput,omitempty"`
}

// NewSession creates an empty session with a generated ID.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:        NewID(),
		Topic:     DefaultTopic,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// LOOKUP
// =============================================================================

// Len returns the length of the full sequence.
func (s *Session) Len() int {
	return len(s.Context) + len(s.Messages)
}

// Full returns Context ++ Messages. The slice is new; messages are shared.
func (s *Session) Full() []*Message {
	out := make([]*Message, 0, s.Len())
	out = append(out, s.Context...)
	return append(out, s.Messages...)
}

// Find returns the message with the given ID from context or messages.
func (s *Session) Find(id string) *Message {
	for _, m := range s.Context {
		if m.ID == id {
			return m
		}
	}
	if i := s.MessageIndex(id); i >= 0 {
		return s.Messages[i]
	}
	return nil
}

// MessageIndex returns the index of id within Messages, or -1.
func (s *Session) MessageIndex(id string) int {
	for i, m := range s.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// MUTATION
// =============================================================================

// Append adds durable messages to the end of the transcript.
func (s *Session) Append(msgs ...*Message) error {
	for _, m := range msgs {
		if m.Preview {
			return ErrPreview
		}
	}
	s.Messages = append(s.Messages, msgs...)
	s.updateTopic()
	s.touch()
	return nil
}

// DeleteByID removes a message from Messages. A clear-context cut after the
// removed entry moves with it.
func (s *Session) DeleteByID(id string) bool {
	i := s.MessageIndex(id)
	if i < 0 {
		return false
	}
	s.Messages = append(s.Messages[:i:i], s.Messages[i+1:]...)
	if s.ClearContextIndex != nil && len(s.Context)+i < *s.ClearContextIndex {
		s.setClearIndex(*s.ClearContextIndex - 1)
	}
	s.touch()
	return true
}

// Unpin removes an entry from the pinned context. The clear-context cut
// moves with it.
func (s *Session) Unpin(id string) bool {
	for i, m := range s.Context {
		if m.ID != id {
			continue
		}
		s.Context = append(s.Context[:i:i], s.Context[i+1:]...)
		if s.ClearContextIndex != nil && i < *s.ClearContextIndex {
			s.setClearIndex(*s.ClearContextIndex - 1)
		}
		s.touch()
		return true
	}
	return false
}

// UpdateByID applies fn to the message with the given ID in context or messages.
func (s *Session) UpdateByID(id string, fn func(*Message)) bool {
	m := s.Find(id)
	if m == nil {
		return false
	}
	fn(m)
	s.touch()
	return true
}

// ReplaceContentByID replaces a message's text, keeping any images.
func (s *Session) ReplaceContentByID(id, text string) bool {
	return s.UpdateByID(id, func(m *Message) {
		m.Content = m.Content.WithText(text)
	})
}

// Pin copies a message into the pinned context. The copy gets a fresh ID so
// the full sequence keeps unique IDs.
func (s *Session) Pin(id string) (*Message, bool) {
	m := s.Find(id)
	if m == nil || m.Preview {
		return nil, false
	}
	pinned := m.Clone()
	pinned.ID = NewID()
	pinned.Streaming = false
	// The copy lands at the end of the context; a cut inside the context
	// stays put.
	if s.ClearContextIndex != nil && *s.ClearContextIndex >= len(s.Context) {
		s.setClearIndex(*s.ClearContextIndex + 1)
	}
	s.Context = append(s.Context, pinned)
	s.touch()
	return pinned, true
}

// ClearContext places the cut after the last entry of the full sequence.
func (s *Session) ClearContext() {
	s.setClearIndex(s.Len())
	s.touch()
}

// ResetClearContext removes the cut.
func (s *Session) ResetClearContext() {
	s.ClearContextIndex = nil
	s.touch()
}

// ClearIndexInMessages translates the cut into an index into Messages.
// Returns 0 when unset or when the cut falls inside the context.
func (s *Session) ClearIndexInMessages() int {
	if s.ClearContextIndex == nil {
		return 0
	}
	i := *s.ClearContextIndex - len(s.Context)
	if i < 0 {
		return 0
	}
	if i > len(s.Messages) {
		return len(s.Messages)
	}
	return i
}

// RequestMessages returns what is sent to the model: context plus messages
// after the cut, without previews, errors, open placeholders or empty entries.
func (s *Session) RequestMessages() []*Message {
	out := make([]*Message, 0, s.Len())
	keep := func(m *Message) bool {
		return !m.Preview && !m.IsError && !m.Streaming && !m.IsEmpty()
	}
	for _, m := range s.Context {
		if keep(m) {
			out = append(out, m)
		}
	}
	for _, m := range s.Messages[s.ClearIndexInMessages():] {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// Clone creates a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Context = cloneMessages(s.Context)
	c.Messages = cloneMessages(s.Messages)
	if s.ClearContextIndex != nil {
		idx := *s.ClearContextIndex
		c.ClearContextIndex = &idx
	}
	return &c
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *Session) setClearIndex(i int) {
	if i < 0 {
		i = 0
	}
	s.ClearContextIndex = &i
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now()
}

// updateTopic derives a topic from the first user message if not set.
func (s *Session) updateTopic() {
	if s.Topic != "" && s.Topic != DefaultTopic {
		return
	}
	for _, m := range s.Messages {
		if m.Role == RoleUser && m.Text() != "" {
			s.Topic = m.Summary(50)
			return
		}
	}
}

func cloneMessages(in []*Message) []*Message {
	if in == nil {
		return nil
	}
	out := make([]*Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
