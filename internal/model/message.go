// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSystem || r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single entry in a session transcript.
type Message struct {
	// Identity
	ID   string    `json:"id"`
	Role Role      `json:"role"`
	Date time.Time `json:"date"`

	// Content
	Content Content `json:"content"`

	// Model that produced the message (assistant only)
	Model string `json:"model,omitempty"`

	// Streaming is true while content is still being appended. It is persisted
	// so that a reload can sweep replies abandoned by a crash.
	Streaming bool `json:"streaming,omitempty"`

	// IsError marks a failed generation; Content then holds an ErrorPayload.
	IsError bool `json:"isError,omitempty"`

	// Preview marks synthetic render-only entries. Never persisted.
	Preview bool `json:"-"`
}

// NewID returns a new opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content Content) *Message {
	return &Message{
		ID:      NewID(),
		Role:    role,
		Content: content,
		Date:    time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content Content) *Message {
	return NewMessage(RoleUser, content)
}

// NewBotMessage creates an empty assistant placeholder in streaming state.
func NewBotMessage(modelName string) *Message {
	msg := NewMessage(RoleAssistant, Text(""))
	msg.Model = modelName
	msg.Streaming = true
	return msg
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(text string) *Message {
	return NewMessage(RoleSystem, Text(text))
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Text returns the textual content.
func (m *Message) Text() string {
	return m.Content.String()
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return m.Content.IsEmpty()
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Content = m.Content.Clone()
	return &c
}

// Summary returns a truncated single-line preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Summary(maxLen int) string {
	content := strings.Join(strings.Fields(m.Text()), " ")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// ERROR PAYLOAD
// =============================================================================

// ErrorBody is the structured diagnostic stored in failed messages.
type ErrorBody struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// EmptyResponse is the diagnostic for replies that never produced content.
const EmptyResponse = "empty response"

// ErrorPayload renders a diagnostic as a fenced, indented JSON block.
func ErrorPayload(message string) string {
	data, err := json.MarshalIndent(ErrorBody{Error: true, Message: message}, "", "  ")
	if err != nil {
		return message
	}
	return "```json\n" + string(data) + "\n```"
}
