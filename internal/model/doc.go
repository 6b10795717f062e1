// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
//
// This package defines the core domain types of the transcript engine: the
// durable Message, its text-or-parts Content, and the Session that owns an
// append-ordered message sequence plus a pinned context prefix.
//
// # Key Types
//
//   - Session: ordered container with messages, pinned context and a clear-context cut
//   - Message: single entry with role, content, timestamps and streaming/error flags
//   - Content: plain text or an ordered list of text/image parts
//   - Role: message role enumeration (system, user, assistant)
//
// # Usage
//
//	sess := model.NewSession()
//	_ = sess.Append(model.NewUserMessage(model.Text("Hello!")))
//	bot := model.NewBotMessage("qwen2.5:7b")
//	_ = sess.Append(bot)
//
// Sessions are not safe for concurrent use. The engine serializes all mutation
// of one session behind its own lock and hands out deep copies via Clone.
package model
