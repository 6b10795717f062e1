// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline turns one message's raw text into renderable output.
//
// Process runs an ordered chain of text transforms over the message body:
//
//  1. bracket escaping: \[..\] and \(..\) become $$..$$ and $..$ outside code
//  2. reasoning formatting: a leading <think> block becomes a collapsible section
//  3. HTML fencing: bare HTML documents are wrapped in ```html fences
//  4. attachment substitution: inline file records become compact markers
//
// The order matters. Escaping runs before reasoning quoting so block quotes
// never split math delimiters, and attachment substitution runs last so the
// markers are not rewritten by the earlier steps.
//
// Each transform is isolated. A transform that fails or panics is skipped for
// that message and the text falls through unchanged.
//
// The result carries both the transformed markdown and a closed list of typed
// blocks (Text, Code, Math, Reasoning, Attachment, Diagram) for renderers.
package pipeline
