// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"crypto/sha256"
	"errors"

	"github.com/vsare/next-chat/internal/metrics"
	"github.com/vsare/next-chat/internal/pipeline"
	"github.com/vsare/next-chat/internal/window"
)

// ErrAttachmentNotFound is returned when a message carries no record for the
// requested attachment.
var ErrAttachmentNotFound = errors.New("engine: attachment not found")

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript composes the full render sequence of a session: pinned context
// or greeting, messages, then the requested previews.
func (e *Engine) Transcript(conv string, p window.Previews) (window.Transcript, error) {
	snap, err := e.Snapshot(conv)
	if err != nil {
		return window.Transcript{}, err
	}
	return window.Compose(snap, e.greeting(snap), p), nil
}

// View returns the visible window of a session's transcript.
func (e *Engine) View(conv string, st window.State, p window.Previews) (window.View, error) {
	t, err := e.Transcript(conv, p)
	if err != nil {
		return window.View{}, err
	}
	return e.cfg.Window.Window(t, st), nil
}

// =============================================================================
// CONTENT
// =============================================================================

// Render runs a message through the content pipeline. Outputs are cached by
// message id and content, so repeated renders of an unchanged message reuse
// the first result. The returned Blocks must not be modified.
func (e *Engine) Render(conv, id string) (pipeline.Output, error) {
	text, err := e.messageText(conv, id)
	if err != nil {
		return pipeline.Output{}, err
	}

	key := renderKey{id: id, hash: sha256.Sum256([]byte(text))}
	if out, ok := e.rendered.Get(key); ok {
		return out, nil
	}
	out := e.pipeline.Process(text, e.lifecycle.Timing(id))
	for _, name := range out.Skipped {
		e.collector.TransformSkipped(name)
	}
	e.rendered.Add(key, out)
	return out, nil
}

// RenderText runs arbitrary text, such as a draft preview, through the
// content pipeline without caching.
func (e *Engine) RenderText(text string) pipeline.Output {
	return e.pipeline.Process(text, nil)
}

// AttachmentContent returns the original content of an attachment shown in a
// message.
func (e *Engine) AttachmentContent(conv, id string, a pipeline.Attachment) (string, error) {
	text, err := e.messageText(conv, id)
	if err != nil {
		return "", err
	}
	content, ok := pipeline.OriginalContent(text, a)
	if !ok {
		return "", ErrAttachmentNotFound
	}
	return content, nil
}

func (e *Engine) messageText(conv, id string) (string, error) {
	ent, ok := e.lookup(conv)
	if !ok {
		return "", ErrSessionNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if id == GreetingID && len(ent.sess.Context) == 0 {
		if g := e.greeting(ent.sess); g != nil {
			return g.Text(), nil
		}
	}
	msg := ent.sess.Find(id)
	if msg == nil {
		return "", ErrMessageNotFound
	}
	return msg.Text(), nil
}

// =============================================================================
// METRICS
// =============================================================================

// MessageMetrics is the displayable metrics of one message.
type MessageMetrics struct {
	metrics.Record
	Mode  metrics.Mode `json:"-"`
	Label string       `json:"label"`
}

// Metrics returns the metrics of a message.
func (e *Engine) Metrics(id string) MessageMetrics {
	rec, _ := e.tracker.Record(id)
	mode := e.tracker.Mode(id)
	return MessageMetrics{Record: rec, Mode: mode, Label: rec.Label(mode)}
}

// ToggleMetric flips the displayed metric of a message.
func (e *Engine) ToggleMetric(id string) MessageMetrics {
	e.tracker.Toggle(id)
	return e.Metrics(id)
}

