// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/vsare/next-chat/internal/lifecycle"
	"github.com/vsare/next-chat/internal/metrics"
	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/pipeline"
	"github.com/vsare/next-chat/internal/window"
)

// ErrNoCounterpart is returned by Resend when no user message precedes the
// target reply.
var ErrNoCounterpart = lifecycle.ErrNoCounterpart

// File is a text attachment sent with an input.
type File struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Input is one user submission.
type Input struct {
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
	Files  []File   `json:"files,omitempty"`
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit appends the user message and an assistant placeholder to the session
// and starts streaming the reply. It returns the placeholder as created; the
// reply continues in the background and is observed through Subscribe,
// Snapshot or Render. A backend that refuses the request leaves the
// placeholder failed with the diagnostic appended.
func (e *Engine) Submit(ctx context.Context, id string, in Input) (*model.Message, error) {
	text := e.composeInput(in)
	if strings.TrimSpace(text) == "" && len(in.Images) == 0 {
		return nil, ErrEmptyInput
	}
	ent, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.submit(ctx, ent, text, in.Images, norm.NFC.String(in.Text))
}

// composeInput normalizes the text and folds files into attachment records.
func (e *Engine) composeInput(in Input) string {
	text := norm.NFC.String(in.Text)
	files := in.Files
	if e.cfg.LongTextThreshold > 0 && utf8.RuneCountInString(text) > e.cfg.LongTextThreshold {
		files = append([]File{{Name: LongTextName, Type: "text/plain", Content: text}}, files...)
		text = ""
	}
	if len(files) == 0 {
		return text
	}

	records := make([]string, 0, len(files))
	for _, f := range files {
		typ := f.Type
		if typ == "" {
			typ = "text/plain"
		}
		body := norm.NFC.String(f.Content)
		records = append(records, pipeline.FormatRecord(f.Name, typ, int64(len(body)), body))
	}
	joined := pipeline.JoinRecords(records)
	if strings.TrimSpace(text) == "" {
		return joined
	}
	return text + "\n\n" + joined
}

func (e *Engine) submit(ctx context.Context, ent *entry, text string, images []string, lastInput string) (*model.Message, error) {
	// The in-flight count is taken under the same lock Shutdown uses to
	// close, so Shutdown waits for this call to hand off or settle.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.inflight.Add(1)
	e.mu.Unlock()
	consuming := false
	defer func() {
		if !consuming {
			e.inflight.Done()
		}
	}()

	now := e.now()
	content := model.Text(text)
	if len(images) > 0 {
		content = model.Multimodal(text, images...)
	}
	user := model.NewUserMessage(content)
	user.Date = now

	ent.mu.Lock()
	sess := ent.sess
	modelName := sess.Model
	if modelName == "" {
		modelName = e.cfg.Model
	}
	reply := model.NewBotMessage(modelName)
	reply.Date = now
	history := cloneAll(sess.RequestMessages())
	if err := sess.Append(user, reply); err != nil {
		ent.mu.Unlock()
		return nil, err
	}
	if lastInput != "" {
		sess.LastInput = lastInput
	}
	e.lifecycle.Begin(reply)
	conv := sess.ID
	userSnap, replySnap := user.Clone(), reply.Clone()
	ent.mu.Unlock()

	e.tracker.Observe(user.ID, model.RoleUser, text, false, now)
	e.tracker.Start(reply.ID, now)
	e.emit(Event{Type: EventAppended, SessionID: conv, MessageID: user.ID, Cause: window.CauseAppend, Message: userSnap})
	e.emit(Event{Type: EventAppended, SessionID: conv, MessageID: reply.ID, Cause: window.CauseAppend, Message: replySnap})

	reqCtx, err := e.registry.Register(e.base, conv, reply.ID)
	if err != nil {
		e.settle(ent, reply.ID, false, err)
		return replySnap, e.persist(ctx, ent)
	}

	e.collector.RequestStarted()
	e.logger.Debug("request started", "session", conv, "message", reply.ID, "model", modelName, "history", len(history))
	ch, err := e.backend.Submit(reqCtx, Request{
		ConversationID: conv,
		MessageID:      reply.ID,
		Model:          modelName,
		History:        history,
		Text:           text,
		Attachments:    images,
	})
	if err != nil {
		e.registry.Release(conv, reply.ID)
		e.collector.RequestFinished(e.settle(ent, reply.ID, false, err))
		return replySnap, e.persist(ctx, ent)
	}

	if err := e.persist(ctx, ent); err != nil {
		e.logger.Warn("reply continues unsaved", "session", conv, "message", reply.ID)
	}
	consuming = true
	go e.consume(reqCtx, ent, conv, reply.ID, ch)
	return replySnap, nil
}

// consume applies chunks until the stream ends, fails or is cancelled.
func (e *Engine) consume(ctx context.Context, ent *entry, conv, id string, ch <-chan Chunk) {
	defer e.inflight.Done()
	defer e.registry.Release(conv, id)

	var cause error
	done := false
loop:
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				break loop
			}
			if c.Err != nil {
				cause = c.Err
				break loop
			}
			if c.Text != "" && !e.applyChunk(ent, conv, id, c.Text) {
				break loop
			}
			if c.Done {
				done = true
				break loop
			}
		case <-ctx.Done():
			break loop
		}
	}

	stopped := !done && cause == nil && ctx.Err() != nil
	e.collector.RequestFinished(e.settle(ent, id, stopped, cause))
	e.persistAsync(ent)
}

// applyChunk appends one chunk. Returns false once the reply no longer
// accepts chunks.
func (e *Engine) applyChunk(ent *entry, conv, id, text string) bool {
	ent.mu.Lock()
	msg := ent.sess.Find(id)
	if msg == nil {
		ent.mu.Unlock()
		e.registry.Stop(conv, id)
		return false
	}
	if !e.lifecycle.Apply(msg, text) {
		ent.mu.Unlock()
		return false
	}
	content := msg.Text()
	snap := msg.Clone()
	ent.mu.Unlock()

	e.tracker.Observe(id, model.RoleAssistant, content, true, e.now())
	e.emit(Event{Type: EventUpdated, SessionID: conv, MessageID: id, Cause: window.CauseStream, Message: snap})
	return true
}

// settle moves the reply to its terminal state and returns the request
// outcome.
func (e *Engine) settle(ent *entry, id string, stopped bool, cause error) string {
	ent.mu.Lock()
	msg := ent.sess.Find(id)
	if msg == nil {
		ent.mu.Unlock()
		return metrics.OutcomeStopped
	}
	conv := ent.sess.ID
	switch {
	case cause != nil:
		e.lifecycle.Fail(msg, cause)
	case stopped:
		e.lifecycle.Stop(msg)
	default:
		e.lifecycle.Complete(msg)
	}
	state := e.lifecycle.State(msg)
	content := msg.Text()
	snap := msg.Clone()
	ent.mu.Unlock()

	e.tracker.Observe(id, model.RoleAssistant, content, false, e.now())
	e.emit(Event{Type: EventUpdated, SessionID: conv, MessageID: id, Cause: window.CauseStream, Message: snap})

	switch {
	case cause != nil:
		e.logger.Warn("reply failed", "session", conv, "message", id, "error", cause)
		return metrics.OutcomeError
	case state == lifecycle.StaleTimeout || state == lifecycle.Error:
		return metrics.OutcomeStale
	case stopped:
		e.logger.Debug("reply stopped", "session", conv, "message", id)
		return metrics.OutcomeStopped
	default:
		e.logger.Debug("reply complete", "session", conv, "message", id, "chars", len(content))
		return metrics.OutcomeComplete
	}
}

// =============================================================================
// CANCELLATION
// =============================================================================

// Stop ends a streaming reply, keeping its partial content. Reports whether
// anything was stopped.
func (e *Engine) Stop(conv, id string) bool {
	ent, ok := e.lookup(conv)
	if !ok {
		return false
	}
	ent.mu.Lock()
	changed := false
	var snap *model.Message
	if msg := ent.sess.Find(id); msg != nil {
		changed = e.lifecycle.Stop(msg)
		snap = msg.Clone()
	}
	ent.mu.Unlock()

	cancelled := e.registry.Stop(conv, id)
	if changed {
		e.emit(Event{Type: EventUpdated, SessionID: conv, MessageID: id, Cause: window.CauseStream, Message: snap})
	}
	return cancelled || changed
}

// StopAll stops every in-flight request. Returns how many were stopped.
func (e *Engine) StopAll() int {
	e.mu.Lock()
	ents := make([]*entry, 0, len(e.sessions))
	for _, ent := range e.sessions {
		ents = append(ents, ent)
	}
	e.mu.Unlock()

	n := 0
	for _, ent := range ents {
		n += e.stopPending(ent)
	}
	// requests whose session was closed meanwhile
	n += e.registry.StopAll()
	return n
}

// HasPending reports whether a request is in flight for the session, or for
// any session when conv is empty.
func (e *Engine) HasPending(conv string) bool {
	if conv == "" {
		return e.registry.HasPending()
	}
	return len(e.registry.Pending(conv)) > 0
}

func (e *Engine) stopPending(ent *entry) int {
	ent.mu.Lock()
	conv := ent.sess.ID
	ent.mu.Unlock()

	n := 0
	for _, id := range e.registry.Pending(conv) {
		if e.Stop(conv, id) {
			n++
		}
	}
	return n
}

// =============================================================================
// RESEND
// =============================================================================

// Resend deletes the user/assistant pair around id and submits the user
// content again. Returns the new placeholder.
func (e *Engine) Resend(ctx context.Context, conv, id string) (*model.Message, error) {
	ent, err := e.load(ctx, conv)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	res, err := e.lifecycle.Resend(ent.sess, id)
	ent.mu.Unlock()
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return nil, ErrMessageNotFound
	case errors.Is(err, lifecycle.ErrNoCounterpart):
		e.logger.Warn("resend found no user message", "session", conv, "message", id)
		return nil, fmt.Errorf("resend %s: %w", id, err)
	case err != nil:
		return nil, err
	}

	for _, d := range res.Deleted {
		e.registry.Stop(conv, d)
		e.emit(Event{Type: EventDeleted, SessionID: conv, MessageID: d})
	}
	e.tracker.Forget(res.Deleted...)
	return e.submit(ctx, ent, res.Text, res.Images, "")
}

func cloneAll(msgs []*model.Message) []*model.Message {
	out := make([]*model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
