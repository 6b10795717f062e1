// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/window"
)

// =============================================================================
// TRANSCRIPT EDITING
// =============================================================================

// Delete removes a message from the transcript or the pinned context. A
// streaming reply is stopped first.
func (e *Engine) Delete(ctx context.Context, conv, id string) error {
	ent, err := e.load(ctx, conv)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	msg := ent.sess.Find(id)
	if msg == nil {
		ent.mu.Unlock()
		return ErrMessageNotFound
	}
	if msg.Streaming {
		e.lifecycle.Stop(msg)
	}
	if !ent.sess.DeleteByID(id) {
		ent.sess.Unpin(id)
	}
	ent.mu.Unlock()

	e.registry.Stop(conv, id)
	e.lifecycle.Forget(id)
	e.tracker.Forget(id)
	e.emit(Event{Type: EventDeleted, SessionID: conv, MessageID: id})
	return e.persist(ctx, ent)
}

// Edit replaces the text of a message, keeping its images.
func (e *Engine) Edit(ctx context.Context, conv, id, text string) error {
	ent, err := e.load(ctx, conv)
	if err != nil {
		return err
	}
	text = norm.NFC.String(text)

	ent.mu.Lock()
	msg := ent.sess.Find(id)
	if msg == nil {
		ent.mu.Unlock()
		return ErrMessageNotFound
	}
	if msg.Streaming {
		ent.mu.Unlock()
		return ErrStreaming
	}
	ent.sess.ReplaceContentByID(id, text)
	role := msg.Role
	snap := msg.Clone()
	ent.mu.Unlock()

	e.tracker.Observe(id, role, text, false, e.now())
	e.emit(Event{Type: EventUpdated, SessionID: conv, MessageID: id, Cause: window.CauseNone, Message: snap})
	return e.persist(ctx, ent)
}

// Pin copies a message into the pinned context and returns the copy.
func (e *Engine) Pin(ctx context.Context, conv, id string) (*model.Message, error) {
	ent, err := e.load(ctx, conv)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	pinned, ok := ent.sess.Pin(id)
	var snap *model.Message
	if ok {
		snap = pinned.Clone()
	}
	ent.mu.Unlock()
	if !ok {
		return nil, ErrMessageNotFound
	}

	e.tracker.Observe(snap.ID, snap.Role, snap.Text(), false, e.now())
	e.emit(Event{Type: EventSession, SessionID: conv, MessageID: snap.ID, Message: snap})
	return snap, e.persist(ctx, ent)
}

// ClearContext toggles the clear-context cut. Placing it after the last entry
// hides everything before it from the model; toggling again removes it.
// Reports whether the cut is now set.
func (e *Engine) ClearContext(ctx context.Context, conv string) (bool, error) {
	ent, err := e.load(ctx, conv)
	if err != nil {
		return false, err
	}

	ent.mu.Lock()
	sess := ent.sess
	set := true
	if sess.ClearContextIndex != nil && *sess.ClearContextIndex == sess.Len() {
		sess.ResetClearContext()
		set = false
	} else {
		sess.ClearContext()
	}
	ent.mu.Unlock()

	e.emit(Event{Type: EventSession, SessionID: conv})
	return set, e.persist(ctx, ent)
}

// =============================================================================
// STALE SWEEP
// =============================================================================

// Sweep forces replies that stopped receiving chunks out of streaming, in
// every open session. Returns how many replies changed.
func (e *Engine) Sweep(ctx context.Context) int {
	e.mu.Lock()
	ents := make([]*entry, 0, len(e.sessions))
	for _, ent := range e.sessions {
		ents = append(ents, ent)
	}
	e.mu.Unlock()

	total := 0
	for _, ent := range ents {
		ent.mu.Lock()
		conv := ent.sess.ID
		ids := e.lifecycle.Sweep(ent.sess, e.cfg.RequestTimeout)
		snaps := make([]*model.Message, 0, len(ids))
		for _, id := range ids {
			if m := ent.sess.Find(id); m != nil {
				snaps = append(snaps, m.Clone())
			}
		}
		ent.mu.Unlock()
		if len(ids) == 0 {
			continue
		}

		for _, snap := range snaps {
			e.registry.Stop(conv, snap.ID)
			e.tracker.Observe(snap.ID, snap.Role, snap.Text(), false, e.now())
			e.emit(Event{Type: EventUpdated, SessionID: conv, MessageID: snap.ID, Cause: window.CauseStream, Message: snap})
		}
		_ = e.persist(ctx, ent)
		total += len(ids)
	}
	e.collector.Swept(total)
	return total
}

// RunSweeper calls Sweep every SweepInterval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := e.Sweep(ctx); n > 0 {
				e.logger.Info("stale replies swept", "count", n)
			}
		}
	}
}
