// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cancel tracks in-flight requests so they can be stopped.
//
// A Registry maps (conversation id, message id) to the cancel function of the
// request producing that message. It is created once per process and handed
// to its consumers; tests build their own isolated instances.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrDuplicate is returned when a key is registered twice.
var ErrDuplicate = errors.New("cancel: request already registered")

// Key identifies one in-flight request.
type Key struct {
	ConversationID string
	MessageID      string
}

func (k Key) String() string {
	return k.ConversationID + "/" + k.MessageID
}

type handle struct {
	cancel  context.CancelFunc
	started time.Time
}

// =============================================================================
// REGISTRY (THREAD-SAFE)
// =============================================================================

// Registry is a mutex-protected table of cancel functions.
// Cancel functions are invoked after the lock is released.
type Registry struct {
	mu      sync.Mutex
	handles map[Key]handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handles: make(map[Key]handle)}
}

// Register derives a cancellable context from parent and stores its cancel
// function under (conv, msg). Registering an existing key is a logic error:
// the existing handle is left untouched and ErrDuplicate is returned.
func (r *Registry) Register(parent context.Context, conv, msg string) (context.Context, error) {
	key := Key{conv, msg}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	ctx, cancel := context.WithCancel(parent)
	r.handles[key] = handle{cancel: cancel, started: time.Now()}
	return ctx, nil
}

// Stop cancels and removes the handle for (conv, msg). Reports whether a
// handle was present.
func (r *Registry) Stop(conv, msg string) bool {
	fn, ok := r.take(Key{conv, msg})
	if ok {
		fn()
	}
	return ok
}

// Release removes the handle of a request that finished on its own.
// Its context is cancelled to free resources.
func (r *Registry) Release(conv, msg string) {
	r.Stop(conv, msg)
}

// StopAll cancels and removes every handle. Returns how many were stopped.
func (r *Registry) StopAll() int {
	return r.stopWhere(func(Key) bool { return true })
}

// StopConversation cancels every handle of one conversation. Used when a
// conversation is torn down.
func (r *Registry) StopConversation(conv string) int {
	return r.stopWhere(func(k Key) bool { return k.ConversationID == conv })
}

// HasPending reports whether any request is in flight.
func (r *Registry) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles) > 0
}

// Len returns the number of in-flight requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Pending returns the message ids in flight for a conversation, oldest first.
func (r *Registry) Pending(conv string) []string {
	r.mu.Lock()
	type entry struct {
		id      string
		started time.Time
	}
	var entries []entry
	for k, h := range r.handles {
		if k.ConversationID == conv {
			entries = append(entries, entry{k.MessageID, h.started})
		}
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].started.Equal(entries[j].started) {
			return entries[i].id < entries[j].id
		}
		return entries[i].started.Before(entries[j].started)
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (r *Registry) take(key Key) (context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	if !ok {
		return nil, false
	}
	delete(r.handles, key)
	return h.cancel, true
}

func (r *Registry) stopWhere(match func(Key) bool) int {
	r.mu.Lock()
	var fns []context.CancelFunc
	for k, h := range r.handles {
		if match(k) {
			fns = append(fns, h.cancel)
			delete(r.handles, k)
		}
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}
