// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// REDRAW THROTTLE
// =============================================================================

const (
	defaultMaxFPS    = 30
	defaultBatchSize = 15
)

// redrawThrottle coalesces stream events into redraws at a capped frame
// rate. A reply can deliver hundreds of chunks per second; re-rendering
// markdown for each one would starve the input loop.
//
// A redraw is due when either:
// 1. batchSize events accumulated since the last flush
// 2. the minimum frame interval elapsed since the last flush
//
// Thread-safety: All operations are protected by a mutex.
type redrawThrottle struct {
	mu        sync.Mutex
	pending   int
	scheduled bool
	lastFlush time.Time

	batchSize   int
	minInterval time.Duration
}

func newRedrawThrottle(batchSize, maxFPS int) *redrawThrottle {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = defaultMaxFPS
	}
	return &redrawThrottle{
		batchSize:   batchSize,
		minInterval: time.Second / time.Duration(maxFPS),
	}
}

// Mark records one stream event. It returns true when no frame tick is
// scheduled yet, in which case the caller must schedule one.
func (r *redrawThrottle) Mark() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending++
	if r.scheduled {
		return false
	}
	r.scheduled = true
	return true
}

// Due reports whether pending events should be drawn at now.
func (r *redrawThrottle) Due(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == 0 {
		return false
	}
	return r.pending >= r.batchSize || now.Sub(r.lastFlush) >= r.minInterval
}

// Flush clears pending events after a redraw. It returns false when nothing
// was pending.
func (r *redrawThrottle) Flush(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	had := r.pending > 0
	r.pending = 0
	r.lastFlush = now
	return had
}

// Tick clears the scheduled flag when a frame tick arrives. It returns true
// if events are still pending and another tick is needed.
func (r *redrawThrottle) Tick() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = r.pending > 0
	return r.scheduled
}

// Pending returns the number of events not drawn yet.
func (r *redrawThrottle) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// frameTickCmd delivers a frameTickMsg after one frame interval.
func (r *redrawThrottle) frameTickCmd() tea.Cmd {
	return tea.Tick(r.minInterval, func(t time.Time) tea.Msg {
		return frameTickMsg{Time: t}
	})
}
