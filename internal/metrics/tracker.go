// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vsare/next-chat/internal/model"
)

// =============================================================================
// DISPLAY MODE
// =============================================================================

// Mode selects which metric a rendered message shows.
type Mode int

const (
	ShowTokens Mode = iota
	ShowDelay
)

// ParseMode parses "tokens" or "delay". Anything else is ShowTokens.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "delay") {
		return ShowDelay
	}
	return ShowTokens
}

// String returns the mode name.
func (m Mode) String() string {
	if m == ShowDelay {
		return "delay"
	}
	return "tokens"
}

// Label formats the record for display in mode m. Without a recorded delay
// the token count is shown.
func (r Record) Label(m Mode) string {
	if m == ShowDelay && r.HasDelay {
		return fmt.Sprintf("first token %d ms", r.FirstCharDelay.Milliseconds())
	}
	return fmt.Sprintf("%d tokens", r.TokenCount)
}

// =============================================================================
// TRACKER
// =============================================================================

// Tracker derives and keeps per-message metrics. Records are always cached in
// memory; the persistent store, if any, is written only when a write-once
// field is set or a final token count changes.
type Tracker struct {
	mu          sync.Mutex
	counter     Counter
	hot         *MemoryStore
	persistent  Store
	modes       map[string]Mode
	defaultMode Mode
	collector   *Collector
	logger      *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithStore adds a persistent store behind the memory cache.
func WithStore(s Store) TrackerOption {
	return func(t *Tracker) { t.persistent = s }
}

// WithDefaultMode sets the display mode of messages never toggled.
func WithDefaultMode(m Mode) TrackerOption {
	return func(t *Tracker) { t.defaultMode = m }
}

// WithCollector reports first-token latency to c.
func WithCollector(c *Collector) TrackerOption {
	return func(t *Tracker) { t.collector = c }
}

// WithTrackerLogger sets the logger.
func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a tracker counting tokens with counter and caching at
// most cacheSize records in memory.
func NewTracker(counter Counter, cacheSize int, opts ...TrackerOption) (*Tracker, error) {
	hot, err := NewMemoryStore(cacheSize)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = EstimateCounter{}
	}
	t := &Tracker{
		counter: counter,
		hot:     hot,
		modes:   make(map[string]Mode),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Start records when the request producing message id began. Only the first
// call has an effect.
func (t *Tracker) Start(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.lookupLocked(id)
	if !rec.RequestStart.IsZero() {
		return
	}
	rec.RequestStart = at
	t.storeLocked(rec, true)
}

// Observe recomputes the metrics of a message after its content changed.
// While streaming the token count never decreases. FirstCharDelay is fixed by
// the first content-bearing streamed update of an assistant message with a
// known start; final updates such as a failure diagnostic, a sweep or an edit
// never set it.
func (t *Tracker) Observe(id string, role model.Role, content string, streaming bool, at time.Time) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.lookupLocked(id)
	durable := false

	n := t.counter.Count(content)
	if streaming && n < rec.TokenCount {
		n = rec.TokenCount
	}
	if n != rec.TokenCount {
		rec.TokenCount = n
		durable = !streaming
	}

	if streaming && role == model.RoleAssistant && content != "" && !rec.HasDelay && !rec.RequestStart.IsZero() {
		d := at.Sub(rec.RequestStart)
		if d < 0 {
			d = 0
		}
		rec.FirstCharDelay = d
		rec.HasDelay = true
		durable = true
		t.collector.ObserveFirstChar(d)
	}

	t.storeLocked(rec, durable)
	return rec
}

// Record returns the record of a message.
func (t *Tracker) Record(id string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.lookupLocked(id)
	return rec, rec.TokenCount > 0 || rec.HasDelay || !rec.RequestStart.IsZero()
}

// Mode returns the display mode of a message.
func (t *Tracker) Mode(id string) Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.modes[id]; ok {
		return m
	}
	return t.defaultMode
}

// Toggle flips a message between token count and first-token delay. Messages
// without a recorded delay stay on token count.
func (t *Tracker) Toggle(id string) Mode {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.modes[id]
	if !ok {
		current = t.defaultMode
	}
	if !t.lookupLocked(id).HasDelay {
		return current
	}
	next := ShowDelay
	if current == ShowDelay {
		next = ShowTokens
	}
	t.modes[id] = next
	return next
}

// Label returns the display label of a message in its current mode.
func (t *Tracker) Label(id string) string {
	mode := t.Mode(id)
	rec, _ := t.Record(id)
	return rec.Label(mode)
}

// Forget drops the records of deleted messages.
func (t *Tracker) Forget(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_ = t.hot.Delete(context.Background(), ids...)
	for _, id := range ids {
		delete(t.modes, id)
	}
	if t.persistent != nil {
		if err := t.persistent.Delete(context.Background(), ids...); err != nil {
			t.logger.Warn("failed to delete metrics", "error", err)
		}
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (t *Tracker) lookupLocked(id string) Record {
	ctx := context.Background()
	if rec, ok, _ := t.hot.Get(ctx, id); ok {
		return rec
	}
	if t.persistent != nil {
		rec, ok, err := t.persistent.Get(ctx, id)
		if err != nil {
			t.logger.Warn("failed to load metrics", "message", id, "error", err)
		}
		if ok {
			_ = t.hot.Put(ctx, rec)
			return rec
		}
	}
	return Record{MessageID: id}
}

func (t *Tracker) storeLocked(rec Record, durable bool) {
	ctx := context.Background()
	_ = t.hot.Put(ctx, rec)
	if durable && t.persistent != nil {
		if err := t.persistent.Put(ctx, rec); err != nil {
			t.logger.Warn("failed to persist metrics", "message", rec.MessageID, "error", err)
		}
	}
}
