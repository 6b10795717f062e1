// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package window

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// =============================================================================
// CHANGE DETECTOR
// =============================================================================

// ChangeDetector reports whether rendered content actually changed since the
// last observation, so auto-scroll and redraws only fire on real changes.
// During streaming a surface may re-render many times per second with
// identical output; a content hash filters those out.
//
// Thread-safety: All operations are protected by a mutex.
type ChangeDetector struct {
	mu       sync.Mutex
	lastHash string
	seen     bool
	observed uint64
	skipped  uint64
}

// NewChangeDetector creates a detector that reports the first observation as
// a change.
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{}
}

// Changed records content and reports whether it differs from the previous
// observation.
func (d *ChangeDetector) Changed(content string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.observed++
	h := hashContent(content)
	if d.seen && h == d.lastHash {
		d.skipped++
		return false
	}
	d.seen = true
	d.lastHash = h
	return true
}

// Reset forgets the last observation. Use when switching sessions.
func (d *ChangeDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = false
	d.lastHash = ""
}

// Stats returns (observed, skipped) counts.
func (d *ChangeDetector) Stats() (observed, skipped uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.observed, d.skipped
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
