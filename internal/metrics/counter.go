// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics derives per-message token counts and first-token latency.
//
// The Tracker recomputes a message's token count as its content changes and
// records the delay between request start and the first content-bearing
// chunk exactly once per message id. Records live in a keyed Store so they
// survive a view being torn down and rebuilt. A Collector exposes engine-wide
// counters to Prometheus.
package metrics

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens. Implementations must be pure and deterministic.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) int

// Count implements Counter.
func (f CounterFunc) Count(text string) int { return f(text) }

// =============================================================================
// TIKTOKEN
// =============================================================================

// TiktokenCounter counts BPE tokens with a tiktoken encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements Counter.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// =============================================================================
// ESTIMATE
// =============================================================================

// EstimateCounter is a heuristic: max(runes/4, words), at least 1 for
// non-blank text.
type EstimateCounter struct{}

// Count implements Counter.
func (EstimateCounter) Count(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// EstimateEncoding selects EstimateCounter in NewCounter.
const EstimateEncoding = "estimate"

// NewCounter returns a tiktoken counter, falling back to EstimateCounter when
// the encoding cannot be loaded (for example when offline on first use).
func NewCounter(encoding string, logger *slog.Logger) Counter {
	if encoding == EstimateEncoding {
		return EstimateCounter{}
	}
	c, err := NewTiktokenCounter(encoding)
	if err != nil {
		if logger != nil {
			logger.Warn("tokenizer unavailable, using estimate", "encoding", encoding, "error", err)
		}
		return EstimateCounter{}
	}
	return c
}
