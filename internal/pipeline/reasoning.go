// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// =============================================================================
// TIMING RECORD
// =============================================================================

// Timing is the reasoning timing record of one message. The first-seen time is
// recorded on the first observation and the close time on the first
// observation of the closing tag; neither is overwritten afterwards.
type Timing struct {
	mu        sync.Mutex
	firstSeen time.Time
	closed    time.Time
}

// Observe records an observation at now and returns the elapsed reasoning time.
func (t *Timing) Observe(now time.Time, closed bool) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.firstSeen.IsZero() {
		t.firstSeen = now
	}
	if closed && t.closed.IsZero() {
		t.closed = now
	}
	end := now
	if !t.closed.IsZero() {
		end = t.closed
	}
	if d := end.Sub(t.firstSeen); d > 0 {
		return d
	}
	return 0
}

// Closed reports whether the closing tag has been observed.
func (t *Timing) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed.IsZero()
}

// =============================================================================
// REASONING BLOCK
// =============================================================================

// Labels holds the user-visible strings of the reasoning section.
type Labels struct {
	Thinking string
	Thought  string
}

// DefaultLabels are the English labels.
var DefaultLabels = Labels{
	Thinking: "Thinking…",
	Thought:  "Thought",
}

// Reasoning is a leading <think> block.
type Reasoning struct {
	Body    string
	Open    bool
	Elapsed time.Duration
}

func (Reasoning) isBlock() {}

// Seconds returns the elapsed time rounded to whole seconds.
func (r Reasoning) Seconds() int {
	return int(math.Round(r.Elapsed.Seconds()))
}

// Quoted returns the body with every line block-quoted.
func (r Reasoning) Quoted() string {
	lines := strings.Split(r.Body, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + line
		}
	}
	return strings.Join(lines, "\n")
}

// Summary returns the collapsible section's label.
func (r Reasoning) Summary(l Labels) string {
	if r.Open {
		return l.Thinking
	}
	return fmt.Sprintf("%s (%d s)", l.Thought, r.Seconds())
}

// Markdown renders the block as a collapsible HTML section with quoted body.
func (r Reasoning) Markdown(l Labels) string {
	summary := r.Summary(l)
	if r.Open {
		summary += ` <span class="thinking-loader"></span>`
	}
	return "<details open>\n<summary>" + summary + "</summary>\n\n" + r.Quoted() + "\n\n</details>"
}

// splitReasoning separates a leading <think> block from the remaining text.
func splitReasoning(text string) (*Reasoning, string) {
	if !strings.HasPrefix(text, thinkOpen) {
		return nil, text
	}
	rest := text[len(thinkOpen):]
	i := strings.Index(rest, thinkClose)
	if i < 0 {
		return &Reasoning{Body: rest, Open: true}, ""
	}
	return &Reasoning{Body: rest[:i]}, rest[i+len(thinkClose):]
}
