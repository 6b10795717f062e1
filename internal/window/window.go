// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package window maintains the bounded visible slice of a transcript.
//
// Only a window of at most three pages of messages is materialized. Scroll
// samples taken by whatever event loop owns the scroll container are fed to
// Config.Evaluate, a pure function that pages the window backward when the
// viewport nears the top and forward when it nears the bottom, and decides
// whether new content should keep the view pinned to the bottom.
//
// A nil sample means the scroll container is not mounted yet. Every operation
// is then a no-op.
package window

// =============================================================================
// CONFIGURATION
// =============================================================================

// DefaultPageSize is the paging unit P.
const DefaultPageSize = 15

// Config holds the paging parameters.
type Config struct {
	// PageSize is the paging unit P.
	PageSize int
	// BottomThreshold is the distance from the bottom that still counts as
	// hit-bottom. MobileBottomThreshold applies to touch layouts.
	BottomThreshold       float64
	MobileBottomThreshold float64
}

// DefaultConfig returns the browser defaults, in pixels.
func DefaultConfig() Config {
	return Config{
		PageSize:              DefaultPageSize,
		BottomThreshold:       10,
		MobileBottomThreshold: 4,
	}
}

func (c Config) pageSize() int {
	if c.PageSize <= 0 {
		return DefaultPageSize
	}
	return c.PageSize
}

// =============================================================================
// STATE
// =============================================================================

// Sample is one reading of the scroll container.
type Sample struct {
	// Top is the scroll offset of the viewport's top edge.
	Top float64
	// Height is the viewport height.
	Height float64
	// Content is the total scrollable height.
	Content float64
	// Mobile selects the touch-layout bottom threshold.
	Mobile bool
}

// Bottom returns the offset of the viewport's bottom edge.
func (s Sample) Bottom() float64 {
	return s.Top + s.Height
}

// State is the derived, non-persistent window state.
type State struct {
	RenderIndex int  `json:"renderIndex"`
	HitBottom   bool `json:"hitBottom"`
	AutoScroll  bool `json:"autoScroll"`
}

// Initial returns the state of a freshly opened transcript: scrolled to the
// bottom with auto-scroll engaged.
func (c Config) Initial(length int) State {
	return c.ScrollToBottom(State{HitBottom: true}, length)
}

// Evaluate applies one scroll sample and returns the new state.
func (c Config) Evaluate(sample *Sample, st State, length int) State {
	if sample == nil {
		return st
	}
	p := c.pageSize()

	edge := sample.Height
	touchTop := sample.Top <= edge
	touchBottomEdge := sample.Bottom() >= sample.Content-edge

	threshold := c.BottomThreshold
	if sample.Mobile {
		threshold = c.MobileBottomThreshold
	}
	hitBottom := sample.Bottom() >= sample.Content-threshold

	switch {
	case touchTop && !touchBottomEdge:
		st.RenderIndex -= p
	case touchBottomEdge:
		st.RenderIndex += p
	}
	st.HitBottom = hitBottom
	st.AutoScroll = hitBottom
	return c.Clamp(st, length)
}

// Clamp keeps RenderIndex within [0, max(0, length-P)].
func (c Config) Clamp(st State, length int) State {
	if limit := length - c.pageSize(); st.RenderIndex > limit {
		st.RenderIndex = limit
	}
	if st.RenderIndex < 0 {
		st.RenderIndex = 0
	}
	return st
}

// Slice returns the materialized range [start, end), at most 3P entries.
func (c Config) Slice(st State, length int) (start, end int) {
	st = c.Clamp(st, length)
	start = st.RenderIndex
	end = start + 3*c.pageSize()
	if end > length {
		end = length
	}
	return start, end
}

// ScrollToBottom moves the window to the last page and engages auto-scroll.
func (c Config) ScrollToBottom(st State, length int) State {
	st.RenderIndex = length - c.pageSize()
	st.AutoScroll = true
	return c.Clamp(st, length)
}

// Detach disengages auto-scroll, e.g. when the user grabs the scroll area.
func (st State) Detach() State {
	st.AutoScroll = false
	return st
}

// =============================================================================
// AUTO-SCROLL
// =============================================================================

// Cause says why transcript content changed.
type Cause int

const (
	// CauseNone means nothing visible changed.
	CauseNone Cause = iota
	// CauseStream is a reply receiving chunks.
	CauseStream
	// CauseAppend is a new durable message.
	CauseAppend
	// CauseDraft is the user's typing echoed in a preview bubble.
	CauseDraft
)

var causeNames = [...]string{"none", "stream", "append", "draft"}

func (c Cause) String() string {
	if c < 0 || int(c) >= len(causeNames) {
		return "unknown"
	}
	return causeNames[c]
}

// MarshalText encodes the cause by name.
func (c Cause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Change describes one content change.
type Change struct {
	Cause Cause
	// Composing is true while the user is actively typing.
	Composing bool
}

// ShouldAutoScroll reports whether a change should pin the view to the bottom.
// Streamed and appended content follows while auto-scroll is engaged or the
// user is composing. Draft echoes follow only while composing.
func (st State) ShouldAutoScroll(c Change) bool {
	switch c.Cause {
	case CauseNone:
		return false
	case CauseDraft:
		return c.Composing
	default:
		return st.AutoScroll || c.Composing
	}
}
