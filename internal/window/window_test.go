// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package window

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsare/next-chat/internal/model"
)

// =============================================================================
// PAGING
// =============================================================================

func TestEvaluate_Paging(t *testing.T) {
	cfg := DefaultConfig() // P = 15
	const length = 100

	tests := []struct {
		name   string
		sample Sample
		start  int
		want   State
	}{
		{
			name:   "near top pages backward",
			sample: Sample{Top: 100, Height: 500, Content: 5000},
			start:  45,
			want:   State{RenderIndex: 30},
		},
		{
			name:   "near bottom edge pages forward",
			sample: Sample{Top: 4000, Height: 500, Content: 5000},
			start:  30,
			want:   State{RenderIndex: 45},
		},
		{
			name:   "hit bottom engages auto-scroll",
			sample: Sample{Top: 4495, Height: 500, Content: 5000},
			start:  70,
			want:   State{RenderIndex: 85, HitBottom: true, AutoScroll: true},
		},
		{
			name:   "mobile threshold is tighter",
			sample: Sample{Top: 4495, Height: 500, Content: 5000, Mobile: true},
			start:  85,
			want:   State{RenderIndex: 85},
		},
		{
			name:   "middle leaves index alone",
			sample: Sample{Top: 2000, Height: 500, Content: 5000},
			start:  30,
			want:   State{RenderIndex: 30},
		},
		{
			name:   "short content touching both edges pages forward",
			sample: Sample{Top: 0, Height: 500, Content: 600},
			start:  0,
			want:   State{RenderIndex: 15},
		},
		{
			name:   "backward clamps at zero",
			sample: Sample{Top: 0, Height: 500, Content: 5000},
			start:  5,
			want:   State{RenderIndex: 0},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := cfg.Evaluate(&tc.sample, State{RenderIndex: tc.start, AutoScroll: true}, length)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluate_NotMountedIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	st := State{RenderIndex: 7, HitBottom: true, AutoScroll: true}
	assert.Equal(t, st, cfg.Evaluate(nil, st, 100))
}

func TestEvaluate_WindowInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, p := range []int{1, 5, 15} {
		cfg := Config{PageSize: p, BottomThreshold: 10, MobileBottomThreshold: 4}
		for i := 0; i < 2000; i++ {
			length := rng.Intn(200)
			height := float64(rng.Intn(900) + 1)
			content := height + float64(rng.Intn(20000))
			s := &Sample{
				Top:     float64(rng.Intn(int(content-height) + 1)),
				Height:  height,
				Content: content,
				Mobile:  rng.Intn(2) == 0,
			}
			st := State{RenderIndex: rng.Intn(400) - 100}

			got := cfg.Evaluate(s, st, length)
			upper := length - p
			if upper < 0 {
				upper = 0
			}
			require.GreaterOrEqual(t, got.RenderIndex, 0)
			require.LessOrEqual(t, got.RenderIndex, upper)

			start, end := cfg.Slice(got, length)
			limit := 3 * p
			if length < limit {
				limit = length
			}
			require.LessOrEqual(t, end-start, limit)
			require.GreaterOrEqual(t, end-start, 0)
		}
	}
}

func TestScrollToBottomAndDetach(t *testing.T) {
	cfg := DefaultConfig()
	st := cfg.ScrollToBottom(State{}, 40)
	assert.Equal(t, 25, st.RenderIndex)
	assert.True(t, st.AutoScroll)

	start, end := cfg.Slice(st, 40)
	assert.Equal(t, 25, start)
	assert.Equal(t, 40, end)

	assert.False(t, st.Detach().AutoScroll)
	assert.Equal(t, 0, cfg.Initial(3).RenderIndex)
}

// =============================================================================
// AUTO-SCROLL
// =============================================================================

func TestShouldAutoScroll(t *testing.T) {
	attached := State{AutoScroll: true}
	reading := State{}

	tests := []struct {
		name  string
		state State
		c     Change
		want  bool
	}{
		{"stream while attached", attached, Change{Cause: CauseStream}, true},
		{"stream while reading history", reading, Change{Cause: CauseStream}, false},
		{"stream while composing", reading, Change{Cause: CauseStream, Composing: true}, true},
		{"append while attached", attached, Change{Cause: CauseAppend}, true},
		{"draft while composing", reading, Change{Cause: CauseDraft, Composing: true}, true},
		{"draft cleared", attached, Change{Cause: CauseDraft}, false},
		{"no change", attached, Change{Cause: CauseNone, Composing: true}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.state.ShouldAutoScroll(tc.c))
		})
	}
}

func TestChangeDetector(t *testing.T) {
	d := NewChangeDetector()
	assert.True(t, d.Changed("a"))
	assert.False(t, d.Changed("a"))
	assert.True(t, d.Changed("ab"))
	d.Reset()
	assert.True(t, d.Changed("ab"))

	observed, skipped := d.Stats()
	assert.Equal(t, uint64(4), observed)
	assert.Equal(t, uint64(1), skipped)
}

// =============================================================================
// COMPOSITION
// =============================================================================

func textMessages(n int) []*model.Message {
	out := make([]*model.Message, n)
	for i := range out {
		out[i] = model.NewUserMessage(model.Text("m"))
	}
	return out
}

func TestCompose_GreetingAndPreviews(t *testing.T) {
	sess := model.NewSession()
	require.NoError(t, sess.Append(textMessages(2)...))
	hello := model.NewMessage(model.RoleAssistant, model.Text("Hi!"))

	tr := Compose(sess, hello, Previews{Loading: true, Draft: "typing", ShowDraft: true})

	require.Equal(t, 5, tr.Len())
	assert.Same(t, hello, tr.Entries[0])
	assert.Equal(t, PendingPreviewID, tr.Entries[3].ID)
	assert.True(t, tr.Entries[3].Preview)
	assert.True(t, tr.Entries[3].Streaming)
	assert.Equal(t, DraftPreviewID, tr.Entries[4].ID)
	assert.Equal(t, "typing", tr.Entries[4].Text())
	assert.Equal(t, -1, tr.ClearIndex)

	// no echo when previews are off
	tr = Compose(sess, hello, Previews{Draft: "typing"})
	assert.Equal(t, 3, tr.Len())
}

func TestCompose_ContextReplacesGreeting(t *testing.T) {
	sess := model.NewSession()
	sess.Context = []*model.Message{model.NewSystemMessage("pinned")}
	require.NoError(t, sess.Append(textMessages(1)...))

	tr := Compose(sess, model.NewMessage(model.RoleAssistant, model.Text("Hi!")), Previews{})
	require.Equal(t, 2, tr.Len())
	assert.Equal(t, "pinned", tr.Entries[0].Text())
}

func TestWindow_Divider(t *testing.T) {
	cfg := Config{PageSize: 2}
	sess := model.NewSession()
	require.NoError(t, sess.Append(textMessages(3)...))
	sess.ClearContext() // cut after the 3 messages
	require.NoError(t, sess.Append(textMessages(5)...))

	tr := Compose(sess, model.NewMessage(model.RoleAssistant, model.Text("Hi!")), Previews{})
	require.Equal(t, 9, tr.Len())
	assert.Equal(t, 4, tr.ClearIndex, "greeting shifts the cut by one")

	v := cfg.Window(tr, State{RenderIndex: 2})
	assert.Equal(t, 2, v.Start)
	assert.Len(t, v.Entries, 6)
	assert.Equal(t, 1, v.DividerAfter)

	v = cfg.Window(tr, State{RenderIndex: 7})
	assert.Equal(t, -1, v.DividerAfter, "cut outside the slice")
}
