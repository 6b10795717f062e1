// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "testing"

func TestGetLayoutMode(t *testing.T) {
	tests := []struct {
		width int
		want  LayoutMode
	}{
		{40, LayoutNarrow},
		{59, LayoutNarrow},
		{60, LayoutMedium},
		{99, LayoutMedium},
		{100, LayoutWide},
	}
	theme := NewTheme()
	for _, tc := range tests {
		theme.SetSize(tc.width, 30)
		if got := theme.GetLayoutMode(); got != tc.want {
			t.Errorf("width %d: got %v, want %v", tc.width, got, tc.want)
		}
	}
}

func TestContentWidth(t *testing.T) {
	theme := NewTheme()
	theme.SetSize(100, 30)
	if got := theme.ContentWidth(); got != 92 {
		t.Errorf("ContentWidth() = %d, want 92", got)
	}
	theme.SetSize(10, 30)
	if got := theme.ContentWidth(); got != 20 {
		t.Errorf("narrow ContentWidth() = %d, want 20", got)
	}
}

func TestBubbleStyle(t *testing.T) {
	theme := NewTheme()
	if theme.BubbleStyle(BubbleUser).GetMarginLeft() != 4 {
		t.Error("user bubbles are indented from the left")
	}
	if theme.BubbleStyle(BubbleAssistant).GetMarginRight() != 4 {
		t.Error("assistant bubbles are indented from the right")
	}
	if !theme.BubbleStyle(BubblePreview).GetItalic() {
		t.Error("previews are italic")
	}
	if theme.BubbleStyle(Bubble(99)).GetMarginRight() != 4 {
		t.Error("unknown bubbles fall back to the assistant style")
	}
}
