// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// PART TYPE
// =============================================================================

// PartType identifies the kind of a multimodal content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
)

// Part is one element of a multimodal message body.
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// =============================================================================
// CONTENT TYPE
// =============================================================================

// Content is either plain text or an ordered sequence of parts.
// A nil Parts slice means plain text.
type Content struct {
	Text  string
	Parts []Part
}

// Text returns plain text content.
func Text(s string) Content {
	return Content{Text: s}
}

// Multimodal builds content from text followed by image references.
// Without images it degrades to plain text.
func Multimodal(text string, images ...string) Content {
	if len(images) == 0 {
		return Text(text)
	}
	parts := make([]Part, 0, len(images)+1)
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for _, img := range images {
		parts = append(parts, Part{Type: PartImage, ImageURL: img})
	}
	return Content{Parts: parts}
}

// IsMultimodal reports whether the content is a parts list.
func (c Content) IsMultimodal() bool {
	return c.Parts != nil
}

// String returns the textual portion of the content.
func (c Content) String() string {
	if c.Parts == nil {
		return c.Text
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Images returns the image references in order.
func (c Content) Images() []string {
	var out []string
	for _, p := range c.Parts {
		if p.Type == PartImage && p.ImageURL != "" {
			out = append(out, p.ImageURL)
		}
	}
	return out
}

// IsEmpty reports whether the content carries neither text nor images.
func (c Content) IsEmpty() bool {
	return c.String() == "" && len(c.Images()) == 0
}

// Append returns the content with s appended to its text.
// For parts the last text part grows, or a new one is added.
func (c Content) Append(s string) Content {
	if c.Parts == nil {
		c.Text += s
		return c
	}
	parts := append([]Part(nil), c.Parts...)
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == PartText {
			parts[i].Text += s
			c.Parts = parts
			return c
		}
	}
	c.Parts = append(parts, Part{Type: PartText, Text: s})
	return c
}

// WithText returns the content with its text replaced and images kept.
func (c Content) WithText(s string) Content {
	if c.Parts == nil {
		return Text(s)
	}
	return Multimodal(s, c.Images()...)
}

// Clone returns a copy that shares no backing array with c.
func (c Content) Clone() Content {
	if c.Parts != nil {
		c.Parts = append([]Part{}, c.Parts...)
	}
	return c
}

// MarshalJSON encodes plain text as a JSON string and parts as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// UnmarshalJSON accepts either a JSON string or an array of parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Text(s)
		return nil
	case '[':
		var parts []Part
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		if parts == nil {
			parts = []Part{}
		}
		*c = Content{Parts: parts}
		return nil
	default:
		return fmt.Errorf("content: unexpected JSON token %q", data[0])
	}
}
