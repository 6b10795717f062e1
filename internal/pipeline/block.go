// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"strings"
)

// =============================================================================
// BLOCK VARIANT
// =============================================================================

// Block is one renderable unit of a processed message. The set of block types
// is closed: Text, Code, Math, Reasoning, Attachment and Diagram. Renderers
// consume blocks with a type switch.
type Block interface {
	isBlock()
}

// Text is plain markdown.
type Text struct {
	Markdown string
}

// Code is a fenced code block. Open is true while the closing fence has not
// arrived yet.
type Code struct {
	Lang   string
	Source string
	Open   bool
}

// Math is display math.
type Math struct {
	Source string
}

// Diagram is source meant to be previewed rather than only shown: mermaid
// diagrams and HTML/SVG/XML artifacts.
type Diagram struct {
	Syntax string
	Source string
}

func (Text) isBlock()    {}
func (Code) isBlock()    {}
func (Math) isBlock()    {}
func (Diagram) isBlock() {}

// =============================================================================
// SEGMENTATION
// =============================================================================

// Segment splits markdown into blocks. Fenced code and $$ display math are
// lifted out, attachment markers become Attachment blocks, everything else is
// Text.
func Segment(body string) []Block {
	var (
		blocks []Block
		text   []string
	)
	flush := func() {
		joined := strings.Join(text, "\n")
		text = text[:0]
		if strings.TrimSpace(joined) != "" {
			blocks = append(blocks, splitMarkers(joined)...)
		}
	}

	lines := strings.Split(body, "\n")
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])

		if marker, n := fenceMarker(trimmed); n > 0 {
			flush()
			lang := strings.TrimSpace(trimmed[n:])
			if f := strings.Fields(lang); len(f) > 0 {
				lang = f[0]
			}
			var src []string
			open := true
			for i++; i < len(lines); i++ {
				t := strings.TrimSpace(lines[i])
				if c, cn := fenceMarker(t); c == marker && cn >= n && len(t) == cn {
					open = false
					break
				}
				src = append(src, lines[i])
			}
			blocks = append(blocks, codeBlock(lang, strings.Join(src, "\n"), open))
			continue
		}

		if strings.HasPrefix(trimmed, "$$") {
			if src, next, ok := displayMath(lines, i); ok {
				flush()
				blocks = append(blocks, Math{Source: src})
				i = next
				continue
			}
		}

		text = append(text, lines[i])
	}
	flush()
	return blocks
}

// fenceMarker returns the fence character and run length if s opens a fence.
func fenceMarker(s string) (byte, int) {
	if len(s) < 3 || (s[0] != '`' && s[0] != '~') {
		return 0, 0
	}
	c := s[0]
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	if n < 3 {
		return 0, 0
	}
	return c, n
}

// displayMath reads a $$ block starting at line i and returns its source and
// the index of its last line.
func displayMath(lines []string, i int) (string, int, bool) {
	first := strings.TrimSpace(lines[i])[2:]
	if j := strings.Index(first, "$$"); j >= 0 {
		if strings.TrimSpace(first[j+2:]) != "" {
			return "", i, false
		}
		return strings.TrimSpace(first[:j]), i, true
	}
	src := []string{first}
	for k := i + 1; k < len(lines); k++ {
		t := strings.TrimSpace(lines[k])
		if j := strings.Index(t, "$$"); j >= 0 {
			if strings.TrimSpace(t[j+2:]) != "" {
				return "", i, false
			}
			src = append(src, t[:j])
			return strings.TrimSpace(strings.Join(src, "\n")), k, true
		}
		src = append(src, lines[k])
	}
	return "", i, false
}

func codeBlock(lang, src string, open bool) Block {
	switch syntax := artifactSyntax(lang, src); syntax {
	case "":
		return Code{Lang: lang, Source: src, Open: open}
	default:
		return Diagram{Syntax: syntax, Source: src}
	}
}

// artifactSyntax classifies previewable sources by fence language or leading
// markup.
func artifactSyntax(lang, src string) string {
	switch strings.ToLower(lang) {
	case "mermaid":
		return "mermaid"
	case "html", "svg", "xml":
		return strings.ToLower(lang)
	}
	if lang != "" {
		return ""
	}
	head := strings.TrimSpace(src)
	switch {
	case hasFoldPrefix(head, "<!DOCTYPE"):
		return "html"
	case hasFoldPrefix(head, "<svg"):
		return "svg"
	case hasFoldPrefix(head, "<?xml"):
		return "xml"
	}
	return ""
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// splitMarkers lifts attachment markers out of a text run.
func splitMarkers(text string) []Block {
	locs := markerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []Block{Text{Markdown: text}}
	}
	var out []Block
	last := 0
	for _, m := range locs {
		a, err := ParseHref(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		if before := text[last:m[0]]; strings.TrimSpace(before) != "" {
			out = append(out, Text{Markdown: strings.Trim(before, "\n")})
		}
		out = append(out, a)
		last = m[1]
	}
	if rest := text[last:]; strings.TrimSpace(rest) != "" {
		out = append(out, Text{Markdown: strings.Trim(rest, "\n")})
	}
	return out
}
