// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"regexp"
	"strings"
)

const fence = "```"

var (
	doctypePattern = regexp.MustCompile("([`]*?)(\\w*?)([\\n\\r]*?)((?i:<!DOCTYPE html>))")
	closingPattern = regexp.MustCompile("(</body>)([\\r\\n\\s]*?)(</html>)([\\n\\r]*)([`]*)([\\n\\r]*?)")
	htmlOpenTag    = regexp.MustCompile(`(?i)<html[\s>]`)
)

// FenceHTML wraps a bare HTML document in ```html fences. Text that already
// contains a fence is returned unchanged. The synthesized fences always come
// in pairs, so a document still streaming in is fenced to the end of text.
func FenceHTML(text string) string {
	if strings.Contains(text, fence) {
		return text
	}

	out := text
	opened, closed := false, false

	if m := doctypePattern.FindStringSubmatchIndex(out); m != nil {
		quote, word, newline := out[m[2]:m[3]], out[m[4]:m[5]], out[m[6]:m[7]]
		if quote != "" {
			// Inline-code mention of a doctype, not a document.
			return text
		}
		prefix := word + newline
		if strings.EqualFold(word, "html") {
			prefix = ""
		}
		out = out[:m[0]] + prefix + "\n" + fence + "html\n" + out[m[8]:]
		opened = true
	}

	if m := closingPattern.FindStringSubmatchIndex(out); m != nil && m[10] == m[11] {
		out = out[:m[0]] + out[m[2]:m[7]] + "\n" + fence + "\n" + out[m[1]:]
		closed = true
	}

	switch {
	case opened && !closed:
		out += "\n" + fence + "\n"
	case closed && !opened:
		at := 0
		if loc := htmlOpenTag.FindStringIndex(out); loc != nil {
			at = loc[0]
		}
		out = out[:at] + "\n" + fence + "html\n" + out[at:]
	}
	return out
}
