// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"regexp"
	"strings"
)

// bracketPattern matches code first so fenced and inline code pass through,
// then \[...\] display math and \(...\) inline math.
var bracketPattern = regexp.MustCompile("(```[\\s\\S]*?```|`.*?`)" +
	`|\\\[([\s\S]*?[^\\])\\\]|\\\((.*?)\\\)`)

// EscapeBrackets rewrites LaTeX bracket delimiters to dollar delimiters.
func EscapeBrackets(text string) string {
	matches := bracketPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text) + 4*len(matches))
	last := 0
	for _, m := range matches {
		sb.WriteString(text[last:m[0]])
		switch {
		case m[2] >= 0:
			sb.WriteString(text[m[2]:m[3]])
		case m[4] >= 0 && m[5] > m[4]:
			sb.WriteString("$$")
			sb.WriteString(text[m[4]:m[5]])
			sb.WriteString("$$")
		case m[6] >= 0 && m[7] > m[6]:
			sb.WriteString("$")
			sb.WriteString(text[m[6]:m[7]])
			sb.WriteString("$")
		default:
			sb.WriteString(text[m[0]:m[1]])
		}
		last = m[1]
	}
	sb.WriteString(text[last:])
	return sb.String()
}
