// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/vsare/next-chat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports sessions to Markdown. Message text is written as
// stored, so attachments and reasoning blocks keep their source form.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a session to Markdown format.
func (e *MarkdownExporter) Export(sess *model.Session) ([]byte, error) {
	if err := validate(sess); err != nil {
		return nil, err
	}

	var sb strings.Builder

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(sess.Topic))
		fmt.Fprintf(&sb, "id: %s\n", sess.ID)
		if sess.Model != "" {
			fmt.Fprintf(&sb, "model: %s\n", escapeYAML(sess.Model))
		}
		fmt.Fprintf(&sb, "date: %s\n", sess.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(sess.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", e.options.now().Format(time.RFC3339))
		sb.WriteString("generator: nextchat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(sess.Topic))

	section := ""
	entries(sess, func(msg *model.Message, pinned, cutBefore bool) {
		want := "## Conversation"
		if pinned {
			want = "## Pinned Context"
		}
		if want != section {
			section = want
			sb.WriteString(section + "\n\n")
		}
		if cutBefore {
			sb.WriteString("---\n\n*Context cleared*\n\n---\n\n")
		}
		e.writeMessage(&sb, msg)
	})

	return []byte(strings.TrimRight(sb.String(), "\n") + "\n"), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

func (e *MarkdownExporter) writeMessage(sb *strings.Builder, msg *model.Message) {
	label := roleLabel(msg)
	if e.options.IncludeTimestamps && !msg.Date.IsZero() {
		fmt.Fprintf(sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.Date))
	} else {
		fmt.Fprintf(sb, "### %s\n\n", label)
	}

	if msg.IsError {
		sb.WriteString("> **Error**\n\n")
	}
	text := strings.TrimSpace(msg.Text())
	if text == "" {
		text = "*(empty)*"
	}
	sb.WriteString(text)
	sb.WriteString("\n\n")

	if e.options.IncludeMetadata {
		if label, ok := e.options.metric(msg); ok {
			fmt.Fprintf(sb, "*%s*\n\n", label)
		}
	}
}

// escapeYAML quotes a scalar when it holds characters YAML would interpret.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#'\"{}[]|>&*!%@`\n") || strings.TrimSpace(s) != s {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s) + `"`
	}
	return s
}

// escapeMarkdown escapes characters that would change the meaning of a
// heading.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "#", `\#`, "[", `\[`, "]", `\]`).Replace(s)
}
