// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPipeline(c *fakeClock) *Pipeline {
	return New(
		WithClock(c.now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// =============================================================================
// BRACKET ESCAPING
// =============================================================================

func TestEscapeBrackets(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"display math", `see \[x^2\] here`, "see $$x^2$$ here"},
		{"inline math", `a \(b\) c`, "a $b$ c"},
		{"multiline display", "\\[\na\n\\]", "$$\na\n$$"},
		{"inline code untouched", "`\\(x\\)`", "`\\(x\\)`"},
		{"fenced code untouched", "```\n\\[x\\]\n```", "```\n\\[x\\]\n```"},
		{"empty inline kept", `\(\)`, `\(\)`},
		{"plain text", "nothing here", "nothing here"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EscapeBrackets(tc.in))
		})
	}
}

func TestEscapeBrackets_Idempotent(t *testing.T) {
	in := "a \\[x\\] and `\\(y\\)` and \\(z\\)"
	once := EscapeBrackets(in)
	assert.Equal(t, once, EscapeBrackets(once))
}

// =============================================================================
// REASONING
// =============================================================================

func TestProcess_ClosedReasoningInOneChunk(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := newTestPipeline(clock)

	out := p.Process("<think>step one</think>", &Timing{})

	require.NotEmpty(t, out.Blocks)
	r, ok := out.Blocks[0].(Reasoning)
	require.True(t, ok, "first block should be reasoning, got %T", out.Blocks[0])
	assert.False(t, r.Open)
	assert.Equal(t, 0, r.Seconds())
	assert.Contains(t, out.Text, "<summary>Thought (0 s)</summary>")
	assert.Contains(t, out.Text, "> step one")
}

func TestProcess_ReasoningElapsedStableAcrossRenders(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := newTestPipeline(clock)
	timing := &Timing{}

	open := p.Process("<think>step", timing)
	assert.Contains(t, open.Text, "Thinking…")
	assert.Contains(t, open.Text, `class="thinking-loader"`)

	clock.advance(3 * time.Second)
	closed := p.Process("<think>step one</think>answer", timing)
	assert.Contains(t, closed.Text, "Thought (3 s)")
	assert.True(t, strings.HasSuffix(closed.Text, "</details>answer"))

	clock.advance(10 * time.Second)
	again := p.Process("<think>step one</think>answer", timing)
	assert.Equal(t, closed.Text, again.Text)
}

func TestProcess_ReasoningQuotesBlankLines(t *testing.T) {
	p := newTestPipeline(&fakeClock{t: time.Unix(0, 0)})
	out := p.Process("<think>a\n\nb", nil)
	assert.Contains(t, out.Text, "> a\n>\n> b")
}

func TestProcess_EscapeBeforeQuote(t *testing.T) {
	p := newTestPipeline(&fakeClock{t: time.Unix(0, 0)})
	out := p.Process("<think>\\[\nx\n\\]</think>", nil)
	assert.Contains(t, out.Text, "> $$\n> x\n> $$")
}

// =============================================================================
// HTML FENCING
// =============================================================================

func TestFenceHTML(t *testing.T) {
	doc := "<!DOCTYPE html>\n<html><body>hi</body></html>"

	t.Run("full document", func(t *testing.T) {
		got := FenceHTML("Here:\n" + doc)
		assert.Equal(t, "Here:\n\n```html\n<!DOCTYPE html>\n<html><body>hi</body></html>\n```\n", got)
	})

	t.Run("already fenced", func(t *testing.T) {
		in := "```html\n" + doc + "\n```"
		assert.Equal(t, in, FenceHTML(in))
	})

	t.Run("stray language word dropped", func(t *testing.T) {
		got := FenceHTML("html\n" + doc)
		assert.True(t, strings.HasPrefix(got, "\n```html\n<!DOCTYPE html>"), got)
	})

	t.Run("streaming document fenced to end", func(t *testing.T) {
		got := FenceHTML("<!DOCTYPE html>\n<html><body>partial")
		assert.Equal(t, 2, strings.Count(got, "```"))
		assert.True(t, strings.HasSuffix(got, "\n```\n"))
	})

	t.Run("closing pair only", func(t *testing.T) {
		got := FenceHTML("x\n<html><body>y</body></html>")
		assert.Equal(t, 2, strings.Count(got, "```"))
		assert.Contains(t, got, "```html\n<html>")
	})

	t.Run("inline doctype mention", func(t *testing.T) {
		in := "use `<!DOCTYPE html>` first"
		assert.Equal(t, in, FenceHTML(in))
	})

	t.Run("idempotent", func(t *testing.T) {
		once := FenceHTML(doc)
		assert.Equal(t, once, FenceHTML(once))
	})
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func TestProcess_AttachmentRecord(t *testing.T) {
	p := newTestPipeline(&fakeClock{t: time.Unix(0, 0)})
	raw := "文件名: a.txt\n类型: text/plain\n大小: 0.01 KB\n\ncontent"

	out := p.Process(raw, nil)

	assert.Equal(t, "[📄 a.txt](file://a.txt?type=text%2Fplain&size=10.24)", out.Text)
	assert.NotContains(t, out.Text, "文件名")
	var found []Attachment
	for _, b := range out.Blocks {
		if a, ok := b.(Attachment); ok {
			found = append(found, a)
		}
	}
	require.Len(t, found, 1)
	assert.Equal(t, "a.txt", found[0].Name)
	assert.Equal(t, "text/plain", found[0].Type)

	content, ok := OriginalContent(raw, found[0])
	require.True(t, ok)
	assert.Equal(t, "content", content)
}

func TestProcess_AttachmentNameWithBrackets(t *testing.T) {
	p := newTestPipeline(&fakeClock{t: time.Unix(0, 0)})
	for _, name := range []string{"notes [v2].txt", `a\b].md`, "[draft]"} {
		raw := "文件名: " + name + "\n类型: text/plain\n大小: 0.01 KB\n\nx"

		out := p.Process(raw, nil)

		require.Len(t, out.Blocks, 1, name)
		a, ok := out.Blocks[0].(Attachment)
		require.True(t, ok, "%s: got %T", name, out.Blocks[0])
		assert.Equal(t, name, a.Name)
		assert.Equal(t, "text/plain", a.Type)
	}
}

func TestReplaceAttachments_MultipleRecords(t *testing.T) {
	raw := "question\n\n" + JoinRecords([]string{
		FormatRecord("a b.md", "text/markdown", 2048, "# A"),
		FormatRecord("c.go", "text/x-go", 512, "package c"),
	})
	got, err := ReplaceAttachments(raw)
	require.NoError(t, err)
	assert.Equal(t, "question\n\n[📄 a b.md](file://a%20b.md?type=text%2Fmarkdown&size=2048)"+
		"\n\n---\n\n[📄 c.go](file://c.go?type=text%2Fx-go&size=512)", got)

	b, ok := OriginalContent(raw, Attachment{Name: "c.go", Type: "text/x-go", Size: 512})
	require.True(t, ok)
	assert.Equal(t, "package c", b)
	a, ok := OriginalContent(raw, Attachment{Name: "a b.md", Type: "text/markdown", Size: 2048})
	require.True(t, ok)
	assert.Equal(t, "# A", a)
}

func TestParseHref(t *testing.T) {
	a := Attachment{Name: "报告 v1?.txt", Type: "text/plain", Size: 1536}
	got, err := ParseHref(a.Href())
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = ParseHref("https://example.com")
	assert.ErrorIs(t, err, ErrMalformedMarker)
	_, err = ParseHref("file://x?size=big")
	assert.ErrorIs(t, err, ErrMalformedMarker)
}

func TestProcess_MalformedRecordSkipsTransformOnly(t *testing.T) {
	p := newTestPipeline(&fakeClock{t: time.Unix(0, 0)})
	raw := `\(x\)` + "\n文件名: a.txt\n类型: text/plain\n大小: lots KB\n\ncontent"

	out := p.Process(raw, nil)

	assert.Equal(t, []string{"attachments"}, out.Skipped)
	assert.True(t, strings.HasPrefix(out.Text, "$x$\n"), "earlier transforms still apply")
	assert.Contains(t, out.Text, "文件名: a.txt")
}

// =============================================================================
// IDEMPOTENCE AND SEGMENTATION
// =============================================================================

func TestProcess_Idempotent(t *testing.T) {
	inputs := []string{
		"plain **markdown**",
		`math \[x\] and \(y\)`,
		"<think>why\n\nbecause</think>\n\nanswer",
		"<think>still going",
		"<!DOCTYPE html><html><body></body></html>",
		"文件名: a.txt\n类型: text/plain\n大小: 1.00 KB\n\nbody",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			p := newTestPipeline(&fakeClock{t: time.Unix(50, 0)})
			timing := &Timing{}
			first := p.Process(in, timing)
			assert.Equal(t, first.Text, p.Process(in, timing).Text, "same input, same output")
			assert.Equal(t, first.Text, p.Process(first.Text, &Timing{}).Text, "output is a fixed point")
		})
	}
}

func TestSegment(t *testing.T) {
	body := strings.Join([]string{
		"intro",
		"```go",
		"fmt.Println(1)",
		"```",
		"$$",
		"e = mc^2",
		"$$",
		"```mermaid",
		"graph TD; A-->B",
		"```",
		"```",
		"<svg></svg>",
		"```",
		"see [📄 a.txt](file://a.txt?type=text%2Fplain&size=10) now",
		"````python",
		"open",
	}, "\n")

	blocks := Segment(body)

	require.Len(t, blocks, 9)
	assert.Equal(t, Text{Markdown: "intro"}, blocks[0])
	assert.Equal(t, Code{Lang: "go", Source: "fmt.Println(1)"}, blocks[1])
	assert.Equal(t, Math{Source: "e = mc^2"}, blocks[2])
	assert.Equal(t, Diagram{Syntax: "mermaid", Source: "graph TD; A-->B"}, blocks[3])
	assert.Equal(t, Diagram{Syntax: "svg", Source: "<svg></svg>"}, blocks[4])
	assert.Equal(t, Text{Markdown: "see "}, blocks[5])
	assert.Equal(t, Attachment{Name: "a.txt", Type: "text/plain", Size: 10}, blocks[6])
	assert.Equal(t, Text{Markdown: " now"}, blocks[7])
	assert.Equal(t, Code{Lang: "python", Source: "open", Open: true}, blocks[8])
}

func TestSegment_InlineDisplayMathStaysText(t *testing.T) {
	blocks := Segment("$$a$$ is inline here")
	require.Len(t, blocks, 1)
	assert.IsType(t, Text{}, blocks[0])

	blocks = Segment("$$a + b$$")
	require.Len(t, blocks, 1)
	assert.Equal(t, Math{Source: "a + b"}, blocks[0])
}
