// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsare/next-chat/internal/pipeline"
)

func htmlOf(t *testing.T, blocks ...pipeline.Block) string {
	t.Helper()
	out, err := NewHTML().Render(pipeline.Output{Blocks: blocks})
	require.NoError(t, err)
	return out
}

// =============================================================================
// HTML
// =============================================================================

func TestHTML_Text(t *testing.T) {
	got := htmlOf(t, pipeline.Text{Markdown: "hello **world**"})
	assert.Contains(t, got, `<p dir="auto">hello <strong>world</strong></p>`)
}

func TestHTML_Links(t *testing.T) {
	tests := []struct {
		name    string
		md      string
		want    []string
		exclude []string
	}{
		{
			name:    "script link blocked",
			md:      "[click](javascript:alert(1))",
			want:    []string{`class="blocked-link"`, `title="` + BlockedLinkTitle + `"`, ">click</a>"},
			exclude: []string{"javascript:", "alert"},
		},
		{
			name:    "mixed case scheme blocked",
			md:      "[x](JavaScript:void(0))",
			want:    []string{`class="blocked-link"`},
			exclude: []string{"JavaScript:"},
		},
		{
			name: "external link opens new tab",
			md:   "[site](https://example.com)",
			want: []string{`href="https://example.com"`, `target="_blank"`, `rel="noopener noreferrer"`},
		},
		{
			name:    "internal link stays",
			md:      "[home](/#/chat)",
			want:    []string{`target="_self"`},
			exclude: []string{"noopener"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := htmlOf(t, pipeline.Text{Markdown: tc.md})
			for _, w := range tc.want {
				assert.Contains(t, got, w)
			}
			for _, x := range tc.exclude {
				assert.NotContains(t, got, x)
			}
		})
	}
}

func TestHTML_RawHTMLDropped(t *testing.T) {
	got := htmlOf(t, pipeline.Text{Markdown: "before\n\n<script>alert(1)</script>\n\nafter"})
	assert.NotContains(t, got, "<script>")
	assert.Contains(t, got, "after")
}

func TestHTML_Code(t *testing.T) {
	got := htmlOf(t, pipeline.Code{Lang: "go", Source: "func main() {}"})
	assert.True(t, strings.HasPrefix(got, `<div class="code-block" data-lang="go">`), got)
	assert.Contains(t, got, "<pre")
	assert.Contains(t, got, "main")
	assert.NotContains(t, got, "data-streaming")

	open := htmlOf(t, pipeline.Code{Lang: "python", Source: "x = 1", Open: true})
	assert.Contains(t, open, `data-streaming="true"`)
}

func TestHTML_Diagrams(t *testing.T) {
	mermaid := htmlOf(t, pipeline.Diagram{Syntax: "mermaid", Source: "graph TD; A-->B"})
	assert.Equal(t, `<pre class="mermaid">graph TD; A--&gt;B</pre>`, mermaid)

	doc := "<!DOCTYPE html><html><body><script>go()</script></body></html>"
	artifact := htmlOf(t, pipeline.Diagram{Syntax: "html", Source: doc})
	assert.Contains(t, artifact, `<div class="code-block" data-lang="html">`)
	assert.Contains(t, artifact, `<iframe class="artifact-preview" sandbox="allow-scripts" srcdoc="&lt;!DOCTYPE html&gt;`)
	assert.NotContains(t, artifact, "<script>")
}

func TestHTML_AttachmentAndMath(t *testing.T) {
	got := htmlOf(t,
		pipeline.Attachment{Name: `a"b.txt`, Type: "text/plain", Size: 2048},
		pipeline.Math{Source: "a < b"},
	)
	assert.Contains(t, got, `data-name="a&#34;b.txt"`)
	assert.Contains(t, got, `data-size="2048"`)
	assert.Contains(t, got, "text/plain · 2.0 KB")
	assert.Contains(t, got, `<div class="math math-display">a &lt; b</div>`)
}

func TestHTML_Reasoning(t *testing.T) {
	open := htmlOf(t, pipeline.Reasoning{Body: "thinking", Open: true})
	assert.Contains(t, open, `<details open class="reasoning"><summary>Thinking…`)
	assert.Contains(t, open, `class="thinking-loader"`)

	closed := htmlOf(t, pipeline.Reasoning{Body: "done", Elapsed: 2 * time.Second})
	assert.Contains(t, closed, "<summary>Thought (2 s)</summary>")
	assert.Contains(t, closed, "<blockquote><p dir=\"auto\">done</p>\n</blockquote>")
}

func TestHTML_PipelineOutput(t *testing.T) {
	p := pipeline.New()
	out := p.Process("<think>hmm</think>Here:\n\n```go\nx := 1\n```", nil)
	got, err := NewHTML().Render(out)
	require.NoError(t, err)
	assert.Less(t, strings.Index(got, "<details"), strings.Index(got, "code-block"))
}

func TestIsScriptURL(t *testing.T) {
	assert.True(t, IsScriptURL(" javascript:x"))
	assert.True(t, IsScriptURL("VBScript:x"))
	assert.False(t, IsScriptURL("https://javascript.info"))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2.0 MB", FormatSize(2*1024*1024))
}

// =============================================================================
// TERMINAL
// =============================================================================

func TestTerminal_Blocks(t *testing.T) {
	term, err := NewTerminal("notty", 60)
	require.NoError(t, err)
	assert.Equal(t, 60, term.Width())

	got := term.Render(pipeline.Output{Blocks: []pipeline.Block{
		pipeline.Reasoning{Body: "considering", Elapsed: 3 * time.Second},
		pipeline.Text{Markdown: "The answer"},
		pipeline.Code{Lang: "go", Source: "fmt.Println(42)", Open: true},
		pipeline.Attachment{Name: "notes.md", Type: "text/markdown", Size: 100},
		pipeline.Diagram{Syntax: "mermaid", Source: "graph TD"},
	}})

	assert.Contains(t, got, "Thought (3 s)")
	assert.Contains(t, got, "considering")
	assert.Contains(t, got, "The answer")
	assert.Contains(t, got, "fmt.Println(42)")
	assert.Contains(t, got, "…")
	assert.Contains(t, got, "📄 notes.md")
	assert.Contains(t, got, "mermaid diagram")
}

func TestResolveStyle(t *testing.T) {
	assert.Equal(t, "notty", ResolveStyle("notty"))
	assert.Equal(t, "dracula", ResolveStyle("dracula"))
	assert.Contains(t, []string{"dark", "light"}, ResolveStyle("auto"))
}

func TestFence_LongerThanContent(t *testing.T) {
	assert.Equal(t, "````md\na ``` b\n````", fence("md", "a ``` b"))
}
