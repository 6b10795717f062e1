// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/vsare/next-chat/internal/pipeline"
)

// BlockedLinkTitle is the tooltip of links whose scheme can run script.
const BlockedLinkTitle = "blocked unsafe link"

// DefaultCodeStyle is the chroma style used for code blocks.
const DefaultCodeStyle = "github"

// =============================================================================
// HTML RENDERER
// =============================================================================

// HTML renders processed messages as HTML fragments. Raw HTML in message text
// is never passed through; artifacts are shown as highlighted source with a
// sandboxed preview.
type HTML struct {
	md        goldmark.Markdown
	style     *chroma.Style
	formatter *chromahtml.Formatter
	labels    pipeline.Labels
}

// HTMLOption configures an HTML renderer.
type HTMLOption func(*HTML)

// WithCodeStyle selects the chroma style by name.
func WithCodeStyle(name string) HTMLOption {
	return func(r *HTML) {
		if s := chromaStyles.Get(name); s != nil {
			r.style = s
		}
	}
}

// WithHTMLLabels sets the reasoning section labels.
func WithHTMLLabels(l pipeline.Labels) HTMLOption {
	return func(r *HTML) { r.labels = l }
}

// NewHTML creates an HTML renderer with GitHub-flavored markdown.
func NewHTML(opts ...HTMLOption) *HTML {
	r := &HTML{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(
				parser.WithASTTransformers(util.Prioritized(linkPolicy{}, 100)),
			),
		),
		style:     chromaStyles.Get(DefaultCodeStyle),
		formatter: chromahtml.New(chromahtml.WithClasses(false), chromahtml.TabWidth(4)),
		labels:    pipeline.DefaultLabels,
	}
	if r.style == nil {
		r.style = chromaStyles.Fallback
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render converts the blocks of a processed message to HTML.
func (r *HTML) Render(out pipeline.Output) (string, error) {
	var buf bytes.Buffer
	for _, b := range out.Blocks {
		if err := r.block(&buf, b); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func (r *HTML) block(buf *bytes.Buffer, b pipeline.Block) error {
	switch b := b.(type) {
	case pipeline.Text:
		return r.markdown(buf, b.Markdown)

	case pipeline.Code:
		r.code(buf, b.Lang, b.Source, b.Open)

	case pipeline.Math:
		fmt.Fprintf(buf, `<div class="math math-display">%s</div>`, html.EscapeString(b.Source))

	case pipeline.Diagram:
		if b.Syntax == "mermaid" {
			fmt.Fprintf(buf, `<pre class="mermaid">%s</pre>`, html.EscapeString(b.Source))
			return nil
		}
		r.code(buf, b.Syntax, b.Source, false)
		fmt.Fprintf(buf, `<iframe class="artifact-preview" sandbox="allow-scripts" srcdoc="%s"></iframe>`,
			html.EscapeString(b.Source))

	case pipeline.Attachment:
		fmt.Fprintf(buf,
			`<button type="button" class="file-attachment" data-name="%s" data-type="%s" data-size="%s">`+
				`<span class="file-icon">📄</span> <span class="file-name">%s</span> `+
				`<span class="file-meta">%s · %s</span></button>`,
			html.EscapeString(b.Name), html.EscapeString(b.Type), formatFloat(b.Size),
			html.EscapeString(b.Name), html.EscapeString(b.Type), FormatSize(b.Size))

	case pipeline.Reasoning:
		buf.WriteString(`<details open class="reasoning"><summary>`)
		buf.WriteString(html.EscapeString(b.Summary(r.labels)))
		if b.Open {
			buf.WriteString(` <span class="thinking-loader"></span>`)
		}
		buf.WriteString("</summary><blockquote>")
		if err := r.markdown(buf, b.Body); err != nil {
			return err
		}
		buf.WriteString("</blockquote></details>")

	default:
		return fmt.Errorf("render: unknown block %T", b)
	}
	return nil
}

func (r *HTML) markdown(buf *bytes.Buffer, src string) error {
	if err := r.md.Convert([]byte(src), buf); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	return nil
}

// code writes a highlighted block. Highlighting failures fall back to
// escaped plain text.
func (r *HTML) code(buf *bytes.Buffer, lang, src string, open bool) {
	fmt.Fprintf(buf, `<div class="code-block" data-lang="%s"`, html.EscapeString(lang))
	if open {
		buf.WriteString(` data-streaming="true"`)
	}
	buf.WriteString(">")

	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	var hl bytes.Buffer
	it, err := lexer.Tokenise(nil, src)
	if err == nil {
		err = r.formatter.Format(&hl, r.style, it)
	}
	if err != nil {
		fmt.Fprintf(buf, "<pre><code>%s</code></pre>", html.EscapeString(src))
	} else {
		buf.Write(hl.Bytes())
	}
	buf.WriteString("</div>")
}

// =============================================================================
// LINK POLICY
// =============================================================================

// linkPolicy neutralizes script links, opens external links in a new tab and
// marks paragraphs for bidirectional text.
type linkPolicy struct{}

func (linkPolicy) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Paragraph:
			n.SetAttributeString("dir", []byte("auto"))
		case *ast.Link:
			dest := strings.TrimSpace(string(n.Destination))
			switch {
			case IsScriptURL(dest):
				n.Destination = nil
				n.SetAttributeString("class", []byte("blocked-link"))
				n.SetAttributeString("title", []byte(BlockedLinkTitle))
			case strings.HasPrefix(dest, "/#"):
				n.SetAttributeString("target", []byte("_self"))
			default:
				n.SetAttributeString("target", []byte("_blank"))
				n.SetAttributeString("rel", []byte("noopener noreferrer"))
			}
		}
		return ast.WalkContinue, nil
	})
}

// IsScriptURL reports whether a link destination uses a script scheme.
func IsScriptURL(dest string) bool {
	d := strings.ToLower(strings.TrimSpace(dest))
	return strings.HasPrefix(d, "javascript:") || strings.HasPrefix(d, "vbscript:")
}
