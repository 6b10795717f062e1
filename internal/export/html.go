// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/pipeline"
	"github.com/vsare/next-chat/internal/render"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

//go:embed templates
var templateFS embed.FS

var (
	pageTemplate = template.Must(template.ParseFS(templateFS, "templates/session.html.tmpl"))
	pageCSS      = mustRead("templates/session.css")
)

func mustRead(name string) template.CSS {
	data, err := templateFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return template.CSS(data)
}

// HTMLExporter exports sessions to a standalone HTML page. Message bodies go
// through the content pipeline and the HTML renderer used by the server.
type HTMLExporter struct {
	options  *Options
	renderer *render.HTML
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts, renderer: render.NewHTML()}
}

type htmlPage struct {
	Topic        string
	Model        string
	Created      string
	CreatedLabel string
	Count        int
	Theme        string
	Metadata     bool
	CSS          template.CSS
	Messages     []htmlMessage
	Exported     string
}

type htmlMessage struct {
	ID        string
	Section   string
	CutBefore bool
	Class     string
	Label     string
	Time      string
	Pinned    bool
	Error     bool
	Body      template.HTML
	Metric    string
}

// Export converts a session to HTML format.
func (e *HTMLExporter) Export(sess *model.Session) ([]byte, error) {
	if err := validate(sess); err != nil {
		return nil, err
	}

	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}
	page := htmlPage{
		Topic:        sess.Topic,
		Model:        sess.Model,
		Created:      sess.CreatedAt.Format(time.RFC3339),
		CreatedLabel: formatTimestamp(sess.CreatedAt),
		Count:        len(sess.Messages),
		Theme:        theme,
		Metadata:     e.options.IncludeMetadata,
		CSS:          pageCSS,
		Exported:     e.options.now().Format("January 2, 2006 at 3:04 PM"),
	}

	var (
		section string
		err     error
	)
	entries(sess, func(msg *model.Message, pinned, cutBefore bool) {
		if err != nil {
			return
		}
		m := htmlMessage{
			ID:        msg.ID,
			CutBefore: cutBefore,
			Class:     strings.ToLower(string(msg.Role)),
			Label:     roleLabel(msg),
			Pinned:    pinned,
			Error:     msg.IsError,
		}
		want := "Conversation"
		if pinned {
			want = "Pinned Context"
		}
		if want != section {
			section = want
			m.Section = section
		}
		if e.options.IncludeTimestamps && !msg.Date.IsZero() {
			m.Time = formatShortTimestamp(msg.Date)
		}
		if e.options.IncludeMetadata {
			m.Metric, _ = e.options.metric(msg)
		}
		var body string
		body, err = e.renderer.Render(e.process(msg.Text()))
		if err != nil {
			err = fmt.Errorf("render message %s: %w", msg.ID, err)
			return
		}
		m.Body = template.HTML(body)
		page.Messages = append(page.Messages, m)
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pageTemplate.ExecuteTemplate(&buf, "session.html.tmpl", page); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

func (e *HTMLExporter) process(text string) pipeline.Output {
	if e.options.Process != nil {
		return e.options.Process(text)
	}
	return pipeline.Output{Text: text, Blocks: pipeline.Segment(text)}
}
