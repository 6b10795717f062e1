// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsare/next-chat/internal/model"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func testSession() *model.Session {
	sess := model.NewSession()
	sess.Topic = "Deploy notes"
	sess.Model = "llama3.2"
	sess.CreatedAt = fixedNow
	sess.UpdatedAt = fixedNow

	pinned := model.NewSystemMessage("Always answer in English.")
	pinned.Date = fixedNow
	sess.Context = []*model.Message{pinned}

	user := model.NewUserMessage(model.Text("How do I **deploy**?"))
	user.Date = fixedNow
	bot := model.NewBotMessage("llama3.2")
	bot.Streaming = false
	bot.Content = model.Text("Run `make deploy`.\n\n```sh\nmake deploy\n```")
	bot.Date = fixedNow
	failed := model.NewBotMessage("llama3.2")
	failed.Streaming = false
	failed.IsError = true
	failed.Content = model.Text(model.ErrorPayload("connection refused"))
	sess.Messages = []*model.Message{user, bot, failed}

	cut := 1
	sess.ClearContextIndex = &cut
	return sess
}

func testOptions() *Options {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return fixedNow }
	opts.Metric = func(id string) (string, bool) { return "42 tokens", true }
	return opts
}

// =============================================================================
// MARKDOWN
// =============================================================================

func TestMarkdownExporter(t *testing.T) {
	sess := testSession()
	out, err := NewMarkdownExporter(testOptions()).Export(sess)
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: Deploy notes\n"))
	assert.Contains(t, md, "# Deploy notes")
	assert.Contains(t, md, "## Pinned Context")
	assert.Contains(t, md, "## Conversation")
	assert.Contains(t, md, "How do I **deploy**?")
	assert.Contains(t, md, "### Assistant (llama3.2) <sub>09:26:53</sub>")
	assert.Contains(t, md, "> **Error**")
	assert.Contains(t, md, "*Context cleared*")
	assert.Less(t, strings.Index(md, "Always answer"), strings.Index(md, "*Context cleared*"))
	assert.Less(t, strings.Index(md, "*Context cleared*"), strings.Index(md, "How do I"))

	// Metrics only on successful replies.
	assert.Equal(t, 1, strings.Count(md, "*42 tokens*"))
}

func TestMarkdownExporter_NoMetadata(t *testing.T) {
	opts := testOptions()
	opts.IncludeMetadata = false
	opts.IncludeTimestamps = false

	out, err := NewMarkdownExporter(opts).Export(testSession())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "# Deploy notes"))
	assert.NotContains(t, md, "tokens")
	assert.NotContains(t, md, "<sub>")
}

func TestMarkdownExporter_Empty(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(model.NewSession())
	assert.ErrorIs(t, err, ErrEmptySession)
}

func TestEscapeYAML(t *testing.T) {
	assert.Equal(t, "plain", escapeYAML("plain"))
	assert.Equal(t, `"a: b"`, escapeYAML("a: b"))
	assert.Equal(t, `"say \"hi\""`, escapeYAML(`say "hi"`))
}

// =============================================================================
// JSON
// =============================================================================

func TestJSONExporter(t *testing.T) {
	sess := testSession()
	out, err := NewJSONExporter(testOptions()).Export(sess)
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, JSONVersion, doc.Version)
	assert.True(t, doc.ExportedAt.Equal(fixedNow))
	require.NotNil(t, doc.Session)
	assert.Equal(t, sess.ID, doc.Session.ID)
	assert.Len(t, doc.Session.Messages, 3)
	require.NotNil(t, doc.Session.ClearContextIndex)
	assert.Equal(t, 1, *doc.Session.ClearContextIndex)

	// One successful reply carries a metric.
	assert.Equal(t, map[string]string{sess.Messages[1].ID: "42 tokens"}, doc.Metrics)
}

// =============================================================================
// HTML
// =============================================================================

func TestHTMLExporter(t *testing.T) {
	out, err := NewHTMLExporter(testOptions()).Export(testSession())
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, "<title>Deploy notes</title>")
	assert.Contains(t, page, `class="dark-theme"`)
	assert.Contains(t, page, "<strong>deploy</strong>")
	assert.Contains(t, page, "Context cleared")
	assert.Contains(t, page, "pinned")
	assert.Contains(t, page, "error-message")
	assert.Contains(t, page, "42 tokens")
	assert.Contains(t, page, "March 14, 2025")
}

func TestHTMLExporter_EscapesTopic(t *testing.T) {
	sess := testSession()
	sess.Topic = "<script>alert(1)</script>"

	out, err := NewHTMLExporter(testOptions()).Export(sess)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<script>alert(1)</script>")
}

func TestHTMLExporter_LightTheme(t *testing.T) {
	opts := testOptions()
	opts.Theme = "light"
	out, err := NewHTMLExporter(opts).Export(testSession())
	require.NoError(t, err)
	assert.Contains(t, string(out), `class="light-theme"`)
}

// =============================================================================
// FILES
// =============================================================================

func TestNew(t *testing.T) {
	for format, ext := range map[string]string{"md": ".md", "markdown": ".md", "JSON": ".json", "html": ".html"} {
		exp, err := New(format, nil)
		require.NoError(t, err, format)
		assert.Equal(t, ext, exp.FileExtension())
	}
	_, err := New("pdf", nil)
	assert.Error(t, err)
}

func TestExportToFile(t *testing.T) {
	opts := testOptions()
	opts.OutputDir = filepath.Join(t.TempDir(), "out")
	sess := testSession()

	path, err := ExportToFile(sess, NewMarkdownExporter(opts), "", opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.OutputDir, "session_Deploy_notes_20250314_092653.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Deploy notes")

	explicit := filepath.Join(t.TempDir(), "nested", "s.json")
	path, err = ExportToFile(sess, NewJSONExporter(opts), explicit, opts)
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
	assert.FileExists(t, explicit)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                      "session",
		"a/b:c":                 "a-b-c",
		"hello world":           "hello_world",
		"tab\there":             "tab_here",
		"bell\a":                "bell-",
		strings.Repeat("x", 80): strings.Repeat("x", 50),
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}
}
