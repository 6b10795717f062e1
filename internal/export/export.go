// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/pipeline"
)

// ErrEmptySession is returned when a session has nothing to export.
var ErrEmptySession = errors.New("export: session has no messages")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for session exporters.
type Exporter interface {
	// Export converts a session to the target format and returns the content.
	Export(sess *model.Session) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md", ".html").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// OpenAfterExport opens the file in the default application.
	OpenAfterExport bool

	// IncludeMetadata includes the metadata header and per-reply metrics.
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// Theme for HTML export ("light" or "dark").
	// Default: "dark"
	Theme string

	// Metric returns the display label of a message's metrics, if any.
	Metric func(id string) (string, bool)

	// Process runs message text through the content pipeline. HTML export
	// needs it; when nil the text is rendered as a single markdown block.
	Process func(text string) pipeline.Output

	// Now is the clock used for export stamps.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Options) metric(msg *model.Message) (string, bool) {
	if o.Metric == nil || msg.Role != model.RoleAssistant || msg.IsError {
		return "", false
	}
	return o.Metric(msg.ID)
}

// =============================================================================
// FORMATS
// =============================================================================

// Formats lists the names accepted by New.
var Formats = []string{"md", "json", "html"}

// New returns the exporter for a format name.
func New(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "html":
		return NewHTMLExporter(opts), nil
	}
	return nil, fmt.Errorf("unknown export format %q (want one of %s)", format, strings.Join(Formats, ", "))
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// FileName returns the default file name for a session export.
func FileName(sess *model.Session, exporter Exporter, at time.Time) string {
	return fmt.Sprintf("session_%s_%s%s",
		sanitizeFilename(sess.Topic),
		at.Format("20060102_150405"),
		exporter.FileExtension(),
	)
}

// ExportToFile exports a session to a file using the specified exporter.
// Returns the output file path or an error. An empty path writes to
// OutputDir under the default file name.
func ExportToFile(sess *model.Session, exporter Exporter, path string, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(sess)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	if path == "" {
		path = filepath.Join(opts.OutputDir, FileName(sess, exporter, opts.now()))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	if opts.OpenAfterExport {
		if err := openFile(path); err != nil {
			// Non-fatal: the file was still written.
			return path, fmt.Errorf("open %s: %w", path, err)
		}
	}
	return path, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func validate(sess *model.Session) error {
	if sess == nil {
		return errors.New("export: session is nil")
	}
	if sess.Len() == 0 {
		return ErrEmptySession
	}
	return nil
}

// entries walks Context ++ Messages, reporting whether the clear-context cut
// falls immediately before each entry.
func entries(sess *model.Session, fn func(msg *model.Message, pinned, cutBefore bool)) {
	cut := -1
	if sess.ClearContextIndex != nil {
		cut = *sess.ClearContextIndex
	}
	for i, msg := range sess.Full() {
		fn(msg, i < len(sess.Context), i == cut && i > 0)
	}
}

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	maxLen := 50
	runes := []rune(s)
	if len(runes) > maxLen {
		s = string(runes[:maxLen])
	}

	replacer := map[rune]rune{
		'/':  '-',
		'\\': '-',
		':':  '-',
		'*':  '-',
		'?':  '-',
		'"':  '-',
		'<':  '-',
		'>':  '-',
		'|':  '-',
		' ':  '_',
		'\t': '_',
		'\n': '_',
		'\r': '_',
	}

	result := []rune{}
	for _, r := range s {
		if replacement, found := replacer[r]; found {
			result = append(result, replacement)
		} else if r < 32 || r == 127 {
			result = append(result, '-')
		} else {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "session"
	}
	return string(result)
}

// openFile opens a file in the default application for the OS.
func openFile(path string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", `""`, path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

// roleLabel returns the heading label for a message.
func roleLabel(msg *model.Message) string {
	label := msg.Role.DisplayName()
	if label == "" {
		label = "Unknown"
	}
	if msg.Model != "" && msg.Role == model.RoleAssistant {
		label += " (" + msg.Model + ")"
	}
	return label
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
