// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vsare/next-chat/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONVersion is the version of the JSON export document.
const JSONVersion = 1

// Document is the JSON export envelope. Session is the stored form, so an
// export can be copied back into the conversations directory.
type Document struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exportedAt"`
	Session    *model.Session    `json:"session"`
	Metrics    map[string]string `json:"metrics,omitempty"`
}

// JSONExporter exports sessions to JSON.
// NOTE: the session is always exported in full; IncludeMetadata only
// controls the metrics map.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a session to JSON format.
func (e *JSONExporter) Export(sess *model.Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("export: session is nil")
	}

	doc := Document{
		Version:    JSONVersion,
		ExportedAt: e.options.now().UTC(),
		Session:    sess,
	}
	if e.options.IncludeMetadata {
		for _, msg := range sess.Full() {
			if label, ok := e.options.metric(msg); ok {
				if doc.Metrics == nil {
					doc.Metrics = make(map[string]string)
				}
				doc.Metrics[msg.ID] = label
			}
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
