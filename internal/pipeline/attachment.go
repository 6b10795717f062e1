// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// AttachmentSeparator joins consecutive attachment records in a message.
const AttachmentSeparator = "\n\n---\n\n"

const (
	markerIcon   = "📄"
	markerScheme = "file://"
)

var (
	attachmentHeader = regexp.MustCompile(`文件名: (.+?)\n类型: (.+?)\n大小: (.+?) KB\n\n`)
	markerPattern    = regexp.MustCompile(`\[` + markerIcon + ` (?:\\.|[^\]\\\n])*\]\((` + markerScheme + `[^)\s]*)\)`)
	linkTextEscaper  = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`)
)

// ErrMalformedMarker is returned when a marker link cannot be decoded.
var ErrMalformedMarker = errors.New("pipeline: malformed attachment marker")

// =============================================================================
// ATTACHMENT
// =============================================================================

// Attachment references an inline file record. Size is in bytes.
type Attachment struct {
	Name string
	Type string
	Size float64
}

func (Attachment) isBlock() {}

// Href returns the pseudo-link carrying the attachment parameters.
func (a Attachment) Href() string {
	return markerScheme + escapeComponent(a.Name) +
		"?type=" + escapeComponent(a.Type) +
		"&size=" + strconv.FormatFloat(a.Size, 'f', -1, 64)
}

// Marker returns the markdown link that replaces the record in rendered text.
// Brackets in the name are escaped; the name is read back from the href.
func (a Attachment) Marker() string {
	return "[" + markerIcon + " " + linkTextEscaper.Replace(a.Name) + "](" + a.Href() + ")"
}

// KB returns the size in kilobytes with two decimals, as written in records.
func (a Attachment) KB() string {
	return strconv.FormatFloat(a.Size/1024, 'f', 2, 64)
}

// ParseHref decodes a marker link produced by Href.
func ParseHref(href string) (Attachment, error) {
	rest, ok := strings.CutPrefix(href, markerScheme)
	if !ok {
		return Attachment{}, fmt.Errorf("%w: %q", ErrMalformedMarker, href)
	}
	rawName, rawQuery, _ := strings.Cut(rest, "?")
	name, err := url.PathUnescape(rawName)
	if err != nil || name == "" {
		return Attachment{}, fmt.Errorf("%w: bad name %q", ErrMalformedMarker, rawName)
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Attachment{}, fmt.Errorf("%w: %v", ErrMalformedMarker, err)
	}
	size, err := strconv.ParseFloat(q.Get("size"), 64)
	if err != nil {
		return Attachment{}, fmt.Errorf("%w: bad size %q", ErrMalformedMarker, q.Get("size"))
	}
	return Attachment{Name: name, Type: q.Get("type"), Size: size}, nil
}

// =============================================================================
// RECORDS
// =============================================================================

// FormatRecord writes one attachment record as it is embedded in a user message.
func FormatRecord(name, mimeType string, sizeBytes int64, content string) string {
	a := Attachment{Name: name, Type: mimeType, Size: float64(sizeBytes)}
	return recordHeader(a) + content
}

// JoinRecords joins records with AttachmentSeparator.
func JoinRecords(records []string) string {
	return strings.Join(records, AttachmentSeparator)
}

func recordHeader(a Attachment) string {
	return "文件名: " + a.Name + "\n类型: " + a.Type + "\n大小: " + a.KB() + " KB\n\n"
}

// recordEnd returns the end of the record content starting at from.
// Content holds at least one byte and stops before "\n\n---" or at end of text.
func recordEnd(text string, from int) int {
	if from >= len(text) {
		return -1
	}
	if i := strings.Index(text[from+1:], "\n\n---"); i >= 0 {
		return from + 1 + i
	}
	return len(text)
}

// ReplaceAttachments substitutes every attachment record with its marker.
func ReplaceAttachments(text string) (string, error) {
	var sb strings.Builder
	pos, replaced := 0, 0
	for pos < len(text) {
		m := attachmentHeader.FindStringSubmatchIndex(text[pos:])
		if m == nil {
			break
		}
		start, contentStart := pos+m[0], pos+m[1]
		end := recordEnd(text, contentStart)
		if end < 0 {
			break
		}
		kb, err := strconv.ParseFloat(strings.TrimSpace(text[pos+m[6]:pos+m[7]]), 64)
		if err != nil {
			return text, fmt.Errorf("%w: size %q", ErrMalformedMarker, text[pos+m[6]:pos+m[7]])
		}
		a := Attachment{
			Name: text[pos+m[2] : pos+m[3]],
			Type: text[pos+m[4] : pos+m[5]],
			Size: kb * 1024,
		}
		sb.WriteString(text[pos:start])
		sb.WriteString(a.Marker())
		pos = end
		replaced++
	}
	if replaced == 0 {
		return text, nil
	}
	sb.WriteString(text[pos:])
	return sb.String(), nil
}

// OriginalContent locates an attachment's record in the source text and
// returns its content.
func OriginalContent(source string, a Attachment) (string, bool) {
	header := recordHeader(a)
	if i := strings.Index(source, header); i >= 0 {
		return recordContent(source, i+len(header))
	}
	// Size formatting may differ from the writer's; match on name and type.
	for _, m := range attachmentHeader.FindAllStringSubmatchIndex(source, -1) {
		if source[m[2]:m[3]] == a.Name && source[m[4]:m[5]] == a.Type {
			return recordContent(source, m[1])
		}
	}
	return "", false
}

func recordContent(source string, from int) (string, bool) {
	if from >= len(source) {
		return "", false
	}
	if i := strings.Index(source[from:], AttachmentSeparator); i >= 0 {
		return source[from : from+i], true
	}
	return source[from:], true
}

// escapeComponent escapes like a URI component: spaces become %20.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
