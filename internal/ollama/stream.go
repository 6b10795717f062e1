// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// maxLineSize bounds one NDJSON line.
const maxLineSize = 4 << 20

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader parses a streamed /api/chat body line by line.
type StreamReader struct {
	scanner *bufio.Scanner
	model   string
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StreamReader{scanner: sc}
}

// Process reads the stream and calls the callback for each chunk in order.
// It returns nil after the final chunk or at EOF, ctx.Err() when cancelled,
// and a *ClientError when the server reports an error mid-stream.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := s.parse(s.scanner.Bytes())
		if err != nil {
			return err
		}
		if chunk == nil {
			continue
		}
		callback(*chunk)
		if chunk.Done {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.scanner.Err(); err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "stream interrupted", Cause: err}
	}
	return nil
}

// parse decodes one line. Blank and malformed lines yield nil.
func (s *StreamReader) parse(line []byte) (*StreamChunk, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	var resp chatLine
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, nil
	}
	if resp.Error != "" {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: resp.Error}
	}
	if resp.Model != "" {
		s.model = resp.Model
	}

	chunk := &StreamChunk{
		Content: resp.Message.Content,
		Model:   s.model,
		Done:    resp.Done,
	}
	if resp.Done {
		chunk.DoneReason = resp.DoneReason
		chunk.TotalDuration = time.Duration(resp.TotalDuration)
		chunk.EvalDuration = time.Duration(resp.EvalDuration)
		chunk.PromptTokens = resp.PromptEvalCount
		chunk.CompletionTokens = resp.EvalCount
	}
	return chunk, nil
}

// =============================================================================
// IDLE WATCHDOG
// =============================================================================

// errStreamIdle is the cancellation cause used by the idle watchdog.
var errStreamIdle = errors.New("no data received")

// idleReader cancels a request when no bytes arrive within timeout.
type idleReader struct {
	r      io.Reader
	timer  *time.Timer
	period time.Duration
}

func newIdleReader(r io.Reader, period time.Duration, cancel context.CancelCauseFunc) *idleReader {
	return &idleReader{
		r:      r,
		period: period,
		timer:  time.AfterFunc(period, func() { cancel(errStreamIdle) }),
	}
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.period)
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}
