// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vsare/next-chat/internal/engine"
	"github.com/vsare/next-chat/internal/model"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// chatServer answers /api/chat with the given NDJSON lines.
func chatServer(t *testing.T, lines []string, capture *ChatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		flusher := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintln(w, l)
			flusher.Flush()
		}
	}))
}

func collect(t *testing.T, ch <-chan engine.Chunk) []engine.Chunk {
	t.Helper()
	var out []engine.Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("stream did not close")
			return out
		}
	}
}

// =============================================================================
// STREAM READER TESTS
// =============================================================================

func TestStreamReader_Process(t *testing.T) {
	body := strings.Join([]string{
		`{"model":"m","message":{"role":"assistant","content":"Hel"},"done":false}`,
		``,
		`not json`,
		`{"model":"m","message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"model":"m","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":4,"eval_duration":2000000000}`,
		`{"model":"m","message":{"role":"assistant","content":"ignored"},"done":false}`,
	}, "\n")

	var got []StreamChunk
	err := NewStreamReader(strings.NewReader(body)).Process(context.Background(), func(c StreamChunk) {
		got = append(got, c)
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	if got[0].Content+got[1].Content != "Hello" {
		t.Errorf("content = %q", got[0].Content+got[1].Content)
	}
	last := got[2]
	if !last.Done || last.DoneReason != "stop" || last.CompletionTokens != 4 {
		t.Errorf("final chunk = %+v", last)
	}
	if tps := last.TokensPerSecond(); tps != 2 {
		t.Errorf("TokensPerSecond = %v, want 2", tps)
	}
}

func TestStreamReader_ErrorLine(t *testing.T) {
	body := `{"error":"model crashed"}` + "\n"
	err := NewStreamReader(strings.NewReader(body)).Process(context.Background(), func(StreamChunk) {})
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Message != "model crashed" {
		t.Errorf("expected ClientError, got %v", err)
	}
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestChatStream_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	err := c.ChatStream(context.Background(), "nope", nil, func(StreamChunk) {})
	if !IsModelNotFound(err) {
		t.Errorf("expected model not found, got %v", err)
	}
}

func TestChatStream_ServerErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"out of memory"}`))
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	err := c.ChatStream(context.Background(), "m", nil, func(StreamChunk) {})
	if err == nil || err.Error() != "out of memory" {
		t.Errorf("err = %v", err)
	}
}

func TestChatStream_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url})
	if err := c.ChatStream(context.Background(), "m", nil, func(StreamChunk) {}); !IsNotRunning(err) {
		t.Errorf("expected not running, got %v", err)
	}
}

func TestChatStream_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, StreamIdleTimeout: 100 * time.Millisecond})
	err := c.ChatStream(context.Background(), "m", nil, func(StreamChunk) {})
	if !IsTimeout(err) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3","size":4000000000}]}`))
	}))
	defer srv.Close()

	models, err := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL}).ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 || models[0].Name != "llama3" || models[0].FormatSize() != "3.7 GB" {
		t.Errorf("models = %+v", models)
	}
}

// =============================================================================
// TRANSPORT TESTS
// =============================================================================

func TestTransport_StreamsAndConvertsHistory(t *testing.T) {
	var req ChatRequest
	srv := chatServer(t, []string{
		`{"model":"m","message":{"content":"Hi"},"done":false}`,
		`{"model":"m","message":{"content":" there"},"done":false}`,
		`{"model":"m","message":{"content":""},"done":true}`,
	}, &req)
	defer srv.Close()

	history := []*model.Message{
		model.NewUserMessage(model.Multimodal("look", "data:image/png;base64,QUJD", "https://x/y.png")),
		{ID: "b", Role: model.RoleAssistant, Content: model.Text("a cat")},
	}
	tr := NewTransport(NewClientWithConfig(&ClientConfig{BaseURL: srv.URL}), quiet())
	ch, err := tr.Submit(context.Background(), engine.Request{
		Model: "m", History: history, Text: "hello", Attachments: []string{"data:image/jpeg;base64,REVG"},
	})
	if err != nil {
		t.Fatal(err)
	}

	chunks := collect(t, ch)
	var text strings.Builder
	for _, c := range chunks[:len(chunks)-1] {
		text.WriteString(c.Text)
	}
	if text.String() != "Hi there" {
		t.Errorf("text = %q", text.String())
	}
	if !chunks[len(chunks)-1].Done {
		t.Errorf("last chunk should be Done: %+v", chunks[len(chunks)-1])
	}

	if len(req.Messages) != 3 {
		t.Fatalf("sent %d messages, want 3", len(req.Messages))
	}
	if got := req.Messages[0].Images; len(got) != 1 || got[0] != "QUJD" {
		t.Errorf("history images = %v", got)
	}
	last := req.Messages[2]
	if last.Role != "user" || last.Content != "hello" || len(last.Images) != 1 || last.Images[0] != "REVG" {
		t.Errorf("new input = %+v", last)
	}
	if !req.Stream {
		t.Error("request must stream")
	}
}

func TestTransport_ErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := NewTransport(NewClientWithConfig(&ClientConfig{BaseURL: srv.URL}), quiet())
	ch, _ := tr.Submit(context.Background(), engine.Request{Model: "x", Text: "q"})
	chunks := collect(t, ch)
	if len(chunks) != 1 || !errors.Is(chunks[0].Err, ErrModelNotFound) {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestTransport_CancelClosesChannel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	tr := NewTransport(NewClientWithConfig(&ClientConfig{BaseURL: srv.URL}), quiet())
	ch, _ := tr.Submit(ctx, engine.Request{Model: "m", Text: "q"})

	first := <-ch
	if first.Text != "partial" {
		t.Fatalf("first chunk = %+v", first)
	}
	cancel()
	for c := range ch {
		if c.Err != nil || c.Done {
			t.Errorf("no terminal chunk after cancel, got %+v", c)
		}
	}
}
