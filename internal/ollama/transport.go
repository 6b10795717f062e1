// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vsare/next-chat/internal/engine"
	"github.com/vsare/next-chat/internal/model"
)

// Transport adapts a Client to engine.Backend.
type Transport struct {
	client *Client
	logger *slog.Logger
}

// NewTransport wraps client.
func NewTransport(client *Client, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{client: client, logger: logger}
}

// Submit implements engine.Backend. The returned channel delivers content
// chunks in order and is closed after the final chunk, after an error chunk,
// or when ctx is cancelled.
func (t *Transport) Submit(ctx context.Context, req engine.Request) (<-chan engine.Chunk, error) {
	messages := ToMessages(req.History)
	messages = append(messages, Message{
		Role:    string(model.RoleUser),
		Content: req.Text,
		Images:  t.images(req.Attachments),
	})

	ch := make(chan engine.Chunk, 16)
	go func() {
		defer close(ch)
		send := func(c engine.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := t.client.ChatStream(ctx, req.Model, messages, func(sc StreamChunk) {
			if sc.Content != "" {
				send(engine.Chunk{Text: sc.Content})
			}
			if sc.Done {
				t.logger.Debug("stream finished",
					"conversation", req.ConversationID,
					"message", req.MessageID,
					"reason", sc.DoneReason,
					"tokens", sc.CompletionTokens,
					"tokens_per_sec", sc.TokensPerSecond())
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			send(engine.Chunk{Err: err})
			return
		}
		send(engine.Chunk{Done: true})
	}()
	return ch, nil
}

// ToMessages converts transcript messages to the Ollama wire form.
func ToMessages(msgs []*model.Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	for _, m := range msgs {
		om := Message{Role: string(m.Role), Content: m.Text()}
		if m.Role == model.RoleUser {
			om.Images = imageData(m.Content.Images())
		}
		out = append(out, om)
	}
	return out
}

// images keeps inline data URLs. Remote image URLs cannot be sent to Ollama
// and are dropped.
func (t *Transport) images(urls []string) []string {
	data := imageData(urls)
	if dropped := len(urls) - len(data); dropped > 0 {
		t.logger.Warn("remote images are not supported by the backend", "dropped", dropped)
	}
	return data
}

// imageData extracts the base64 payload of data URLs.
func imageData(urls []string) []string {
	var out []string
	for _, u := range urls {
		if !strings.HasPrefix(u, "data:") {
			continue
		}
		if i := strings.Index(u, ";base64,"); i >= 0 {
			out = append(out, u[i+len(";base64,"):])
		}
	}
	return out
}
