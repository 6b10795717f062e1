// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama chat API and the
// Transport that plugs it into the engine as a Backend.
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL: "http://localhost:11434",
//	})
//	backend := ollama.NewTransport(client, logger)
//	chunks, err := backend.Submit(ctx, engine.Request{Model: "qwen2.5:7b", Text: "Hello"})
//
// Streaming responses are NDJSON; every line carries one content fragment
// and the last one reports done with token statistics. Cancelling the
// context aborts the HTTP request.
package ollama
