// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the transcript engine over HTTP and WebSocket.
//
// # Endpoints
//
// Sessions:
//
//   - GET    /api/sessions                  - List sessions (?q= searches stored ones)
//   - POST   /api/sessions                  - Create a session
//   - GET    /api/sessions/{id}             - Session snapshot
//   - DELETE /api/sessions/{id}             - Close and delete a session
//   - POST   /api/sessions/{id}/clear-context - Toggle the clear-context cut
//   - POST   /api/sessions/{id}/window      - Evaluate a scroll sample
//   - GET    /api/sessions/{id}/pending     - Whether a reply is in flight
//   - GET|PUT /api/sessions/{id}/draft      - Take or save unsent input
//
// Messages, under /api/sessions/{id}/messages:
//
//   - POST   /                              - Submit input, returns the reply placeholder
//   - PUT    /{msg}                         - Edit content
//   - DELETE /{msg}                         - Delete a message or unpin a context entry
//   - POST   /{msg}/stop | /resend | /pin   - Lifecycle operations
//   - GET    /{msg}/html                    - Rendered HTML fragment
//   - GET    /{msg}/attachments/{n}         - Original attachment content
//   - GET    /{msg}/metrics, POST /{msg}/metrics/toggle
//
// Global:
//
//   - POST /api/stop-all, GET /api/pending
//   - GET  /ws       - Engine events as JSON frames (?session= filters)
//   - GET  /metrics  - Prometheus metrics
//   - GET  /healthz  - Health check
//
// # Middleware
//
// Every route passes recovery, request logging, security headers and CORS.
// Routes under /api are additionally rate limited per client IP with a token
// bucket.
//
// # Usage
//
//	srv := server.New(eng,
//		server.WithConfig(server.Config{Addr: "127.0.0.1:8787"}),
//		server.WithSessions(store),
//		server.WithLogger(logger),
//	)
//	err := srv.ListenAndServe(ctx)
package server
