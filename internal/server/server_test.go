// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vsare/next-chat/internal/engine"
	"github.com/vsare/next-chat/internal/logging"
	"github.com/vsare/next-chat/internal/metrics"
	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/storage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type echoBackend struct{}

func (echoBackend) Submit(ctx context.Context, req engine.Request) (<-chan engine.Chunk, error) {
	ch := make(chan engine.Chunk, 2)
	ch <- engine.Chunk{Text: "echo: **" + req.Text + "**"}
	ch <- engine.Chunk{Done: true}
	close(ch)
	return ch, nil
}

type testServer struct {
	*Server
	engine *engine.Engine
	store  *storage.SessionStore
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSessionStore(dir, 0)
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	drafts, err := storage.NewDraftStore(dir)
	if err != nil {
		t.Fatalf("NewDraftStore: %v", err)
	}
	reg := prometheus.NewRegistry()
	eng, err := engine.New(echoBackend{},
		engine.WithLogger(logging.Discard()),
		engine.WithStore(store),
		engine.WithDrafts(drafts),
		engine.WithCollector(metrics.NewCollector(reg)),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})

	srv := New(eng, WithConfig(cfg), WithSessions(store), WithGatherer(reg))
	return &testServer{Server: srv, engine: eng, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", rec.Code, rec.Body)
	}
	var sess model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess.ID
}

// submit sends text and waits until the reply stops streaming.
func (ts *testServer) submit(t *testing.T, id string, in engine.Input) *model.Message {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", in)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: status %d: %s", rec.Code, rec.Body)
	}
	var reply model.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !ts.engine.HasPending(id) {
			return &reply
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("reply did not finish")
	return nil
}

// =============================================================================
// HANDLER TESTS
// =============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.Version != Version {
		t.Errorf("health = %+v", health)
	}
}

func TestSubmitAndSnapshot(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)
	ts.submit(t, id, engine.Input{Text: "hello"})

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var sess model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(sess.Messages))
	}
	if got := sess.Messages[1].Text(); got != "echo: **hello**" {
		t.Errorf("reply = %q", got)
	}
}

func TestSubmit_EmptyInput(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", engine.Input{Text: "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubmit_InvalidBody(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/messages", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())

	rec := ts.do(t, http.MethodGet, "/api/sessions/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Error("errors are reported as JSON")
	}
}

func TestRenderedHTML(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)
	reply := ts.submit(t, id, engine.Input{Text: "bold"})

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/messages/"+reply.ID+"/html", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<strong>bold</strong>") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestAttachmentOriginal(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)
	ts.submit(t, id, engine.Input{
		Text:  "see file",
		Files: []engine.File{{Name: "notes.txt", Type: "text/plain", Content: "line one\nline two"}},
	})

	snap, err := ts.engine.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	user := snap.Messages[0].ID

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/messages/"+user+"/attachments/0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != "line one\nline two" {
		t.Errorf("content = %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "notes.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+id+"/messages/"+user+"/attachments/3", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing attachment status = %d, want 404", rec.Code)
	}
}

func TestWindow(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)
	ts.submit(t, id, engine.Input{Text: "one"})

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/window", WindowRequest{Reset: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp WindowResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || len(resp.Entries) != 2 {
		t.Errorf("window = %+v", resp)
	}
	if !resp.State.AutoScroll || !resp.State.HitBottom {
		t.Errorf("initial state should be pinned to the bottom: %+v", resp.State)
	}
	if resp.DividerAfter != -1 {
		t.Errorf("DividerAfter = %d, want -1", resp.DividerAfter)
	}
}

func TestMessageOperations(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)
	reply := ts.submit(t, id, engine.Input{Text: "hi"})
	base := "/api/sessions/" + id + "/messages/" + reply.ID

	if rec := ts.do(t, http.MethodPut, base, EditRequest{Text: "edited"}); rec.Code != http.StatusNoContent {
		t.Errorf("edit status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, base+"/pin", nil); rec.Code != http.StatusCreated {
		t.Errorf("pin status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, base+"/metrics/toggle", nil); rec.Code != http.StatusOK {
		t.Errorf("toggle status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, base+"/stop", nil); !strings.Contains(rec.Body.String(), `"stopped":false`) {
		t.Errorf("stopping a finished reply = %s", rec.Body)
	}
	if rec := ts.do(t, http.MethodDelete, base, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPut, base, EditRequest{Text: "gone"}); rec.Code != http.StatusNotFound {
		t.Errorf("edit after delete status = %d, want 404", rec.Code)
	}

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/clear-context", nil)
	if !strings.Contains(rec.Body.String(), `"cleared":true`) {
		t.Errorf("clear-context = %s", rec.Body)
	}
}

func TestDrafts(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)
	path := "/api/sessions/" + id + "/draft"

	if rec := ts.do(t, http.MethodGet, path, nil); rec.Code != http.StatusNoContent {
		t.Errorf("empty draft status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPut, path, DraftRequest{Text: "later"}); rec.Code != http.StatusNoContent {
		t.Fatalf("save status = %d", rec.Code)
	}
	rec := ts.do(t, http.MethodGet, path, nil)
	if !strings.Contains(rec.Body.String(), `"later"`) {
		t.Errorf("draft = %s", rec.Body)
	}
}

func TestListAndDeleteSessions(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)
	ts.submit(t, id, engine.Input{Text: "findable topic"})

	rec := ts.do(t, http.MethodGet, "/api/sessions", nil)
	var metas []storage.ConversationMeta
	if err := json.Unmarshal(rec.Body.Bytes(), &metas); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != id {
		t.Fatalf("sessions = %+v", metas)
	}

	if rec := ts.do(t, http.MethodDelete, "/api/sessions/"+id, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body)
	}
	if rec := ts.do(t, http.MethodGet, "/api/sessions/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted session status = %d, want 404", rec.Code)
	}
}

func TestPrometheusMetrics(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)
	ts.submit(t, id, engine.Input{Text: "count me"})

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "nextchat_") {
		t.Error("metrics should expose the engine collectors")
	}
}

// =============================================================================
// WEBSOCKET TESTS
// =============================================================================

func TestEventsWebSocket(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	id := ts.createSession(t)

	hs := httptest.NewServer(ts.Handler())
	defer hs.Close()

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws?session=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered right after the upgrade; give it a moment.
	time.Sleep(50 * time.Millisecond)
	if _, err := ts.engine.Submit(context.Background(), id, engine.Input{Text: "ws"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev engine.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.SessionID != id || ev.Type != engine.EventAppended {
		t.Errorf("first event = %+v", ev)
	}
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{RateLimit: 1, RateBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, ts.do(t, http.MethodGet, "/api/pending", nil).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("burst requests = %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", codes[2])
	}
	if rec := ts.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Error("health checks are not rate limited")
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unknown origin allowed: %q", got)
	}
}

func TestCORSConfig_Wildcard(t *testing.T) {
	c := &CORSConfig{AllowedOrigins: []string{"*.example.com"}}
	if !c.isOriginAllowed("https://app.example.com") {
		t.Error("subdomain should match")
	}
	if c.isOriginAllowed("https://example.org") {
		t.Error("other domains should not match")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(logging.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct", "203.0.113.5:1234", "", "203.0.113.5"},
		{"untrusted forwarder ignored", "203.0.113.5:1234", "198.51.100.1", "203.0.113.5"},
		{"trusted proxy", "127.0.0.1:1234", "198.51.100.1, 10.0.0.1", "198.51.100.1"},
		{"invalid header", "127.0.0.1:1234", "not-an-ip", "127.0.0.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := GetClientIP(req); got != tc.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrSessionNotFound, http.StatusNotFound},
		{engine.ErrEmptyInput, http.StatusBadRequest},
		{engine.ErrStreaming, http.StatusConflict},
		{engine.ErrNoCounterpart, http.StatusConflict},
		{engine.ErrClosed, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
