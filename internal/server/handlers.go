// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vsare/next-chat/internal/engine"
	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/pipeline"
	"github.com/vsare/next-chat/internal/storage"
	"github.com/vsare/next-chat/internal/window"
)

// ============================================================================
// REQUEST AND RESPONSE TYPES
// ============================================================================

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
	Pending  bool   `json:"pending"`
}

// EditRequest is the body of PUT .../messages/{id}.
type EditRequest struct {
	Text string `json:"text"`
}

// DraftRequest is the body of PUT .../draft.
type DraftRequest struct {
	Text string `json:"text"`
}

// WindowRequest carries one scroll sample. A null sample means the scroll
// container is not mounted and leaves the state unchanged. Reset returns the
// initial, bottom-pinned state.
type WindowRequest struct {
	Sample   *window.Sample  `json:"sample"`
	State    window.State    `json:"state"`
	Previews window.Previews `json:"previews"`
	Reset    bool            `json:"reset"`
}

// WindowResponse is the evaluated window state and its materialized entries.
type WindowResponse struct {
	State        window.State     `json:"state"`
	Start        int              `json:"start"`
	Total        int              `json:"total"`
	DividerAfter int              `json:"dividerAfter"`
	Entries      []*model.Message `json:"entries"`
}

// ============================================================================
// HEALTH
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  Version,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Sessions: len(s.engine.Sessions()),
		Pending:  s.engine.HasPending(""),
	})
}

// ============================================================================
// SESSIONS
// ============================================================================

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	byID := make(map[string]storage.ConversationMeta)
	if s.sessions != nil {
		var (
			metas []storage.ConversationMeta
			err   error
		)
		if query != "" {
			metas, err = s.sessions.Search(r.Context(), query)
		} else {
			metas, err = s.sessions.List(r.Context())
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, m := range metas {
			byID[m.ID] = m
		}
	}
	// Open sessions may hold changes not saved yet.
	if query == "" {
		for _, sess := range s.engine.Sessions() {
			byID[sess.ID] = storage.ConversationMeta{
				ID:           sess.ID,
				Topic:        sess.Topic,
				Model:        sess.Model,
				CreatedAt:    sess.CreatedAt,
				UpdatedAt:    sess.UpdatedAt,
				MessageCount: len(sess.Messages),
				Preview:      byID[sess.ID].Preview,
			}
		}
	}

	out := make([]storage.ConversationMeta, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Create(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Snapshot(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.engine.Close(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.sessions != nil {
		if err := s.sessions.Delete(r.Context(), id); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.fail(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearContext(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.engine.ClearContext(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	var req WindowRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.engine.Transcript(chi.URLParam(r, "sessionID"), req.Previews)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	cfg := s.engine.Config().Window
	st := req.State
	if req.Reset {
		st = cfg.Initial(t.Len())
	} else {
		st = cfg.Evaluate(req.Sample, st, t.Len())
	}
	v := cfg.Window(t, st)
	writeJSON(w, http.StatusOK, WindowResponse{
		State:        st,
		Start:        v.Start,
		Total:        t.Len(),
		DividerAfter: v.DividerAfter,
		Entries:      v.Entries,
	})
}

// ============================================================================
// DRAFTS
// ============================================================================

func (s *Server) handleTakeDraft(w http.ResponseWriter, r *http.Request) {
	text, ok := s.engine.TakeDraft(chi.URLParam(r, "sessionID"))
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, DraftRequest{Text: text})
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SaveDraft(chi.URLParam(r, "sessionID"), req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// MESSAGES
// ============================================================================

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in engine.Input
	if !s.decode(w, r, &in) {
		return
	}
	reply, err := s.engine.Submit(r.Context(), chi.URLParam(r, "sessionID"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, reply)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.engine.Stop(chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"))
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"stopped": s.engine.StopAll()})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"pending": s.engine.HasPending(chi.URLParam(r, "sessionID"))})
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	reply, err := s.engine.Resend(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, reply)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.Edit(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"), req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	pinned, err := s.engine.Pin(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pinned)
}

// ============================================================================
// RENDERING
// ============================================================================

func (s *Server) handleHTML(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Render(chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	html, err := s.html.Render(out)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, html)
}

// handleAttachment returns the original content of the index-th attachment
// shown in a message.
func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	conv, id := chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid attachment index")
		return
	}

	out, err := s.engine.Render(conv, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var found []pipeline.Attachment
	for _, b := range out.Blocks {
		if a, ok := b.(pipeline.Attachment); ok {
			found = append(found, a)
		}
	}
	if index >= len(found) {
		s.fail(w, r, engine.ErrAttachmentNotFound)
		return
	}

	a := found[index]
	content, err := s.engine.AttachmentContent(conv, id, a)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctype := a.Type
	if ctype == "" || !strings.HasPrefix(ctype, "text/") {
		ctype = "text/plain"
	}
	w.Header().Set("Content-Type", ctype+"; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": a.Name}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, content)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Metrics(chi.URLParam(r, "messageID")))
}

func (s *Server) handleToggleMetric(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ToggleMetric(chi.URLParam(r, "messageID")))
}

// ============================================================================
// HELPERS
// ============================================================================

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound),
		errors.Is(err, engine.ErrMessageNotFound),
		errors.Is(err, engine.ErrAttachmentNotFound),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEmptyInput),
		errors.Is(err, model.ErrPreview),
		errors.Is(err, storage.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrStreaming),
		errors.Is(err, engine.ErrNoCounterpart):
		return http.StatusConflict
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged in full
// and reported generically.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

// decode reads a JSON body into dst, answering 400 or 413 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return false
		}
		s.logger.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "invalid request format")
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}
