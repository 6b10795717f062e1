// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lifecycle implements the state machine of streamed assistant replies.
//
// The Manager tracks each reply from the moment its placeholder is created
// until it completes, fails, is stopped, or is swept as stale. It mutates the
// model.Message it is handed but never owns it: callers serialize access to a
// session and call into the Manager while holding that session's lock.
//
// The Manager also owns the per-message reasoning timing records consumed by
// the content pipeline.
package lifecycle

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/pipeline"
)

var (
	// ErrNoCounterpart is returned when a resend finds no user message to resubmit.
	ErrNoCounterpart = errors.New("lifecycle: no user message to resend")
	// ErrNotFound is returned when the message is not in the session.
	ErrNotFound = errors.New("lifecycle: message not found")
)

// DefaultRequestTimeout is the stale threshold for streaming replies.
const DefaultRequestTimeout = 60 * time.Second

type track struct {
	known        bool
	state        State
	lastActivity time.Time
	timing       *pipeline.Timing
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager tracks lifecycle state per message id.
type Manager struct {
	mu     sync.Mutex
	tracks map[string]*track
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		tracks: make(map[string]*track),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin registers a freshly created placeholder in Queued state.
func (m *Manager) Begin(msg *model.Message) {
	msg.Streaming = true
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.trackLocked(msg.ID)
	t.state = Queued
	t.known = true
	t.lastActivity = m.now()
}

// State returns the lifecycle state of msg. Previews are always Streaming.
// Messages without a track, such as ones loaded from disk, derive their state
// from their flags.
func (m *Manager) State(msg *model.Message) State {
	if msg.Preview {
		return Streaming
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tracks[msg.ID]; ok && t.known {
		return t.state
	}
	return stateFromFlags(msg)
}

// Apply appends a content chunk. The first non-empty chunk moves a Queued
// reply to Streaming. Chunks for a terminal reply are discarded and Apply
// returns false.
func (m *Manager) Apply(msg *model.Message, chunk string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.trackForLocked(msg)
	if t.state.Terminal() {
		return false
	}
	t.lastActivity = m.now()
	if chunk == "" {
		return true
	}
	if t.state == Queued {
		t.state = Streaming
	}
	msg.Streaming = true
	msg.Content = msg.Content.Append(chunk)
	return true
}

// Complete marks a reply finished by the backend.
func (m *Manager) Complete(msg *model.Message) bool {
	return m.finish(msg, Complete)
}

// Stop ends a reply at the user's request, keeping its partial content.
func (m *Manager) Stop(msg *model.Message) bool {
	return m.finish(msg, Complete)
}

// Fail marks a reply failed. The diagnostic payload is appended to any
// partial content.
func (m *Manager) Fail(msg *model.Message, cause error) bool {
	if !m.finish(msg, Error) {
		return false
	}
	payload := model.ErrorPayload(cause.Error())
	if text := msg.Text(); text != "" {
		payload = "\n\n" + payload
	}
	msg.Content = msg.Content.Append(payload)
	msg.IsError = true
	return true
}

// Sweep forces stale streaming messages out of streaming. A message is stale
// when neither a chunk nor its creation happened within timeout. Empty stale
// messages become errors carrying the "empty response" diagnostic. Returns the
// ids of the messages that changed.
func (m *Manager) Sweep(sess *model.Session, timeout time.Duration) []string {
	now := m.now()
	var changed []string

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range sess.Messages {
		if !msg.Streaming {
			continue
		}
		last := msg.Date
		t, tracked := m.tracks[msg.ID]
		if tracked && t.lastActivity.After(last) {
			last = t.lastActivity
		}
		if now.Sub(last) <= timeout {
			continue
		}

		t = m.trackForLocked(msg)
		msg.Streaming = false
		if msg.IsEmpty() {
			msg.IsError = true
			msg.Content = model.Text(model.ErrorPayload(model.EmptyResponse))
			t.state = Error
		} else {
			t.state = StaleTimeout
		}
		changed = append(changed, msg.ID)
		m.logger.Info("stale reply swept",
			"session", sess.ID, "message", msg.ID, "state", t.state.String(), "idle", now.Sub(last).Round(time.Second))
	}
	return changed
}

// Timing returns the reasoning timing record of a message, creating it on
// first use.
func (m *Manager) Timing(id string) *pipeline.Timing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackLocked(id).timing
}

// Forget drops the tracks of deleted messages.
func (m *Manager) Forget(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.tracks, id)
	}
}

// =============================================================================
// RESEND
// =============================================================================

// Resubmission is the user input recovered by Resend.
type Resubmission struct {
	Text    string
	Images  []string
	Deleted []string
}

// Resend locates the user/assistant pair around id, deletes both and returns
// the user content for resubmission. For an assistant message the nearest
// preceding user message is used; for a user message the nearest following
// assistant reply is deleted with it. When no user message can be located,
// ErrNoCounterpart is returned and nothing is mutated.
func (m *Manager) Resend(sess *model.Session, id string) (Resubmission, error) {
	i := sess.MessageIndex(id)
	if i < 0 {
		return Resubmission{}, ErrNotFound
	}

	var user, bot *model.Message
	switch target := sess.Messages[i]; target.Role {
	case model.RoleAssistant:
		bot = target
		for j := i - 1; j >= 0; j-- {
			if sess.Messages[j].Role == model.RoleUser {
				user = sess.Messages[j]
				break
			}
		}
	case model.RoleUser:
		user = target
		for j := i + 1; j < len(sess.Messages); j++ {
			if sess.Messages[j].Role == model.RoleAssistant {
				bot = sess.Messages[j]
				break
			}
		}
	}
	if user == nil {
		return Resubmission{}, ErrNoCounterpart
	}

	res := Resubmission{
		Text:    user.Text(),
		Images:  user.Content.Images(),
		Deleted: []string{user.ID},
	}
	sess.DeleteByID(user.ID)
	if bot != nil {
		m.Stop(bot)
		sess.DeleteByID(bot.ID)
		res.Deleted = append(res.Deleted, bot.ID)
	}
	m.Forget(res.Deleted...)
	return res, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (m *Manager) finish(msg *model.Message, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.trackForLocked(msg)
	if t.state.Terminal() {
		return false
	}
	t.state = to
	msg.Streaming = false
	return true
}

// trackLocked returns the track for id, creating an empty one.
// Caller must hold m.mu.
func (m *Manager) trackLocked(id string) *track {
	t, ok := m.tracks[id]
	if !ok {
		t = &track{timing: &pipeline.Timing{}}
		m.tracks[id] = t
	}
	return t
}

// trackForLocked returns the track for msg, deriving its state from the
// message flags when the manager has not seen the message begin.
// Caller must hold m.mu.
func (m *Manager) trackForLocked(msg *model.Message) *track {
	t := m.trackLocked(msg.ID)
	if !t.known {
		t.state = stateFromFlags(msg)
		t.known = true
	}
	return t
}

func stateFromFlags(msg *model.Message) State {
	switch {
	case msg.IsError:
		return Error
	case msg.Streaming:
		return Streaming
	default:
		return Complete
	}
}
