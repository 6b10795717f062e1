// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vsare/next-chat/internal/cancel"
	"github.com/vsare/next-chat/internal/lifecycle"
	"github.com/vsare/next-chat/internal/metrics"
	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/pipeline"
	"github.com/vsare/next-chat/internal/window"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("engine: session not found")
	// ErrMessageNotFound is returned for unknown message ids.
	ErrMessageNotFound = errors.New("engine: message not found")
	// ErrEmptyInput is returned when a submission carries nothing to send.
	ErrEmptyInput = errors.New("engine: empty input")
	// ErrStreaming is returned when editing a reply that is still streaming.
	ErrStreaming = errors.New("engine: message is streaming")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("engine: closed")
)

// =============================================================================
// CONFIG
// =============================================================================

// Defaults.
const (
	DefaultSweepInterval     = 5 * time.Second
	DefaultLongTextThreshold = 3000
	DefaultRenderCacheSize   = 512

	// LongTextName is the file name given to pasted text over the threshold.
	LongTextName = "长文本.txt"
	// GreetingID is the id of the synthetic greeting entry.
	GreetingID = "greeting"
)

// Config holds the engine settings.
type Config struct {
	// Model is the default model for new sessions.
	Model string
	// RequestTimeout is the stale threshold for streaming replies.
	RequestTimeout time.Duration
	// SweepInterval is the period of RunSweeper.
	SweepInterval time.Duration
	// LongTextThreshold converts longer inputs into a text attachment. Zero
	// disables the conversion.
	LongTextThreshold int
	// Greeting is shown in place of an empty pinned context. Empty disables it.
	Greeting string
	// Window configures transcript paging.
	Window window.Config
	// RenderCacheSize bounds the processed-content cache.
	RenderCacheSize int
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    lifecycle.DefaultRequestTimeout,
		SweepInterval:     DefaultSweepInterval,
		LongTextThreshold: DefaultLongTextThreshold,
		Window:            window.DefaultConfig(),
		RenderCacheSize:   DefaultRenderCacheSize,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type entry struct {
	mu   sync.Mutex
	sess *model.Session
}

type renderKey struct {
	id   string
	hash [32]byte
}

// Engine owns the open sessions and every request streaming into them.
// All methods are safe for concurrent use.
type Engine struct {
	cfg       Config
	backend   Backend
	store     Store
	drafts    Drafts
	logger    *slog.Logger
	now       func() time.Time
	registry  *cancel.Registry
	lifecycle *lifecycle.Manager
	pipeline  *pipeline.Pipeline
	tracker   *metrics.Tracker
	collector *metrics.Collector
	rendered  *lru.Cache[renderKey, pipeline.Output]

	// base parents every request; cancelled by Shutdown.
	base     context.Context
	stopBase context.CancelFunc
	inflight sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine settings.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithStore persists sessions through s.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithDrafts keeps unsent input through d.
func WithDrafts(d Drafts) Option {
	return func(e *Engine) { e.drafts = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the time source shared by the lifecycle manager and the
// content pipeline.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTracker sets the metrics tracker.
func WithTracker(t *metrics.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithCollector sets the Prometheus collector.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// New creates an Engine streaming replies from backend.
func New(backend Backend, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("engine: nil backend")
	}
	e := &Engine{
		cfg:      DefaultConfig(),
		backend:  backend,
		logger:   slog.Default(),
		now:      time.Now,
		registry: cancel.New(),
		sessions: make(map[string]*entry),
		subs:     make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.RequestTimeout <= 0 {
		e.cfg.RequestTimeout = lifecycle.DefaultRequestTimeout
	}
	if e.cfg.SweepInterval <= 0 {
		e.cfg.SweepInterval = DefaultSweepInterval
	}
	if e.cfg.RenderCacheSize <= 0 {
		e.cfg.RenderCacheSize = DefaultRenderCacheSize
	}

	e.lifecycle = lifecycle.New(lifecycle.WithLogger(e.logger), lifecycle.WithClock(e.now))
	e.pipeline = pipeline.New(pipeline.WithLogger(e.logger), pipeline.WithClock(e.now))

	if e.tracker == nil {
		t, err := metrics.NewTracker(metrics.EstimateCounter{}, metrics.DefaultCacheSize,
			metrics.WithCollector(e.collector), metrics.WithTrackerLogger(e.logger))
		if err != nil {
			return nil, fmt.Errorf("create metrics tracker: %w", err)
		}
		e.tracker = t
	}

	cache, err := lru.New[renderKey, pipeline.Output](e.cfg.RenderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create render cache: %w", err)
	}
	e.rendered = cache

	e.base, e.stopBase = context.WithCancel(context.Background())
	return e, nil
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Tracker returns the metrics tracker.
func (e *Engine) Tracker() *metrics.Tracker {
	return e.tracker
}

// =============================================================================
// SESSIONS
// =============================================================================

// Create starts a new session using the default model.
func (e *Engine) Create(ctx context.Context) (*model.Session, error) {
	sess := model.NewSession()
	now := e.now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	sess.Model = e.cfg.Model

	ent := &entry{sess: sess}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.sessions[sess.ID] = ent
	e.mu.Unlock()

	if err := e.persist(ctx, ent); err != nil {
		return nil, err
	}
	e.logger.Info("session created", "session", sess.ID, "model", sess.Model)
	e.emit(Event{Type: EventSession, SessionID: sess.ID})
	return sess.Clone(), nil
}

// Open makes a stored session available. Opening a session that is already
// open returns its current state.
func (e *Engine) Open(ctx context.Context, id string) (*model.Session, error) {
	ent, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.sess.Clone(), nil
}

// Sessions returns the open sessions, most recently updated first.
func (e *Engine) Sessions() []*model.Session {
	e.mu.Lock()
	ents := make([]*entry, 0, len(e.sessions))
	for _, ent := range e.sessions {
		ents = append(ents, ent)
	}
	e.mu.Unlock()

	out := make([]*model.Session, 0, len(ents))
	for _, ent := range ents {
		ent.mu.Lock()
		out = append(out, ent.sess.Clone())
		ent.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Snapshot returns a deep copy of an open session.
func (e *Engine) Snapshot(id string) (*model.Session, error) {
	ent, ok := e.lookup(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.sess.Clone(), nil
}

// Close stops the session's requests, saves it and drops it from memory.
func (e *Engine) Close(ctx context.Context, id string) error {
	ent, ok := e.lookup(id)
	if !ok {
		return ErrSessionNotFound
	}
	e.stopPending(ent)
	if err := e.persist(ctx, ent); err != nil {
		return err
	}

	ent.mu.Lock()
	ids := make([]string, 0, ent.sess.Len())
	for _, m := range ent.sess.Full() {
		ids = append(ids, m.ID)
	}
	ent.mu.Unlock()
	e.lifecycle.Forget(ids...)

	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
	e.logger.Debug("session closed", "session", id)
	return nil
}

// SaveDraft keeps unsent input for a session.
func (e *Engine) SaveDraft(id, text string) error {
	if e.drafts == nil {
		return nil
	}
	return e.drafts.SaveDraft(id, text)
}

// TakeDraft returns and forgets the unsent input of a session.
func (e *Engine) TakeDraft(id string) (string, bool) {
	if e.drafts == nil {
		return "", false
	}
	return e.drafts.TakeDraft(id)
}

// Shutdown stops every request, waits for their consumers to exit and saves
// the open sessions.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	n := e.StopAll()
	e.stopBase()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	e.mu.Lock()
	ents := make([]*entry, 0, len(e.sessions))
	for _, ent := range e.sessions {
		ents = append(ents, ent)
	}
	e.mu.Unlock()
	for _, ent := range ents {
		if err := e.persist(ctx, ent); err != nil {
			errs = append(errs, err)
		}
	}

	e.subMu.Lock()
	for k, ch := range e.subs {
		close(ch)
		delete(e.subs, k)
	}
	e.subMu.Unlock()

	e.logger.Info("engine stopped", "stopped_requests", n, "sessions", len(ents))
	return errors.Join(errs...)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (e *Engine) lookup(id string) (*entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.sessions[id]
	return ent, ok
}

// load returns the open entry for id, loading it from the store if needed.
func (e *Engine) load(ctx context.Context, id string) (*entry, error) {
	if ent, ok := e.lookup(id); ok {
		return ent, nil
	}
	if e.store == nil {
		return nil, ErrSessionNotFound
	}
	sess, err := e.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if ent, ok := e.sessions[id]; ok {
		return ent, nil
	}
	ent := &entry{sess: sess}
	e.sessions[id] = ent
	e.logger.Debug("session opened", "session", id, "messages", len(sess.Messages))
	return ent, nil
}

// persist saves a copy of the session taken under its lock.
func (e *Engine) persist(ctx context.Context, ent *entry) error {
	if e.store == nil {
		return nil
	}
	ent.mu.Lock()
	snap := ent.sess.Clone()
	ent.mu.Unlock()
	if err := e.store.Save(ctx, snap); err != nil {
		e.logger.Error("save session failed", "session", snap.ID, "error", err)
		return fmt.Errorf("save session %s: %w", snap.ID, err)
	}
	return nil
}

// persistAsync saves from a request goroutine, where no caller waits.
func (e *Engine) persistAsync(ent *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.persist(ctx, ent)
}

func (e *Engine) greeting(sess *model.Session) *model.Message {
	if e.cfg.Greeting == "" {
		return nil
	}
	return &model.Message{
		ID:      GreetingID,
		Role:    model.RoleAssistant,
		Content: model.Text(e.cfg.Greeting),
		Date:    sess.CreatedAt,
	}
}
