// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wiring shared by the TUI, chat and serve commands.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vsare/next-chat/internal/config"
	"github.com/vsare/next-chat/internal/engine"
	"github.com/vsare/next-chat/internal/logging"
	"github.com/vsare/next-chat/internal/metrics"
	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/ollama"
	"github.com/vsare/next-chat/internal/storage"
	"github.com/vsare/next-chat/internal/window"
)

// Data directory layout.
const (
	conversationsDir = "conversations"
	draftsDir        = "drafts"
	metricsDB        = "metrics.db"
	logFileName      = "nextchat.log"
	historyFileName  = "chat_history"
)

// =============================================================================
// CONFIG
// =============================================================================

// loadConfig reads the config file named by flags (or the default path) and
// applies flag overrides.
func loadConfig(flags *GlobalFlags) (*config.Config, string, error) {
	path := flags.ConfigPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, path, err
	}
	if flags.Model != "" {
		cfg.Backend.Model = flags.Model
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	config.SetGlobal(cfg)
	return cfg, path, nil
}

// engineConfig maps the [chat] section onto the engine settings.
func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.Model = cfg.Backend.Model
	ec.RequestTimeout = cfg.Chat.RequestTimeout()
	ec.SweepInterval = cfg.Chat.SweepInterval()
	ec.LongTextThreshold = cfg.Chat.LongTextThreshold
	ec.Greeting = cfg.Chat.Greeting
	ec.Window = window.Config{
		PageSize:              cfg.Chat.PageSize,
		BottomThreshold:       float64(cfg.Chat.BottomThreshold),
		MobileBottomThreshold: float64(cfg.Chat.MobileBottomThreshold),
	}
	return ec
}

// =============================================================================
// STORES
// =============================================================================

// stores are the on-disk state under the data directory.
type stores struct {
	dir      string
	sessions *storage.SessionStore
	drafts   *storage.DraftStore
}

func openStores(cfg *config.Config) (*stores, error) {
	dir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	sessions, err := storage.NewSessionStore(filepath.Join(dir, conversationsDir), cfg.Storage.MaxConversations)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	drafts, err := storage.NewDraftStore(filepath.Join(dir, draftsDir))
	if err != nil {
		return nil, fmt.Errorf("open draft store: %w", err)
	}
	return &stores{dir: dir, sessions: sessions, drafts: drafts}, nil
}

// =============================================================================
// APP
// =============================================================================

// appOptions tune newApp per command.
type appOptions struct {
	// logToFile sends logs to log.file instead of logOutput; the TUI owns
	// the terminal.
	logToFile bool
	// logOutput receives logs when logToFile is false. Nil means stderr.
	logOutput io.Writer
	// backend replaces the Ollama transport.
	backend engine.Backend
}

// app is a fully wired engine with its stores, logger and metrics.
type app struct {
	cfg      *config.Config
	cfgPath  string
	logger   *slog.Logger
	level    *slog.LevelVar
	client   *ollama.Client
	engine   *engine.Engine
	stores   *stores
	registry *prometheus.Registry

	closers []io.Closer
}

func newApp(flags *GlobalFlags, opts appOptions) (*app, error) {
	cfg, path, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	st, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, cfgPath: path, stores: st, level: new(slog.LevelVar)}
	logOpts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: opts.logOutput, LevelVar: a.level}
	if opts.logToFile {
		file := cfg.Log.File
		if file == "" {
			file = filepath.Join(st.dir, logFileName)
		}
		logger, closer, err := logging.OpenFile(file, logOpts)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logger = logger
		a.closers = append(a.closers, closer)
	} else {
		a.logger = logging.New(logOpts)
	}
	slog.SetDefault(a.logger)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(a.registry)

	trackerOpts := []metrics.TrackerOption{
		metrics.WithDefaultMode(metrics.ParseMode(cfg.Metrics.Display)),
		metrics.WithCollector(collector),
		metrics.WithTrackerLogger(a.logger),
	}
	if cfg.Metrics.Persist {
		db, err := metrics.OpenSQLiteStore(filepath.Join(st.dir, metricsDB))
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("open metrics store: %w", err)
		}
		a.closers = append(a.closers, db)
		trackerOpts = append(trackerOpts, metrics.WithStore(db))
	}
	tracker, err := metrics.NewTracker(metrics.NewCounter(cfg.Metrics.Encoding, a.logger), cfg.Metrics.CacheSize, trackerOpts...)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	backend := opts.backend
	if backend == nil {
		a.client = ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL:           cfg.Backend.URL,
			ConnectTimeout:    time.Duration(cfg.Backend.ConnectTimeoutSecs) * time.Second,
			StreamIdleTimeout: time.Duration(cfg.Backend.StreamIdleSecs) * time.Second,
			DefaultModel:      cfg.Backend.Model,
		})
		backend = ollama.NewTransport(a.client, a.logger)
	}

	a.engine, err = engine.New(backend,
		engine.WithConfig(engineConfig(cfg)),
		engine.WithStore(st.sessions),
		engine.WithDrafts(st.drafts),
		engine.WithLogger(a.logger),
		engine.WithTracker(tracker),
		engine.WithCollector(collector),
	)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

// checkBackend warns when Ollama is not reachable. Requests still fail
// individually with a diagnostic, so this is advisory.
func (a *app) checkBackend(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.client.CheckRunning(ctx); err != nil {
		a.logger.Warn("backend not reachable", "url", a.cfg.Backend.URL, "error", err)
		return err
	}
	return nil
}

// session opens the stored session id, or creates a new one when id is empty.
func (a *app) session(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return a.engine.Create(ctx)
	}
	sess, err := a.engine.Open(ctx, id)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, engine.ErrSessionNotFound) {
		return nil, &NotFoundError{Resource: "session", ID: id}
	}
	return sess, err
}

// Close stops in-flight replies, saves open sessions and releases resources.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.engine.Shutdown(ctx)
	return errors.Join(err, a.closeAll())
}

func (a *app) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
