// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vsare/next-chat/internal/engine"
	"github.com/vsare/next-chat/internal/logging"
	"github.com/vsare/next-chat/internal/render"
	"github.com/vsare/next-chat/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize bounds JSON request bodies (8MB, room for images).
	MaxRequestBodySize = 8 << 20

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// Version is the API version reported by /healthz.
	Version = "1.0.0"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config contains the HTTP server settings.
type Config struct {
	Addr           string
	AllowedOrigins []string
	// RateLimit is requests per second per client IP. 0 disables.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns a loopback-only configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           DefaultAddr,
		AllowedOrigins: DefaultCORSConfig().AllowedOrigins,
		RateLimit:      20,
		RateBurst:      40,
	}
}

// Sessions is the stored-session index behind the session list.
type Sessions interface {
	List(ctx context.Context) ([]storage.ConversationMeta, error)
	Search(ctx context.Context, query string) ([]storage.ConversationMeta, error)
	Delete(ctx context.Context, id string) error
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes an engine over HTTP and WebSocket.
type Server struct {
	cfg      Config
	engine   *engine.Engine
	sessions Sessions
	html     *render.HTML
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	router   chi.Router
	upgrader websocket.Upgrader
	cors     *CORSConfig
	limiter  *RateLimiter
	started  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithConfig sets the server configuration.
func WithConfig(cfg Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithSessions sets the stored-session index. Without it only open sessions
// are listed.
func WithSessions(store Sessions) Option {
	return func(s *Server) { s.sessions = store }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHTML sets the HTML renderer.
func WithHTML(h *render.HTML) Option {
	return func(s *Server) { s.html = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server for eng.
func New(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		cfg:      DefaultConfig(),
		engine:   eng,
		gatherer: prometheus.DefaultGatherer,
		logger:   logging.Discard(),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.html == nil {
		s.html = render.NewHTML()
	}

	s.cors = DefaultCORSConfig()
	if len(s.cfg.AllowedOrigins) > 0 {
		s.cors.AllowedOrigins = s.cfg.AllowedOrigins
	}
	if s.cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.cors.isOriginAllowed(origin)
		},
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(LoggingMiddleware(s.logger))
	r.Use(SecurityHeadersMiddleware())
	r.Use(CORSMiddleware(s.cors))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws", s.handleEvents)

	r.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(RateLimitMiddleware(s.limiter, s.logger))
		}

		r.Post("/stop-all", s.handleStopAll)
		r.Get("/pending", s.handlePending)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Use(s.openSession)
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Get("/pending", s.handlePending)
				r.Post("/clear-context", s.handleClearContext)
				r.Post("/window", s.handleWindow)
				r.Get("/draft", s.handleTakeDraft)
				r.Put("/draft", s.handleSaveDraft)

				r.Post("/messages", s.handleSubmit)
				r.Route("/messages/{messageID}", func(r chi.Router) {
					r.Put("/", s.handleEdit)
					r.Delete("/", s.handleDeleteMessage)
					r.Post("/stop", s.handleStop)
					r.Post("/resend", s.handleResend)
					r.Post("/pin", s.handlePin)
					r.Get("/html", s.handleHTML)
					r.Get("/attachments/{index}", s.handleAttachment)
					r.Get("/metrics", s.handleMetrics)
					r.Post("/metrics/toggle", s.handleToggleMetric)
				})
			})
		})
	})
	return r
}

// openSession loads the addressed session into the engine before the
// handler runs.
func (s *Server) openSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.engine.Open(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", "addr", addr, "version", Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
