// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - HTTP + WebSocket server command.
//
// Command: serve
// Short:   Serve the chat engine over HTTP and WebSocket
//
// Examples:
//   nextchat serve                      Listen on server.addr (127.0.0.1:8787)
//   nextchat serve --addr :9000         Listen on another address
//
// The server runs with the stale-reply sweeper and a config watcher. Edits to
// log.level apply immediately; other settings take effect on restart.
package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vsare/next-chat/internal/config"
	"github.com/vsare/next-chat/internal/logging"
	"github.com/vsare/next-chat/internal/render"
	"github.com/vsare/next-chat/internal/server"
)

func newServeCommand(flags *GlobalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat engine over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, flags *GlobalFlags, addr string) error {
	a, err := newApp(flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := a.checkBackend(ctx); err != nil {
		a.logger.Warn("starting without a reachable backend")
	}

	srv := server.New(a.engine,
		server.WithConfig(server.Config{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RateLimit:      cfg.Server.RateLimit,
			RateBurst:      cfg.Server.RateBurst,
		}),
		server.WithSessions(a.stores.sessions),
		server.WithGatherer(a.registry),
		server.WithHTML(render.NewHTML()),
		server.WithLogger(a.logger),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	g.Go(func() error { return a.engine.RunSweeper(ctx) })
	g.Go(func() error {
		return config.Watch(ctx, a.cfgPath, 0, a.logger, func(next *config.Config) {
			a.level.Set(logging.ParseLevel(next.Log.Level))
			a.logger.Info("log level updated", "level", next.Log.Level)
		})
	})
	return g.Wait()
}
