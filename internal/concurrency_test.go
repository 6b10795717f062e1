// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package internal contains race detection tests across the chat engine.
//
// Run with: go test -race -v ./internal/...
//
// The tests drive the registry, tracker and engine from many goroutines in
// the patterns the UI and server produce: streaming replies while views are
// recomputed and users stop or resend.
package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vsare/next-chat/internal/cancel"
	"github.com/vsare/next-chat/internal/engine"
	"github.com/vsare/next-chat/internal/metrics"
	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/window"
)

// =============================================================================
// TEST CONFIGURATION
// =============================================================================

const (
	// Number of concurrent goroutines for race tests
	raceConcurrency = 50
	// Number of iterations per goroutine
	raceIterations = 20
	// Timeout for race tests
	raceTimeout = 30 * time.Second
)

// trickleBackend streams a few chunks with a short pause between them and
// stops when the request context ends.
type trickleBackend struct {
	chunks int
	delay  time.Duration
}

func (b trickleBackend) Submit(ctx context.Context, req engine.Request) (<-chan engine.Chunk, error) {
	ch := make(chan engine.Chunk)
	go func() {
		defer close(ch)
		for i := 0; i < b.chunks; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.delay):
			}
			select {
			case <-ctx.Done():
				return
			case ch <- engine.Chunk{Text: fmt.Sprintf("part %d ", i)}:
			}
		}
		select {
		case <-ctx.Done():
		case ch <- engine.Chunk{Done: true}:
		}
	}()
	return ch, nil
}

func newRaceEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(trickleBackend{chunks: 5, delay: time.Millisecond},
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func waitSettled(t *testing.T, e *engine.Engine, ids []string) {
	t.Helper()
	deadline := time.Now().Add(raceTimeout)
	for _, id := range ids {
		for e.HasPending(id) {
			if time.Now().After(deadline) {
				t.Fatalf("session %s still has pending replies", id)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// =============================================================================
// CANCEL REGISTRY
// =============================================================================

// TestConcurrency_CancelRegistry registers, stops and releases requests from
// many goroutines while StopAll runs alongside.
func TestConcurrency_CancelRegistry(t *testing.T) {
	reg := cancel.New()
	ctx, stop := context.WithTimeout(context.Background(), raceTimeout)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			conv := fmt.Sprintf("conv-%d", idx%5)
			for j := 0; j < raceIterations; j++ {
				msg := fmt.Sprintf("msg-%d-%d", idx, j)
				reqCtx, err := reg.Register(ctx, conv, msg)
				if err != nil {
					t.Errorf("Register(%s, %s): %v", conv, msg, err)
					return
				}
				_ = reg.HasPending()
				_ = reg.Pending(conv)
				if j%3 == 0 {
					reg.Stop(conv, msg)
					<-reqCtx.Done()
				}
				reg.Release(conv, msg)
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < raceIterations; j++ {
			reg.StopAll()
			time.Sleep(time.Millisecond)
		}
	}()

	wg.Wait()
	if n := reg.Len(); n != 0 {
		t.Errorf("registry holds %d entries after all releases", n)
	}
}

// =============================================================================
// METRICS TRACKER
// =============================================================================

// TestConcurrency_Tracker observes streaming content while labels are read
// and toggled.
func TestConcurrency_Tracker(t *testing.T) {
	tracker, err := metrics.NewTracker(metrics.EstimateCounter{}, 128)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := fmt.Sprintf("msg-%d", idx%10)
			start := time.Now()
			tracker.Start(id, start)
			content := ""
			for j := 0; j < raceIterations; j++ {
				content += "word "
				tracker.Observe(id, model.RoleAssistant, content, j < raceIterations-1, start.Add(time.Duration(j)*time.Millisecond))
				_ = tracker.Label(id)
				if j%5 == 0 {
					tracker.Toggle(id)
				}
			}
			if idx%7 == 0 {
				tracker.Forget(id)
			}
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// ENGINE
// =============================================================================

// TestConcurrency_EngineSubmitStop submits into several sessions at once
// while other goroutines stop replies, read snapshots and recompute views.
func TestConcurrency_EngineSubmitStop(t *testing.T) {
	e := newRaceEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	events, unsubscribe := e.Subscribe()
	defer unsubscribe()
	go func() {
		for range events {
		}
	}()

	const sessions = 5
	ids := make([]string, sessions)
	for i := range ids {
		sess, err := e.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids[i] = sess.ID
	}

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency/5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			conv := ids[idx%sessions]
			for j := 0; j < raceIterations/4; j++ {
				bot, err := e.Submit(ctx, conv, engine.Input{Text: fmt.Sprintf("question %d-%d", idx, j)})
				if err != nil {
					t.Errorf("Submit: %v", err)
					return
				}
				if j%2 == 1 {
					e.Stop(conv, bot.ID)
				}
			}
		}(i)
	}

	cfg := e.Config().Window
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(conv string) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				snap, err := e.Snapshot(conv)
				if err != nil {
					t.Errorf("Snapshot: %v", err)
					return
				}
				for _, msg := range snap.Messages {
					_, _ = e.Render(conv, msg.ID)
				}
				st := cfg.Initial(len(snap.Messages))
				if _, err := e.View(conv, st, window.Previews{}); err != nil {
					t.Errorf("View: %v", err)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(ids[i])
	}

	wg.Wait()
	waitSettled(t, e, ids)

	for _, id := range ids {
		snap, err := e.Snapshot(id)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		for _, msg := range snap.Messages {
			if msg.Streaming {
				t.Errorf("message %s still streaming after settle", msg.ID)
			}
		}
	}
}

// TestConcurrency_StopAllDuringSubmit races StopAll against new submissions.
func TestConcurrency_StopAllDuringSubmit(t *testing.T) {
	e := newRaceEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	sess, err := e.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := e.Submit(ctx, sess.ID, engine.Input{Text: fmt.Sprintf("q%d-%d", idx, j)}); err != nil {
					t.Errorf("Submit: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < raceIterations; j++ {
			e.StopAll()
			time.Sleep(time.Millisecond)
		}
	}()

	wg.Wait()
	waitSettled(t, e, []string{sess.ID})

	snap, err := e.Snapshot(sess.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := len(snap.Messages); got != 100 {
		t.Errorf("messages = %d, want 100", got)
	}
}
