// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const metricsSchema = `
CREATE TABLE IF NOT EXISTS message_metrics (
	message_id          TEXT PRIMARY KEY,
	token_count         INTEGER NOT NULL DEFAULT 0,
	request_start_ms    INTEGER,
	first_char_delay_ms INTEGER,
	updated_at          INTEGER NOT NULL
)`

// The delay and start columns are write-once: an existing value wins.
const upsertRecord = `
INSERT INTO message_metrics (message_id, token_count, request_start_ms, first_char_delay_ms, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(message_id) DO UPDATE SET
	token_count         = excluded.token_count,
	request_start_ms    = COALESCE(message_metrics.request_start_ms, excluded.request_start_ms),
	first_char_delay_ms = COALESCE(message_metrics.first_char_delay_ms, excluded.first_char_delay_ms),
	updated_at          = excluded.updated_at`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore persists records in a SQLite database so first-token latency
// survives process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(metricsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, bool, error) {
	var (
		tokens  int
		startMs sql.NullInt64
		delayMs sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token_count, request_start_ms, first_char_delay_ms FROM message_metrics WHERE message_id = ?`, id).
		Scan(&tokens, &startMs, &delayMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("query metrics %s: %w", id, err)
	}

	rec := Record{MessageID: id, TokenCount: tokens}
	if startMs.Valid {
		rec.RequestStart = time.UnixMilli(startMs.Int64)
	}
	if delayMs.Valid {
		rec.FirstCharDelay = time.Duration(delayMs.Int64) * time.Millisecond
		rec.HasDelay = true
	}
	return rec, true, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	var startMs, delayMs sql.NullInt64
	if !rec.RequestStart.IsZero() {
		startMs = sql.NullInt64{Int64: rec.RequestStart.UnixMilli(), Valid: true}
	}
	if rec.HasDelay {
		delayMs = sql.NullInt64{Int64: rec.FirstCharDelay.Milliseconds(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, upsertRecord,
		rec.MessageID, rec.TokenCount, startMs, delayMs, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store metrics %s: %w", rec.MessageID, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM message_metrics WHERE message_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete metrics: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
