// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of records kept in memory.
const DefaultCacheSize = 4096

// Record holds the derived metrics of one message.
type Record struct {
	MessageID  string
	TokenCount int
	// RequestStart is when the request producing the message began.
	RequestStart time.Time
	// FirstCharDelay is set once, on the first content-bearing update.
	FirstCharDelay time.Duration
	HasDelay       bool
}

// Store keeps records by message id.
type Store interface {
	Get(ctx context.Context, id string) (Record, bool, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, ids ...string) error
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore is a size-bounded LRU store. Evicted records are recomputed
// from content except for the first-char delay, which is then lost; use a
// persistent store where that matters.
type MemoryStore struct {
	cache *lru.Cache[string, Record]
}

// NewMemoryStore creates a store holding at most size records.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Record](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: cache}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Record, bool, error) {
	rec, ok := s.cache.Get(id)
	return rec, ok, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.cache.Add(rec.MessageID, rec)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, ids ...string) error {
	for _, id := range ids {
		s.cache.Remove(id)
	}
	return nil
}

// Len returns the number of cached records.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
