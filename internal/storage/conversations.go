// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist.
	// It matches fs.ErrNotExist.
	ErrConversationNotFound = fmt.Errorf("storage: conversation not found: %w", fs.ErrNotExist)
	// ErrInvalidID is returned for ids that cannot name a file.
	ErrInvalidID = errors.New("storage: invalid id")
)

// =============================================================================
// CONVERSATION META
// =============================================================================

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	// Preview is the first user message, truncated.
	Preview string `json:"preview"`
}

// =============================================================================
// SESSION STORE
// =============================================================================

// SessionStore persists one JSON file per session.
type SessionStore struct {
	// BaseDir is the directory for storing conversations.
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited).
	MaxConversations int
}

// NewSessionStore creates a store under dir, creating it if needed.
func NewSessionStore(dir string, maxConversations int) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %w", err)
	}
	return &SessionStore{BaseDir: dir, MaxConversations: maxConversations}, nil
}

// Save persists a session atomically. Preview entries are refused.
func (s *SessionStore) Save(ctx context.Context, sess *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.filePath(sess.ID)
	if err != nil {
		return err
	}
	for _, m := range sess.Full() {
		if m.Preview {
			return model.ErrPreview
		}
	}
	if err := util.WriteJSON(path, sess, 0o600); err != nil {
		return fmt.Errorf("save conversation %s: %w", sess.ID, err)
	}
	if s.MaxConversations > 0 {
		s.enforceLimit(ctx, sess.ID)
	}
	return nil
}

// Load retrieves a session by ID.
func (s *SessionStore) Load(ctx context.Context, id string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.filePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if sess.Messages == nil {
		sess.Messages = make([]*model.Message, 0)
	}
	return &sess, nil
}

// List returns all saved conversations, most recent first. Corrupted files
// are skipped.
func (s *SessionStore) List(ctx context.Context) ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []ConversationMeta{}, nil
		}
		return nil, err
	}

	metas := make([]ConversationMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sess, err := s.Load(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		metas = append(metas, metaOf(sess))
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Search finds conversations whose topic or any message contains query,
// case-insensitively.
func (s *SessionStore) Search(ctx context.Context, query string) ([]ConversationMeta, error) {
	all, err := s.List(ctx)
	if err != nil || query == "" {
		return all, err
	}
	query = strings.ToLower(query)
	var results []ConversationMeta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Topic), query) {
			results = append(results, meta)
			continue
		}
		sess, err := s.Load(ctx, meta.ID)
		if err != nil {
			continue
		}
		for _, msg := range sess.Full() {
			if strings.Contains(strings.ToLower(msg.Text()), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

// Delete removes a conversation by ID.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.filePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// enforceLimit removes the oldest conversations beyond the limit, never the
// one just saved.
func (s *SessionStore) enforceLimit(ctx context.Context, keep string) {
	metas, err := s.List(ctx)
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}
	for _, meta := range metas[s.MaxConversations:] {
		if meta.ID != keep {
			_ = s.Delete(ctx, meta.ID)
		}
	}
}

func (s *SessionStore) filePath(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.BaseDir, id+".json"), nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func metaOf(sess *model.Session) ConversationMeta {
	meta := ConversationMeta{
		ID:           sess.ID,
		Topic:        sess.Topic,
		Model:        sess.Model,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		MessageCount: len(sess.Messages),
	}
	for _, msg := range sess.Messages {
		if msg.Role == model.RoleUser {
			meta.Preview = msg.Summary(80)
			break
		}
	}
	return meta
}

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatSessionList formats sessions as a table of ID, update time, message
// count and topic.
func FormatSessionList(sessions []ConversationMeta) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	var sb strings.Builder
	rule := strings.Repeat("-", 72) + "\n"
	sb.WriteString(rule)
	sb.WriteString(util.PadRight("ID", 12) + " " + util.PadRight("Updated", 17) + " " +
		util.PadRight("Msgs", 5) + " Topic\n")
	sb.WriteString(rule)
	for _, s := range sessions {
		sb.WriteString(util.PadRight(util.TruncateRunes(s.ID, 12), 12) + " " +
			util.PadRight(s.UpdatedAt.Format("2006-01-02 15:04"), 17) + " " +
			util.PadRight(fmt.Sprint(s.MessageCount), 5) + " " +
			util.TruncateWidth(s.Topic, 34) + "\n")
	}
	return sb.String()
}
