// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vsare/next-chat/internal/util"
)

// DraftStore keeps the unsent input of each conversation in a small file so
// it can be restored when the conversation is opened again.
type DraftStore struct {
	dir string
}

// NewDraftStore creates a store under dir.
func NewDraftStore(dir string) (*DraftStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create draft directory: %w", err)
	}
	return &DraftStore{dir: dir}, nil
}

// SaveDraft stores text as the draft of conversation id. Blank text removes
// the draft.
func (d *DraftStore) SaveDraft(id, text string) error {
	path, err := d.path(id)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return util.AtomicWriteFileWithDir(path, []byte(text), 0o600, 0o700)
}

// TakeDraft returns and removes the draft of conversation id.
func (d *DraftStore) TakeDraft(id string) (string, bool) {
	path, err := d.path(id)
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	_ = os.Remove(path)
	return string(data), len(data) > 0
}

func (d *DraftStore) path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(d.dir, id+".draft"), nil
}
