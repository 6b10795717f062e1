// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation and draft persistence for next-chat.
//
// Conversations are stored as one JSON file each:
//
//	~/.nextchat/conversations/<id>.json
//
// Writes go through util.AtomicWriteFile so a crash leaves either the old or
// the new file. Preview entries are never persisted.
//
// Drafts of unsent input live next to them:
//
//	~/.nextchat/drafts/<id>.draft
package storage
