// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"

	"github.com/vsare/next-chat/internal/ui/chat"
	"github.com/vsare/next-chat/internal/ui/styles"
)

// runTUI opens the full-screen chat UI. Logs go to a file because the UI owns
// the terminal.
func runTUI(ctx context.Context, flags *GlobalFlags) error {
	a, err := newApp(flags, appOptions{logToFile: true})
	if err != nil {
		return err
	}
	defer a.Close()

	_ = a.checkBackend(ctx)
	sess, err := a.session(ctx, flags.Session)
	if err != nil {
		return err
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() { _ = a.engine.RunSweeper(sweepCtx) }()

	return chat.Run(chat.Options{
		Engine:        a.engine,
		SessionID:     sess.ID,
		Theme:         styles.NewTheme(),
		Style:         a.cfg.UI.Theme,
		WordWrap:      a.cfg.UI.WordWrap,
		PreviewBubble: a.cfg.Chat.PreviewBubble,
		Context:       ctx,
		Logger:        a.logger,
	})
}
