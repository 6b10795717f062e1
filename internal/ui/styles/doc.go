// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the palette and lipgloss styles of the terminal
surfaces.

All colors are lipgloss.AdaptiveColor values, so light and dark terminals are
handled without configuration. Theme groups the styles of the chat transcript:
message bubbles per role and state, the clear-context divider, preview entries,
the status bar and the input area.

	theme := styles.NewTheme()
	theme.SetSize(width, height)
	fmt.Println(theme.BubbleFor(msg.Role, state).Render(body))
*/
package styles
