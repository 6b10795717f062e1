// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vsare/next-chat/internal/engine"
	"github.com/vsare/next-chat/internal/logging"
	"github.com/vsare/next-chat/internal/render"
	"github.com/vsare/next-chat/internal/ui/styles"
	"github.com/vsare/next-chat/internal/window"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// inputHeight is the number of text rows in the input box.
	inputHeight = 3

	// Bottom thresholds in terminal rows.
	bottomThreshold       = 1
	mobileBottomThreshold = 0
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a chat Model.
type Options struct {
	Engine    *engine.Engine
	SessionID string

	// Theme defaults to styles.NewTheme().
	Theme *styles.Theme
	// Style is a glamour style name or "auto".
	Style string
	// WordWrap caps the markdown wrap width. Zero follows the terminal.
	WordWrap int
	// PreviewBubble echoes the text being typed as a preview entry.
	PreviewBubble bool

	Context context.Context
	Logger  *slog.Logger
}

// =============================================================================
// MODEL
// =============================================================================

// renderedEntry caches the styled body of one transcript entry.
type renderedEntry struct {
	text      string
	streaming bool
	width     int
	body      string
}

// anchor is the first line of an entry in the viewport content.
type anchor struct {
	id   string
	line int
}

// Model is the Bubble Tea model of the chat view.
type Model struct {
	// Engine
	engine    *engine.Engine
	sessionID string
	ctx       context.Context
	logger    *slog.Logger

	// Appearance
	theme    *styles.Theme
	style    string
	wordWrap int
	renderer *render.Terminal
	cache    map[string]renderedEntry

	// Components
	keys     KeyMap
	help     help.Model
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	// Window state
	win      window.Config
	state    window.State
	anchors  []anchor
	detector *window.ChangeDetector
	throttle *redrawThrottle

	// Engine events
	events      <-chan engine.Event
	unsubscribe func()

	// Status
	ready         bool
	width         int
	height        int
	previewBubble bool
	submitting    bool
	spinning      bool
	quitting      bool
	status        string
	lastErr       error
}

// New creates a chat model for one session. The session must already be
// open in the engine. A saved draft for the session is restored into the
// input box.
func New(opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	keys := DefaultKeyMap()

	input := textarea.New()
	input.Placeholder = "Send a message…"
	input.ShowLineNumbers = false
	input.Prompt = ""
	input.SetHeight(inputHeight)
	input.KeyMap.InsertNewline = keys.Newline
	input.Focus()

	vp := viewport.New(0, 0)
	// Keys belong to the input box; the viewport only takes the mouse wheel.
	vp.KeyMap = viewport.KeyMap{}

	win := opts.Engine.Config().Window
	win.BottomThreshold = bottomThreshold
	win.MobileBottomThreshold = mobileBottomThreshold

	events, unsubscribe := opts.Engine.Subscribe()

	m := Model{
		engine:        opts.Engine,
		sessionID:     opts.SessionID,
		ctx:           ctx,
		logger:        logger,
		theme:         theme,
		style:         opts.Style,
		wordWrap:      opts.WordWrap,
		cache:         make(map[string]renderedEntry),
		keys:          keys,
		help:          help.New(),
		viewport:      vp,
		input:         input,
		spinner:       spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.StatusPending)),
		win:           win,
		detector:      window.NewChangeDetector(),
		throttle:      newRedrawThrottle(defaultBatchSize, defaultMaxFPS),
		events:        events,
		unsubscribe:   unsubscribe,
		previewBubble: opts.PreviewBubble,
	}
	if draft, ok := opts.Engine.TakeDraft(opts.SessionID); ok {
		m.input.SetValue(draft)
	}
	m.state = m.win.Initial(m.transcript().Len())
	return m
}

// Run starts a full-screen chat program and blocks until the user quits.
func Run(opts Options) error {
	m := New(opts)
	ctx := m.ctx
	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	return err
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init starts the event pump and the cursor blink.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForEvent(m.events))
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.evaluateScroll()
		return m, cmd

	case EventMsg:
		return m.handleEvent(msg.Event)

	case eventsClosedMsg:
		m.events = nil
		return m, nil

	case frameTickMsg:
		return m.handleFrameTick(msg)

	case submittedMsg:
		m.submitting = false
		if msg.Err != nil {
			m.lastErr = msg.Err
			m.logger.Warn("submit failed", "session", m.sessionID, "error", msg.Err)
		}
		m.redraw(window.Change{Cause: window.CauseAppend, Composing: m.composing()})
		return m, nil

	case opResultMsg:
		m.status = msg.Status
		m.lastErr = msg.Err
		m.redraw(window.Change{})
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the chat interface.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Initializing…"
	}
	return m.renderChat()
}

// =============================================================================
// MESSAGE HANDLERS
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)
	m.layout()

	wrap := m.theme.ContentWidth() - 2
	if m.wordWrap > 0 && m.wordWrap < wrap {
		wrap = m.wordWrap
	}
	if m.renderer == nil || m.renderer.Width() != wrap {
		r, err := render.NewTerminal(m.style, wrap)
		if err != nil {
			m.lastErr = err
		} else {
			m.renderer = r
			clear(m.cache)
		}
	}

	m.ready = true
	m.redraw(window.Change{Cause: window.CauseAppend})
	return m, nil
}

// layout sizes the viewport to the space left by the input box, the status
// bar and the help panel.
func (m *Model) layout() {
	m.input.SetWidth(max(m.width-4, 10))
	m.help.Width = m.width

	reserved := lipgloss.Height(m.renderInput()) + lipgloss.Height(m.renderStatusBar())
	if m.help.ShowAll {
		reserved += lipgloss.Height(m.help.View(m.keys))
	}
	m.viewport.Width = max(m.width, 1)
	m.viewport.Height = max(m.height-reserved, 1)
}

func (m Model) handleEvent(ev engine.Event) (tea.Model, tea.Cmd) {
	next := waitForEvent(m.events)
	if ev.SessionID != m.sessionID || !m.ready {
		return m, next
	}

	if ev.Cause == window.CauseStream {
		if m.throttle.Mark() {
			return m, tea.Batch(next, m.throttle.frameTickCmd())
		}
		return m, next
	}

	m.redraw(ev.Change(m.composing()))
	return m, tea.Batch(next, m.startSpinner())
}

func (m Model) handleFrameTick(msg frameTickMsg) (tea.Model, tea.Cmd) {
	if m.throttle.Due(msg.Time) {
		m.redraw(window.Change{Cause: window.CauseStream, Composing: m.composing()})
	}
	if m.throttle.Tick() {
		return m, m.throttle.frameTickCmd()
	}
	return m, nil
}

// =============================================================================
// WINDOW
// =============================================================================

// composing reports whether the user is typing.
func (m Model) composing() bool {
	return m.input.Focused() && m.input.Value() != ""
}

// busy reports whether a request of this session is in flight.
func (m Model) busy() bool {
	return m.submitting || m.engine.HasPending(m.sessionID)
}

func (m *Model) startSpinner() tea.Cmd {
	if m.spinning || !m.busy() {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m Model) previews() window.Previews {
	return window.Previews{
		Loading:   m.submitting,
		Draft:     m.input.Value(),
		ShowDraft: m.previewBubble && m.composing(),
	}
}

func (m *Model) transcript() window.Transcript {
	t, err := m.engine.Transcript(m.sessionID, m.previews())
	if err != nil {
		m.lastErr = err
		return window.Transcript{ClearIndex: -1}
	}
	return t
}

// redraw applies one content change: the window follows the bottom when the
// change calls for it, then the viewport content is rebuilt.
func (m *Model) redraw(c window.Change) {
	m.throttle.Flush(time.Now())
	t := m.transcript()
	follow := m.state.ShouldAutoScroll(c)
	if follow {
		m.state = m.win.ScrollToBottom(m.state, t.Len())
	} else {
		m.state = m.win.Clamp(m.state, t.Len())
	}
	m.paint(t, follow)
}

// paint renders the current window into the viewport. Without follow, the
// first visible entry keeps its screen position across the re-render.
func (m *Model) paint(t window.Transcript, follow bool) {
	if !m.ready {
		return
	}
	v := m.win.Window(t, m.state)
	content, anchors := m.renderTranscript(v, t.Len())
	if !m.detector.Changed(content) {
		if follow {
			m.viewport.GotoBottom()
		}
		return
	}

	id, delta, ok := m.anchorAt(m.viewport.YOffset)
	m.anchors = anchors
	m.viewport.SetContent(content)
	switch {
	case follow:
		m.viewport.GotoBottom()
	case ok:
		for _, a := range anchors {
			if a.id == id {
				m.viewport.SetYOffset(a.line + delta)
				break
			}
		}
	}
}

// anchorAt returns the entry shown at line and the offset into it.
func (m *Model) anchorAt(line int) (id string, delta int, ok bool) {
	for i := len(m.anchors) - 1; i >= 0; i-- {
		if m.anchors[i].line <= line {
			return m.anchors[i].id, line - m.anchors[i].line, true
		}
	}
	return "", 0, false
}

// evaluateScroll feeds the current viewport position to the window and
// re-renders when the window moved.
func (m *Model) evaluateScroll() {
	if !m.ready {
		return
	}
	sample := &window.Sample{
		Top:     float64(m.viewport.YOffset),
		Height:  float64(m.viewport.Height),
		Content: float64(m.viewport.TotalLineCount()),
		Mobile:  m.theme.GetLayoutMode() == styles.LayoutNarrow,
	}
	t := m.transcript()
	next := m.win.Evaluate(sample, m.state, t.Len())
	moved := next.RenderIndex != m.state.RenderIndex
	m.state = next
	if moved {
		m.paint(t, false)
	}
}
