// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Line-based chat REPL for nextchat.
//
// Command: chat
// Short:   Chat in a line-based REPL
//
// Examples:
//   nextchat chat                      New session with the default model
//   nextchat chat --model llama3.2     Use a specific model
//   nextchat chat --session <id>       Resume a stored session
//   echo "hi" | nextchat chat          Non-interactive, one reply per line
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /show               Render the last reply as formatted markdown
//   /resend, /r         Regenerate the last reply
//   /pin                Pin the last reply into the session context
//   /clear, /c          Toggle the clear-context marker
//   /metric, /m         Toggle the last reply's metric (tokens / first token)
//   /session            Show the session id
//   /quit, /q           Exit chat
//   Ctrl+C              Stop the current reply
//   Ctrl+D              Exit chat
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/vsare/next-chat/internal/engine"
	"github.com/vsare/next-chat/internal/model"
	"github.com/vsare/next-chat/internal/render"
)

// settlePollInterval bounds how long a missed final event delays the prompt.
const settlePollInterval = 500 * time.Millisecond

func newChatCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in a line-based REPL",
		Long: `Chat in a line-based REPL. Replies stream as plain text; /show renders the
last reply as formatted markdown. Type /help for the REPL commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), flags, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&flags.Session, "session", "s", "", "resume a stored session by id")
	return cmd
}

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of input per call. io.EOF ends the REPL.
type lineReader interface {
	ReadInput(prompt string) (string, error)
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history persists in historyFile.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput reads a line with history navigation. Ctrl+C on an empty prompt
// is reported as io.EOF.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (c *ChatCLI) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// scanReader reads lines from a non-terminal input.
type scanReader struct {
	sc *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &scanReader{sc: sc}
}

func (s *scanReader) ReadInput(string) (string, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

// =============================================================================
// REPL
// =============================================================================

func runChat(ctx context.Context, flags *GlobalFlags, stdin io.Reader, stdout io.Writer) error {
	a, err := newApp(flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	var in lineReader
	interactive := IsTTY() && stdin == os.Stdin
	if interactive {
		cli := NewChatCLI(filepath.Join(a.stores.dir, historyFileName))
		defer cli.Close()
		in = cli
	} else {
		in = newScanReader(stdin)
	}

	sess, err := a.session(ctx, flags.Session)
	if err != nil {
		return err
	}
	renderer, err := render.NewTerminal(a.cfg.UI.Theme, min(GetTerminalWidth(), wrapWidth(a.cfg.UI.WordWrap)))
	if err != nil {
		return err
	}

	r := &chatREPL{
		engine:      a.engine,
		sessionID:   sess.ID,
		in:          in,
		out:         stdout,
		renderer:    renderer,
		interactive: interactive,
	}
	if interactive {
		if err := a.checkBackend(ctx); err != nil {
			fmt.Fprintln(stdout, RenderConditional(WarningStyle, "Backend not reachable at "+a.cfg.Backend.URL+"; replies will fail until it is up."))
		}
		r.banner(a.cfg.Backend.Model)
	}
	return r.run(ctx)
}

func wrapWidth(w int) int {
	if w <= 0 {
		return render.DefaultWordWrap
	}
	return w
}

// chatREPL drives one session from a lineReader.
type chatREPL struct {
	engine      *engine.Engine
	sessionID   string
	in          lineReader
	out         io.Writer
	renderer    *render.Terminal
	interactive bool

	lastReply string
}

func (r *chatREPL) banner(modelName string) {
	fmt.Fprintln(r.out, RenderConditional(TitleStyle, "nextchat "+Version))
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Model:"), modelName)
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Session:"), r.sessionID)
	fmt.Fprintln(r.out, RenderConditional(DimStyle, "Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(r.out, RenderSeparator(GetTerminalWidth()-4))
}

func (r *chatREPL) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		prompt := ""
		if r.interactive {
			prompt = "you> "
		}
		line, err := r.in.ReadInput(prompt)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintf(r.out, "%s %v\n", RenderConditional(ErrorStyle, "[ERROR]"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		reply, err := r.send(ctx, func() (*model.Message, error) {
			return r.engine.Submit(ctx, r.sessionID, engine.Input{Text: line})
		})
		if err != nil {
			fmt.Fprintf(r.out, "%s %v\n", RenderConditional(ErrorStyle, "[ERROR]"), err)
			continue
		}
		r.lastReply = reply
	}
}

// command handles one slash command. Reports whether the REPL should exit.
func (r *chatREPL) command(ctx context.Context, line string) (bool, error) {
	name, _, _ := strings.Cut(line, " ")
	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return true, nil
	case "/help", "/h":
		r.help()
	case "/session":
		fmt.Fprintln(r.out, r.sessionID)
	case "/clear", "/c":
		cleared, err := r.engine.ClearContext(ctx, r.sessionID)
		if err != nil {
			return false, err
		}
		if cleared {
			fmt.Fprintln(r.out, RenderConditional(DimStyle, "── context cleared ──"))
		} else {
			fmt.Fprintln(r.out, RenderConditional(DimStyle, "── context restored ──"))
		}
	case "/show":
		if r.lastReply == "" {
			return false, errors.New("no reply yet")
		}
		out, err := r.engine.Render(r.sessionID, r.lastReply)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, r.renderer.Render(out))
	case "/resend", "/r":
		if r.lastReply == "" {
			return false, errors.New("no reply yet")
		}
		target := r.lastReply
		reply, err := r.send(ctx, func() (*model.Message, error) {
			return r.engine.Resend(ctx, r.sessionID, target)
		})
		if err != nil {
			return false, err
		}
		r.lastReply = reply
	case "/pin":
		if r.lastReply == "" {
			return false, errors.New("no reply yet")
		}
		if _, err := r.engine.Pin(ctx, r.sessionID, r.lastReply); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "Pinned to context."))
	case "/metric", "/m":
		if r.lastReply == "" {
			return false, errors.New("no reply yet")
		}
		fmt.Fprintln(r.out, RenderConditional(DimStyle, r.engine.ToggleMetric(r.lastReply).Label))
	default:
		return false, &UsageError{Reason: "unknown command " + name, Example: "/help"}
	}
	return false, nil
}

func (r *chatREPL) help() {
	rows := [][2]string{
		{"/show", "Render the last reply as formatted markdown"},
		{"/resend, /r", "Regenerate the last reply"},
		{"/pin", "Pin the last reply into the session context"},
		{"/clear, /c", "Toggle the clear-context marker"},
		{"/metric, /m", "Toggle the last reply's metric"},
		{"/session", "Show the session id"},
		{"/quit, /q", "Exit chat"},
	}
	for _, row := range rows {
		fmt.Fprintf(r.out, "  %s %s\n", RenderLabel(row[0]), row[1])
	}
}

// send starts a reply with start and streams it to out until it settles.
// Ctrl+C stops the reply and keeps the partial text. Returns the reply id.
func (r *chatREPL) send(ctx context.Context, start func() (*model.Message, error)) (string, error) {
	events, unsubscribe := r.engine.Subscribe()
	defer unsubscribe()

	reply, err := start()
	if err != nil {
		return "", err
	}

	interrupt, stopInterrupt := signal.NotifyContext(ctx, os.Interrupt)
	defer stopInterrupt()

	// Events are dropped for slow subscribers; poll as a fallback.
	poll := time.NewTicker(settlePollInterval)
	defer poll.Stop()

	if r.interactive {
		fmt.Fprint(r.out, RenderConditional(AssistantStyle, "assistant> "))
	}
	printed := ""
	for {
		select {
		case <-interrupt.Done():
			r.engine.Stop(r.sessionID, reply.ID)
			// Keep draining until the stop settles the reply.
			interrupt = context.Background()
		case <-poll.C:
			msg := r.settled(reply.ID)
			if msg == nil {
				continue
			}
			r.printDelta(printed, msg)
			r.finish(msg)
			return reply.ID, nil
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintln(r.out)
				return reply.ID, nil
			}
			if ev.SessionID != r.sessionID || ev.MessageID != reply.ID || ev.Message == nil {
				continue
			}
			printed = r.printDelta(printed, ev.Message)
			if !ev.Message.Streaming {
				r.finish(ev.Message)
				return reply.ID, nil
			}
		}
	}
}

// settled returns the reply once it no longer streams.
func (r *chatREPL) settled(id string) *model.Message {
	if r.engine.HasPending(r.sessionID) {
		return nil
	}
	snap, err := r.engine.Snapshot(r.sessionID)
	if err != nil {
		return nil
	}
	msg := snap.Find(id)
	if msg == nil || msg.Streaming {
		return nil
	}
	return msg
}

// printDelta writes the part of msg not printed yet and returns the new
// printed text. A reply that failed after streaming is rewritten, so its
// tail is printed on a new line.
func (r *chatREPL) printDelta(printed string, msg *model.Message) string {
	text := msg.Text()
	if strings.HasPrefix(text, printed) {
		fmt.Fprint(r.out, text[len(printed):])
		return text
	}
	fmt.Fprint(r.out, "\n"+text)
	return text
}

func (r *chatREPL) finish(msg *model.Message) {
	fmt.Fprintln(r.out)
	if msg.IsError {
		fmt.Fprintln(r.out, RenderConditional(ErrorStyle, "[reply failed]"))
		return
	}
	if label := r.engine.Metrics(msg.ID).Label; label != "" && r.interactive {
		fmt.Fprintln(r.out, RenderConditional(DimStyle, label))
	}
}
