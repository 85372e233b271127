// Package console is a line-oriented transport for the orchestrator. It is
// what operators use to talk to the bot locally, one user id per process.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"storybot/internal/logging"
	"storybot/internal/session"
)

// Handler is the part of the orchestrator the console drives.
type Handler interface {
	HandleText(ctx context.Context, userID int64, text string) session.Reply
}

// Local commands handled by the console itself.
const (
	metaQuit = "/quit"
	metaExit = "/exit"
	metaHelp = "/help"
)

// Options configures a REPL.
type Options struct {
	In     io.Reader
	Out    io.Writer
	UserID int64
	// Prompt is printed before each line; empty means "> ".
	Prompt string
}

// REPL reads lines, forwards them to a Handler and renders the replies.
type REPL struct {
	handler Handler
	in      io.Reader
	out     io.Writer
	userID  int64
	prompt  string
	styles  Styles
	log     *logging.Logger
}

// New creates a REPL.
func New(h Handler, o Options) *REPL {
	prompt := o.Prompt
	if prompt == "" {
		prompt = "> "
	}
	return &REPL{
		handler: h,
		in:      o.In,
		out:     o.Out,
		userID:  o.UserID,
		prompt:  prompt,
		styles:  NewStyles(o.Out),
		log:     logging.Get(logging.CategoryConsole),
	}
}

// Run serves lines until input ends, a quit command is read or ctx is
// cancelled. It returns nil in all three cases.
func (r *REPL) Run(ctx context.Context) error {
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines, readErr := r.readLines(readCtx)

	r.log.Info("Console started for user=%d", r.userID)
	fmt.Fprintln(r.out, r.styles.Muted.Render(
		fmt.Sprintf("storybot console, user %d. %s lists commands, %s leaves.", r.userID, metaHelp, metaQuit)))

	for {
		fmt.Fprint(r.out, r.styles.Prompt.Render(r.prompt))

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			r.log.Info("Console stopped: %v", ctx.Err())
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				if err := <-readErr; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				r.log.Info("Console input closed")
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case metaQuit, metaExit:
			r.log.Info("Console quit by user=%d", r.userID)
			return nil
		case metaHelp:
			r.renderHelp()
			continue
		}

		timer := logging.StartTimer(logging.CategoryConsole, "HandleText")
		reply := r.handler.HandleText(ctx, r.userID, line)
		timer.Stop()

		if reply.Err != nil {
			r.log.Warn("user=%d outcome=%s: %v", r.userID, reply.Outcome, reply.Err)
		} else {
			r.log.Debug("user=%d outcome=%s", r.userID, reply.Outcome)
		}
		r.Render(reply)
	}
}

// readLines scans r.in on its own goroutine so that Run can return on
// cancellation while a read is blocked. The error channel carries the
// scanner error once lines is closed.
//
// A goroutine blocked in Scan cannot be interrupted: after cancellation it
// exits only when r.in returns (EOF, error or one more line). For os.Stdin
// that means it lives until the process exits; callers that need a clean
// shutdown should pass a reader they can close.
func (r *REPL) readLines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(lines)

		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	return lines, errc
}

// Render writes one reply: the text, any attachment, then the suggested
// actions as a row of badges.
func (r *REPL) Render(reply session.Reply) {
	if reply.Text != "" {
		fmt.Fprintln(r.out, r.textStyle(reply.Outcome).Render(reply.Text))
	}
	if reply.Attachment != "" {
		fmt.Fprintln(r.out, "attachment: "+r.styles.Attachment.Render(reply.Attachment))
	}
	if len(reply.Actions) > 0 {
		badges := make([]string, 0, len(reply.Actions))
		for _, a := range reply.Actions {
			badges = append(badges, r.styles.Badge.Render(a))
		}
		fmt.Fprintln(r.out, lipgloss.JoinHorizontal(lipgloss.Center, badges...))
	}
}

func (r *REPL) textStyle(o session.Outcome) lipgloss.Style {
	switch o {
	case session.OutcomeOK:
		return r.styles.Reply
	case session.OutcomeBackendError, session.OutcomeStorageError:
		return r.styles.Error
	default:
		return r.styles.Warning
	}
}

func (r *REPL) renderHelp() {
	var b strings.Builder
	for _, c := range session.Commands() {
		b.WriteString(c.Label())
		b.WriteString("\n")
	}
	b.WriteString(metaHelp + "\n")
	b.WriteString(metaQuit)
	fmt.Fprintln(r.out, r.styles.Muted.Render(b.String()))
}
