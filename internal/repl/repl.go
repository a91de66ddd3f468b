// Package repl implements the interactive console of the lang2file CLI.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/lang2file"
	"github.com/hupe1980/lang2file/core"
)

// Service is the pipeline surface the console needs.
type Service interface {
	ChatSessionStream(ctx context.Context, sessionID, input string) (*lang2file.Stream, error)
	History(ctx context.Context, sessionID string) ([]core.Message, error)
	Reset(ctx context.Context, sessionID string) error
}

const helpText = `Commands:
  /help    - show this help
  /clear   - clear the screen
  /history - show the conversation of this session
  /reset   - forget the conversation of this session
  exit     - quit (also: quit)
`

// Repl reads requests line by line and streams the answers. All turns share
// one conversation session.
type Repl struct {
	svc       Service
	in        *bufio.Scanner
	out       io.Writer
	errOut    io.Writer
	sessionID string
}

// New creates a console bound to a fresh session.
func New(svc Service, in io.Reader, out, errOut io.Writer) *Repl {
	return &Repl{
		svc:       svc,
		in:        bufio.NewScanner(in),
		out:       out,
		errOut:    errOut,
		sessionID: core.NewSessionID(),
	}
}

// SessionID returns the session all turns are bound to.
func (r *Repl) SessionID() string { return r.sessionID }

// Run loops until exit, EOF or ctx cancellation.
func (r *Repl) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "lang2file file assistant | type 'exit' or 'quit' to leave")
	fmt.Fprintln(r.out, "hint: type '/help' for commands")

	for {
		if err := ctx.Err(); err != nil {
			fmt.Fprintln(r.out, "\nbye!")
			return nil
		}

		fmt.Fprint(r.out, "> ")

		if !r.in.Scan() {
			if err := r.in.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(r.out, "\nEOF received, bye!")
			return nil
		}

		input := strings.TrimSpace(r.in.Text())
		if input == "" {
			continue
		}

		stop, handled := r.command(ctx, input)
		if stop {
			fmt.Fprintln(r.out, "bye!")
			return nil
		}
		if handled {
			continue
		}

		if err := r.turn(ctx, input); err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
		}
	}
}

// command handles console commands. It reports whether the loop should stop
// and whether input was a command.
func (r *Repl) command(ctx context.Context, input string) (stop, handled bool) {
	switch strings.ToLower(input) {
	case "/help", "help", "?", "-h":
		fmt.Fprint(r.out, helpText)
	case "/clear":
		fmt.Fprint(r.out, "\033[H\033[2J")
	case "/history":
		r.history(ctx)
	case "/reset":
		if err := r.svc.Reset(ctx, r.sessionID); err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
		} else {
			fmt.Fprintln(r.out, "conversation cleared")
		}
	case "exit", "quit":
		return true, true
	default:
		return false, false
	}
	return false, true
}

func (r *Repl) history(ctx context.Context) {
	msgs, err := r.svc.History(ctx, r.sessionID)
	if err != nil {
		fmt.Fprintf(r.errOut, "error: %v\n", err)
		return
	}

	if len(msgs) == 0 {
		fmt.Fprintln(r.out, "no history yet")
		return
	}

	for _, m := range msgs {
		fmt.Fprintf(r.out, "[%s] %s\n", m.Role, m.Content)
	}
}

// turn streams one answer to out.
func (r *Repl) turn(ctx context.Context, input string) error {
	stream, err := r.svc.ChatSessionStream(ctx, r.sessionID, input)
	if err != nil {
		return err
	}

	for fragment := range stream.Fragments {
		fmt.Fprint(r.out, fragment)
	}
	fmt.Fprintln(r.out)

	return <-stream.Err
}
