package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rbright/intervue/internal/session"
)

// Command is one console directive.
type Command string

const (
	CommandAnswer  Command = "answer"
	CommandRecord  Command = ":record"
	CommandStop    Command = ":stop"
	CommandSubmit  Command = ":submit"
	CommandEnd     Command = ":end"
	CommandReplay  Command = ":replay"
	CommandRefresh Command = ":refresh"
	CommandHelp    Command = ":help"
)

var directives = map[Command]struct{}{
	CommandRecord:  {},
	CommandStop:    {},
	CommandSubmit:  {},
	CommandEnd:     {},
	CommandReplay:  {},
	CommandRefresh: {},
	CommandHelp:    {},
}

// Session is the controller surface driven from the console.
type Session interface {
	ToggleRecording(context.Context) error
	StopRecording(context.Context) (bool, error)
	Submit(context.Context) error
	End(context.Context) error
	Replay(context.Context) error
	Refresh(context.Context) error
	SetAnswer(context.Context, string) error
}

// ParseLine classifies one input line. Lines that are not directives
// replace the answer draft.
func ParseLine(line string) (Command, string, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", "", nil
	}
	if strings.HasPrefix(trimmed, ":") {
		cmd := Command(strings.ToLower(strings.Fields(trimmed)[0]))
		if _, ok := directives[cmd]; !ok {
			return "", "", fmt.Errorf("unknown command %s (try :help)", cmd)
		}
		return cmd, "", nil
	}
	return CommandAnswer, trimmed, nil
}

// ReadCommands feeds lines from in to s until in is exhausted, ctx ends or
// the session closes. Rejections show up through the session notice, so
// only input errors are written to out.
func ReadCommands(ctx context.Context, in io.Reader, s Session, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		cmd, text, err := ParseLine(scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}
		if cmd == "" {
			continue
		}
		if cmd == CommandHelp {
			fmt.Fprint(out, HelpText())
			continue
		}

		if err := dispatch(ctx, s, cmd, text); errors.Is(err, session.ErrClosed) {
			return nil
		}
	}
	return scanner.Err()
}

func dispatch(ctx context.Context, s Session, cmd Command, text string) error {
	switch cmd {
	case CommandRecord:
		return s.ToggleRecording(ctx)
	case CommandStop:
		_, err := s.StopRecording(ctx)
		return err
	case CommandSubmit:
		return s.Submit(ctx)
	case CommandEnd:
		return s.End(ctx)
	case CommandReplay:
		return s.Replay(ctx)
	case CommandRefresh:
		return s.Refresh(ctx)
	case CommandAnswer:
		return s.SetAnswer(ctx, text)
	}
	return nil
}

// HelpText lists the console directives.
func HelpText() string {
	return `Commands:
  :record   start recording, or stop when already recording
  :stop     stop recording and send the clip for transcription
  :submit   submit the current answer
  :end      end the interview now
  :replay   play the question audio again
  :refresh  load the current question again
  :help     show this help
Any other line replaces your answer.
`
}
