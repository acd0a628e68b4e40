package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rbright/intervue/internal/fsm"
	"github.com/rbright/intervue/internal/ipc"
)

const commandTimeout = 5 * time.Second

// do runs fn on the Run goroutine and waits for its error. Rejected
// commands leave their message as the session notice.
func (c *Controller) do(ctx context.Context, name string, fn func() error) error {
	reply := make(chan error, 1)
	msg := func() {
		err := fn()
		if err != nil {
			c.logger.Info("command rejected", "command", name, "error", err.Error())
			c.notice = noticeFor(err)
		}
		c.publish()
		reply <- err
	}

	select {
	case c.inbox <- msg:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ToggleRecording starts a recording, or stops the live one.
func (c *Controller) ToggleRecording(ctx context.Context) error {
	return c.do(ctx, "record", func() error {
		if c.state == fsm.StateRecording {
			c.stopRecording()
			return nil
		}
		return c.startRecording()
	})
}

// StartRecording opens a capture episode on the microphone.
func (c *Controller) StartRecording(ctx context.Context) error {
	return c.do(ctx, "record", c.startRecording)
}

// StopRecording ends the live episode and ships its clip. Stopping when
// nothing records is a no-op and reports false.
func (c *Controller) StopRecording(ctx context.Context) (bool, error) {
	var stopped bool
	err := c.do(ctx, "stop", func() error {
		stopped = c.stopRecording()
		return nil
	})
	return stopped, err
}

// Submit sends the current draft as the answer to the active question.
func (c *Controller) Submit(ctx context.Context) error {
	return c.do(ctx, "submit", c.submit)
}

// End asks the backend to close the interview early.
func (c *Controller) End(ctx context.Context) error {
	return c.do(ctx, "end", func() error {
		return c.endInterview(ReasonCandidate)
	})
}

// Replay restarts the question audio from the beginning.
func (c *Controller) Replay(ctx context.Context) error {
	return c.do(ctx, "replay", func() error {
		if fsm.Terminal(c.state) {
			return stateError("replay", c.state)
		}
		if err := c.player.Replay(); err != nil {
			return err
		}
		c.playing = c.player.Playing()
		return nil
	})
}

// SetAnswer replaces the draft with text typed by the candidate.
func (c *Controller) SetAnswer(ctx context.Context, text string) error {
	return c.do(ctx, "answer", func() error {
		if c.state != fsm.StateAwaitingAnswer {
			return stateError("edit the answer", c.state)
		}
		c.draft = text
		c.notice = ""
		return nil
	})
}

// Refresh fetches the current question again.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.do(ctx, "refresh", func() error {
		if c.sc.ResponseID == "" {
			return ErrNoSession
		}
		if c.state != fsm.StateAwaitingAnswer {
			return stateError("refresh", c.state)
		}
		c.notice = ""
		c.fetchQuestion()
		return nil
	})
}

// Handle serves IPC commands for the active owner session.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		message string
		err     error
	)
	switch req.Command {
	case "status":
		message = c.Snapshot().Notice
	case "record":
		err = c.ToggleRecording(ctx)
		message = "recording toggled"
	case "stop":
		var stopped bool
		stopped, err = c.StopRecording(ctx)
		message = "recording stopped"
		if !stopped {
			message = "not recording"
		}
	case "submit":
		err = c.Submit(ctx)
		message = "answer submitted"
	case "end":
		err = c.End(ctx)
		message = "end requested"
	case "replay":
		err = c.Replay(ctx)
		message = "replaying question"
	case "answer":
		err = c.SetAnswer(ctx, req.Text)
		message = "answer updated"
	case "refresh":
		err = c.Refresh(ctx)
		message = "refreshing question"
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}

	resp := StatusResponse(c.Snapshot())
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.OK = true
	resp.Message = message
	return resp
}

// StatusResponse describes a snapshot on the IPC wire.
func StatusResponse(s Snapshot) ipc.Response {
	resp := ipc.Response{
		State:    string(s.State),
		Question: s.QuestionText,
		Draft:    s.Draft,
	}
	switch {
	case s.Completion != nil:
		resp.Progress = s.Completion.Progress()
	case s.TotalQuestions > 0:
		resp.Progress = fmt.Sprintf("%d/%d", s.QuestionNumber, s.TotalQuestions)
	}
	if s.Limited {
		remaining := s.Remaining
		resp.Remaining = &remaining
	}
	return resp
}
