// Package console renders the live interview on a terminal and reads the
// candidate's typed commands.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rbright/intervue/internal/fsm"
	"github.com/rbright/intervue/internal/session"
)

// Renderer prints the parts of each snapshot that changed since the last
// one. It satisfies session.View.
type Renderer struct {
	mu      sync.Mutex
	out     io.Writer
	last    session.Snapshot
	started bool
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

func (r *Renderer) Render(s session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.last
	first := !r.started
	r.last = s
	r.started = true

	if first || s.State != prev.State {
		r.printState(s)
	}
	if s.QuestionText != "" && (s.QuestionText != prev.QuestionText || s.QuestionNumber != prev.QuestionNumber) {
		r.printQuestion(s)
	}
	if s.Limited && s.Remaining != prev.Remaining && showCountdown(s.Remaining) {
		fmt.Fprintf(r.out, "time left %s\n", FormatRemaining(s.Remaining))
	}
	if s.Draft != prev.Draft && s.State != fsm.StateComplete && s.Draft != session.RecordingSentinel && strings.TrimSpace(s.Draft) != "" {
		fmt.Fprintf(r.out, "answer: %s\n", strings.TrimSpace(s.Draft))
	}
	if s.Playing && !prev.Playing {
		fmt.Fprintln(r.out, "(playing question audio, :replay to hear it again)")
	}
	if s.Notice != "" && s.Notice != prev.Notice {
		fmt.Fprintf(r.out, "! %s\n", s.Notice)
	}
	if s.Completion != nil && s.Completion != prev.Completion {
		r.printCompletion(*s.Completion)
	}
}

func (r *Renderer) printState(s session.Snapshot) {
	switch s.State {
	case fsm.StateBootstrapping:
		fmt.Fprintln(r.out, "Starting interview...")
	case fsm.StateRecording:
		fmt.Fprintln(r.out, "Recording. :stop when you are done.")
	case fsm.StateSubmitting:
		fmt.Fprintln(r.out, "Submitting answer...")
	case fsm.StateEnding:
		fmt.Fprintln(r.out, "Ending interview...")
	case fsm.StateFailed:
		fmt.Fprintln(r.out, "Interview could not start.")
	}
}

func (r *Renderer) printQuestion(s session.Snapshot) {
	fmt.Fprintln(r.out)
	if s.TotalQuestions > 0 {
		fmt.Fprintf(r.out, "Question %d of %d", s.QuestionNumber, s.TotalQuestions)
	} else {
		fmt.Fprint(r.out, "Question")
	}
	if s.Limited {
		fmt.Fprintf(r.out, " (%s left)", FormatRemaining(s.Remaining))
	}
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "  %s\n", s.QuestionText)
	fmt.Fprintln(r.out, "Type your answer, or :record to speak it. :help lists commands.")
}

func (r *Renderer) printCompletion(c session.Completion) {
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "Interview complete: %s questions answered\n", c.Progress())
	if c.PartiallyComplete {
		fmt.Fprintln(r.out, "The interview ended before every question was answered.")
	}
	if c.Reason != "" {
		fmt.Fprintf(r.out, "Reason: %s\n", c.Reason)
	}
	if a := c.Analysis; a != nil {
		fmt.Fprintf(r.out, "Overall score: %.1f\n", a.OverallScore)
		if a.OverallFeedback != "" {
			fmt.Fprintf(r.out, "Feedback: %s\n", a.OverallFeedback)
		}
	}
}

// showCountdown limits countdown lines to whole minutes and the final ten
// seconds.
func showCountdown(remaining int) bool {
	return remaining%60 == 0 || remaining <= 10
}

// FormatRemaining renders seconds as mm:ss.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
