// Package session runs one candidate's live interview: bootstrap, question
// turns, recording, transcripts, question audio and the countdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbright/intervue/internal/audio"
	"github.com/rbright/intervue/internal/backend"
	"github.com/rbright/intervue/internal/fsm"
	"github.com/rbright/intervue/internal/realtime"
)

// RecordingSentinel is the draft text shown while a recording is live.
// A draft equal to it is never submitted.
const RecordingSentinel = "Recording in progress..."

// ReasonTimeLimit is sent to the backend when the countdown expires.
const ReasonTimeLimit = "Time limit reached"

// ReasonCandidate is sent when the candidate ends the interview.
const ReasonCandidate = "Ended by candidate"

var (
	// ErrValidation marks commands rejected locally before any network call.
	ErrValidation          = errors.New("invalid command")
	ErrNoSession           = fmt.Errorf("%w: the interview has not started", ErrValidation)
	ErrEmptyAnswer         = fmt.Errorf("%w: the answer is empty", ErrValidation)
	ErrRecordingInProgress = fmt.Errorf("%w: stop recording before submitting", ErrValidation)
	ErrAlreadyRecording    = fmt.Errorf("%w: already recording", ErrValidation)

	ErrRecordingUnavailable = errors.New("recording is unavailable")
	ErrClosed               = errors.New("session closed")
)

// IsValidation reports whether err was a locally rejected command.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Context identifies one candidate run. InterviewID and the candidate
// fields are supplied by the caller; the rest is filled by bootstrap.
type Context struct {
	InterviewID    string
	CandidateName  string
	CandidateEmail string
	ResponseID     string
	SessionID      string
	SessionToken   string
}

// Question is the active prompt.
type Question struct {
	Text        string
	Number      int
	Total       int
	Audio       string
	ContentType string
}

// Completion is the terminal outcome of a run.
type Completion struct {
	QuestionsAnswered int
	TotalQuestions    int
	PartiallyComplete bool
	DurationSeconds   float64
	Reason            string
	Analysis          *backend.Analysis
}

// Progress formats answered/total the way the final screen shows it.
func (c Completion) Progress() string {
	return fmt.Sprintf("%d/%d", c.QuestionsAnswered, c.TotalQuestions)
}

// Snapshot is what a view renders. Snapshots are values; two equal
// snapshots render identically.
type Snapshot struct {
	State          fsm.State
	ResponseID     string
	QuestionText   string
	QuestionNumber int
	TotalQuestions int
	Draft          string
	Limited        bool
	Remaining      int
	Playing        bool
	Connected      bool
	Notice         string
	Completion     *Completion
}

// Recording reports whether a capture episode is live.
func (s Snapshot) Recording() bool {
	return s.State == fsm.StateRecording
}

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	State            fsm.State
	ResponseID       string
	Completion       *Completion
	Err              error
	AnswersSubmitted int
	ClipsSent        int
	BytesSent        int64
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Backend is the subset of the interview REST API the controller drives.
type Backend interface {
	StartInterview(context.Context, backend.StartRequest) (backend.StartResponse, error)
	CurrentQuestion(ctx context.Context, responseID string, voiceID string) (backend.QuestionResponse, error)
	SubmitAnswer(context.Context, backend.SubmitRequest) (backend.SubmitResponse, error)
	EndInterview(ctx context.Context, responseID string, reason string) (backend.EndResponse, error)
	ResponseDetail(ctx context.Context, responseID string) (backend.ResponseDetail, error)
}

// Channel is the realtime duplex link: clips out, transcripts in.
type Channel interface {
	Announce(context.Context, realtime.Announcement) error
	SendAudio([]byte) error
	Events() <-chan realtime.Event
	Close() error
}

// Dialer opens the realtime channel.
type Dialer interface {
	Dial(context.Context) (Channel, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(context.Context) (Channel, error)

func (f DialFunc) Dial(ctx context.Context) (Channel, error) {
	return f(ctx)
}

// RealtimeDialer adapts a Socket.IO dialer.
func RealtimeDialer(d realtime.Dialer) Dialer {
	return DialFunc(func(ctx context.Context) (Channel, error) {
		conn, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// Recorder opens microphone capture episodes.
type Recorder interface {
	Start(context.Context) (audio.Episode, error)
}

// Player plays question audio. Observe is called on play/end/error.
type Player interface {
	PlayBase64(encoded string, contentType string) error
	Replay() error
	Stop()
	Playing() bool
	Observe(func(playing bool))
	Close() error
}

// Cues is the session-facing subset of indicator behavior.
type Cues interface {
	RecordingStarted()
	RecordingStopped()
	AnswerAccepted()
	InterviewEnded()
	Failed()
}

// View renders snapshots. Render is called from the controller goroutine
// and must not call back into the controller synchronously.
type View interface {
	Render(Snapshot)
}

// ViewFunc adapts a function to View.
type ViewFunc func(Snapshot)

func (f ViewFunc) Render(s Snapshot) { f(s) }

// TickerFunc starts a ticker and returns its channel and stop function.
type TickerFunc func(time.Duration) (<-chan time.Time, func())

func systemTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type noopCues struct{}

func (noopCues) RecordingStarted() {}
func (noopCues) RecordingStopped() {}
func (noopCues) AnswerAccepted()   {}
func (noopCues) InterviewEnded()   {}
func (noopCues) Failed()           {}

type silentPlayer struct{}

func (silentPlayer) PlayBase64(string, string) error { return errors.New("no audio player available") }
func (silentPlayer) Replay() error                   { return errors.New("no question audio to replay") }
func (silentPlayer) Stop()                           {}
func (silentPlayer) Playing() bool                   { return false }
func (silentPlayer) Observe(func(bool))              {}
func (silentPlayer) Close() error                    { return nil }
