package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/intervue/internal/audio"
	"github.com/rbright/intervue/internal/backend"
	"github.com/rbright/intervue/internal/fsm"
	"github.com/rbright/intervue/internal/realtime"
)

const (
	defaultCallTimeout = 30 * time.Second
	inboxSize          = 64
)

// Options wires a controller. Backend is required; everything else has a
// quiet default.
type Options struct {
	Context     Context
	VoiceID     string
	Backend     Backend
	Dialer      Dialer
	Recorder    Recorder
	Player      Player
	Cues        Cues
	View        View
	Logger      *slog.Logger
	Ticker      TickerFunc
	CallTimeout time.Duration
}

type message func()

// Controller owns one interview run. All session state is mutated on the
// goroutine executing Run; other goroutines talk to it through the inbox.
type Controller struct {
	logger      *slog.Logger
	backend     Backend
	dialer      Dialer
	recorder    Recorder
	player      Player
	cues        Cues
	view        View
	newTicker   TickerFunc
	voiceID     string
	callTimeout time.Duration

	inbox   chan message
	done    chan struct{}
	running atomic.Bool

	mu   sync.RWMutex
	snap Snapshot

	// Owned by the Run goroutine.
	ctx            context.Context
	res            scope
	state          fsm.State
	sc             Context
	question       Question
	draft          string
	notice         string
	playing        bool
	limited        bool
	remaining      int
	expired        bool
	tick           <-chan time.Time
	ticker         *handle
	channel        Channel
	events         <-chan realtime.Event
	episode        audio.Episode
	capture        *handle
	fetchSeq       int
	cancelFetch    context.CancelFunc
	submitSeq      int
	endSeq         int
	summaryPending bool
	completion     *Completion
	result         Result
}

// New constructs a controller with safe default fallbacks.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	player := opts.Player
	if player == nil {
		player = silentPlayer{}
	}
	cues := opts.Cues
	if cues == nil {
		cues = noopCues{}
	}
	view := opts.View
	if view == nil {
		view = ViewFunc(func(Snapshot) {})
	}
	ticker := opts.Ticker
	if ticker == nil {
		ticker = systemTicker
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	return &Controller{
		logger:      logger,
		backend:     opts.Backend,
		dialer:      opts.Dialer,
		recorder:    opts.Recorder,
		player:      player,
		cues:        cues,
		view:        view,
		newTicker:   ticker,
		voiceID:     opts.VoiceID,
		callTimeout: timeout,
		inbox:       make(chan message, inboxSize),
		done:        make(chan struct{}),
		state:       fsm.StateIdle,
		sc:          opts.Context,
	}
}

// State returns the last published FSM state.
func (c *Controller) State() fsm.State {
	return c.Snapshot().State
}

// Snapshot returns the last published view of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap.State == "" {
		return Snapshot{State: fsm.StateIdle}
	}
	return c.snap
}

// Done is closed once Run has torn the session down.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run executes one interview from bootstrap to completion, failure or
// cancellation of ctx. It may be called once.
func (c *Controller) Run(ctx context.Context) Result {
	if !c.running.CompareAndSwap(false, true) {
		now := time.Now()
		return Result{State: c.State(), Err: errors.New("session already running"), StartedAt: now, FinishedAt: now}
	}
	c.result.StartedAt = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	c.ctx = runCtx
	c.res.Acquire("run context", func() error {
		cancel()
		return nil
	})
	c.res.Acquire("player", c.player.Close)
	c.player.Observe(func(bool) {
		go c.post(c.syncPlaying)
	})

	c.transition(fsm.EventBootstrap)
	if err := c.checkBootstrap(); err != nil {
		c.failBootstrap(err)
		c.publish()
		return c.finish()
	}
	c.publish()
	go c.bootstrap(runCtx, c.sc)

	for !c.finished() {
		select {
		case <-ctx.Done():
			if !fsm.Terminal(c.state) {
				c.result.Err = ctx.Err()
			}
			return c.finish()
		case fn := <-c.inbox:
			fn()
		case <-c.tick:
			c.onTick()
		case ev, ok := <-c.events:
			if !ok {
				c.onChannelClosed()
			} else {
				c.onEvent(ev)
			}
		}
		c.publish()
	}
	return c.finish()
}

func (c *Controller) finished() bool {
	return fsm.Terminal(c.state) && !c.summaryPending
}

func (c *Controller) finish() Result {
	close(c.done)
	if err := c.res.Close(); err != nil {
		c.logger.Warn("session teardown incomplete", "error", err.Error())
	}
	c.cancelFetch = nil
	c.episode = nil
	c.channel = nil

	c.result.State = c.state
	c.result.ResponseID = c.sc.ResponseID
	c.result.Completion = c.completion
	c.result.FinishedAt = time.Now()
	return c.result
}

// post hands fn to the Run goroutine. It reports false once the session is
// torn down; the message is then dropped.
func (c *Controller) post(fn message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) transition(event fsm.Event) bool {
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.logger.Warn("state transition rejected", "state", string(c.state), "event", string(event), "error", err.Error())
		return false
	}
	c.logger.Debug("state transition", "from", string(c.state), "to", string(next), "event", string(event))
	c.state = next
	return true
}

func (c *Controller) publish() {
	snap := Snapshot{
		State:          c.state,
		ResponseID:     c.sc.ResponseID,
		QuestionText:   c.question.Text,
		QuestionNumber: c.question.Number,
		TotalQuestions: c.question.Total,
		Draft:          c.draft,
		Limited:        c.limited,
		Remaining:      c.remaining,
		Playing:        c.playing,
		Connected:      c.channel != nil,
		Notice:         c.notice,
		Completion:     c.completion,
	}

	c.mu.Lock()
	changed := snap != c.snap
	c.snap = snap
	c.mu.Unlock()

	if changed {
		c.view.Render(snap)
	}
}

// bootstrap

func (c *Controller) checkBootstrap() error {
	if c.backend == nil {
		return errors.New("no interview backend configured")
	}
	switch {
	case strings.TrimSpace(c.sc.InterviewID) == "":
		return fmt.Errorf("%w: interview id is required", ErrValidation)
	case strings.TrimSpace(c.sc.CandidateName) == "":
		return fmt.Errorf("%w: candidate name is required", ErrValidation)
	case strings.TrimSpace(c.sc.CandidateEmail) == "":
		return fmt.Errorf("%w: candidate email is required", ErrValidation)
	}
	return nil
}

func (c *Controller) bootstrap(ctx context.Context, sc Context) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	started, err := c.backend.StartInterview(callCtx, backend.StartRequest{
		InterviewID:    sc.InterviewID,
		CandidateName:  sc.CandidateName,
		CandidateEmail: sc.CandidateEmail,
	})
	cancel()
	if err != nil {
		c.post(func() { c.onBootstrapFailed(err) })
		return
	}

	var (
		ch    Channel
		chErr error
	)
	if c.dialer != nil && started.SessionID != "" && started.SessionToken != "" {
		ch, chErr = c.openChannel(ctx, started)
	}
	c.post(func() { c.onBootstrapped(started, ch, chErr) })
}

func (c *Controller) openChannel(ctx context.Context, started backend.StartResponse) (Channel, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	ch, err := c.dialer.Dial(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("connect realtime channel: %w", err)
	}
	c.res.Acquire("realtime channel", ch.Close)

	err = ch.Announce(dialCtx, realtime.Announcement{
		SessionID:    started.SessionID,
		ResponseID:   started.ResponseID,
		SessionToken: started.SessionToken,
	})
	if err != nil {
		return ch, fmt.Errorf("announce session: %w", err)
	}
	return ch, nil
}

func (c *Controller) onBootstrapFailed(err error) {
	if c.state != fsm.StateBootstrapping {
		return
	}
	c.failBootstrap(fmt.Errorf("start interview: %w", err))
}

func (c *Controller) failBootstrap(err error) {
	c.logger.Error("interview bootstrap failed", "error", err.Error())
	c.result.Err = err
	c.notice = "Unable to start the interview: " + noticeFor(err)
	c.cues.Failed()
	c.transition(fsm.EventFail)
}

func (c *Controller) onBootstrapped(started backend.StartResponse, ch Channel, chErr error) {
	if c.state != fsm.StateBootstrapping {
		return
	}
	c.sc.ResponseID = started.ResponseID
	c.sc.SessionID = started.SessionID
	c.sc.SessionToken = started.SessionToken

	if ch != nil {
		c.channel = ch
		c.events = ch.Events()
	}
	if chErr != nil {
		c.logger.Warn("realtime channel unavailable", "error", chErr.Error())
		c.notice = "Live transcription is unavailable; type your answers instead"
	}

	seconds := started.DurationSeconds()
	if seconds > 0 {
		c.limited = true
		c.remaining = seconds
		c.startTicker()
	}

	c.logger.Info("interview started",
		"response_id", started.ResponseID,
		"session_id", started.SessionID,
		"channel", c.channel != nil,
		"duration_seconds", seconds,
	)
	c.transition(fsm.EventReady)
	c.fetchQuestion()
}

// questions

func (c *Controller) fetchQuestion() {
	c.abortFetch()
	seq := c.fetchSeq
	ctx, cancel := context.WithTimeout(c.ctx, c.callTimeout)
	c.cancelFetch = cancel

	responseID, voiceID := c.sc.ResponseID, c.voiceID
	go func() {
		resp, err := c.backend.CurrentQuestion(ctx, responseID, voiceID)
		c.post(func() { c.onQuestion(seq, resp, err) })
	}()
}

// abortFetch cancels the in-flight question fetch; its result is dropped.
func (c *Controller) abortFetch() {
	c.fetchSeq++
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
}

func (c *Controller) onQuestion(seq int, resp backend.QuestionResponse, err error) {
	if seq != c.fetchSeq {
		return
	}
	c.abortFetch()
	if c.state != fsm.StateAwaitingAnswer && c.state != fsm.StateRecording {
		return
	}

	if err != nil {
		if backend.IsCanceled(err) {
			return
		}
		c.logger.Warn("question fetch failed", "status", backend.StatusOf(err), "error", err.Error())
		c.notice = "Unable to load the question: " + backend.Message(err) + " (refresh to retry)"
		return
	}

	if resp.Done() {
		c.stopRecording()
		c.complete(Completion{
			QuestionsAnswered: firstPositive(resp.QuestionNumber, c.question.Number),
			TotalQuestions:    firstPositive(resp.TotalQuestions, c.question.Total),
		})
		return
	}

	c.question = Question{
		Text:        resp.CurrentQuestion.Text,
		Number:      resp.QuestionNumber,
		Total:       resp.TotalQuestions,
		Audio:       resp.TTSAudioBase64,
		ContentType: resp.TTSContentType,
	}
	if c.state == fsm.StateRecording {
		c.draft = RecordingSentinel
	} else {
		c.draft = ""
	}
	c.logger.Info("question loaded", "number", c.question.Number, "total", c.question.Total, "audio", c.question.Audio != "")
	c.playQuestion()
}

func (c *Controller) playQuestion() {
	if c.question.Audio == "" {
		return
	}
	if err := c.player.PlayBase64(c.question.Audio, c.question.ContentType); err != nil {
		c.logger.Warn("question audio unavailable", "error", err.Error())
	}
	c.playing = c.player.Playing()
}

func (c *Controller) syncPlaying() {
	c.playing = c.player.Playing()
}

// recording

func (c *Controller) startRecording() error {
	switch c.state {
	case fsm.StateRecording:
		return ErrAlreadyRecording
	case fsm.StateAwaitingAnswer:
	default:
		return stateError("record", c.state)
	}
	if c.recorder == nil {
		return ErrRecordingUnavailable
	}

	episode, err := c.recorder.Start(c.ctx)
	if err != nil {
		c.logger.Warn("microphone unavailable", "error", err.Error())
		return fmt.Errorf("%w: %v", ErrRecordingUnavailable, err)
	}

	c.player.Stop()
	c.playing = false
	c.transition(fsm.EventRecord)
	c.episode = episode
	c.capture = c.res.Acquire("microphone", func() error {
		_, err := episode.Stop()
		if errors.Is(err, audio.ErrNotRecording) {
			return nil
		}
		return err
	})
	c.draft = RecordingSentinel
	c.notice = episode.Notice()
	c.cues.RecordingStarted()
	return nil
}

// stopRecording finishes the live episode and ships its clip. It reports
// false, touching nothing, when no episode is live.
func (c *Controller) stopRecording() bool {
	if c.state != fsm.StateRecording || c.episode == nil {
		return false
	}

	clip, err := c.episode.Stop()
	c.capture.Disarm()
	c.episode, c.capture = nil, nil
	c.transition(fsm.EventStop)
	c.cues.RecordingStopped()
	c.draft = strings.TrimPrefix(c.draft, RecordingSentinel)

	if err != nil {
		c.logger.Warn("recording failed", "error", err.Error())
		c.notice = "Recording failed: " + err.Error()
		return true
	}
	c.sendClip(clip)
	return true
}

func (c *Controller) sendClip(clip audio.Clip) {
	if len(clip.PCM) == 0 {
		c.notice = "No audio was captured"
		return
	}
	if c.channel == nil {
		c.notice = "Live transcription is unavailable; type your answer instead"
		return
	}

	wav := clip.WAV()
	if err := c.channel.SendAudio(wav); err != nil {
		c.logger.Warn("answer audio not sent", "episode_id", clip.EpisodeID, "error", err.Error())
		c.notice = "Unable to send the recording; type your answer instead"
		return
	}
	c.result.ClipsSent++
	c.result.BytesSent += int64(len(wav))
	c.logger.Info("answer audio sent",
		"episode_id", clip.EpisodeID,
		"bytes", len(wav),
		"fragments", clip.Fragments,
		"duration_ms", clip.Duration().Milliseconds(),
	)
}

// realtime events

func (c *Controller) onEvent(ev realtime.Event) {
	if fsm.Terminal(c.state) {
		return
	}
	switch ev.Name {
	case realtime.EventTranscriptResult:
		text, ok := ev.Transcript()
		if !ok {
			c.logger.Warn("malformed transcript event", "data", string(ev.Data))
			return
		}
		c.draft += " " + text
	case realtime.EventError:
		message := eventMessage(ev.Data)
		c.logger.Warn("realtime error event", "message", message)
		c.notice = "Transcription error: " + message
	default:
		c.logger.Debug("realtime event", "event", ev.Name)
	}
}

func (c *Controller) onChannelClosed() {
	c.events = nil
	c.channel = nil
	if fsm.Terminal(c.state) {
		return
	}
	c.logger.Warn("realtime channel closed")
	c.notice = "Live transcription disconnected; type your answer instead"
}

func eventMessage(data json.RawMessage) string {
	var object struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &object); err == nil {
		if object.Message != "" {
			return object.Message
		}
		if object.Error != "" {
			return object.Error
		}
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil && text != "" {
		return text
	}
	return string(data)
}

// turns

func (c *Controller) submit() error {
	if c.sc.ResponseID == "" {
		return ErrNoSession
	}
	answer := strings.TrimSpace(c.draft)
	switch {
	case answer == "":
		return ErrEmptyAnswer
	case c.draft == RecordingSentinel || c.state == fsm.StateRecording:
		return ErrRecordingInProgress
	case c.state != fsm.StateAwaitingAnswer:
		return stateError("submit", c.state)
	}

	c.transition(fsm.EventSubmit)
	c.submitSeq++
	seq := c.submitSeq
	req := backend.SubmitRequest{
		ResponseID: c.sc.ResponseID,
		Question:   c.question.Text,
		Transcript: answer,
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.callTimeout)
	go func() {
		defer cancel()
		resp, err := c.backend.SubmitAnswer(ctx, req)
		c.post(func() { c.onSubmitted(seq, resp, err) })
	}()
	return nil
}

func (c *Controller) onSubmitted(seq int, resp backend.SubmitResponse, err error) {
	if seq != c.submitSeq || c.state != fsm.StateSubmitting {
		c.logger.Info("stale answer result discarded", "state", string(c.state))
		return
	}
	if err != nil {
		c.logger.Warn("answer submit failed", "status", backend.StatusOf(err), "error", err.Error())
		c.notice = "Unable to submit the answer: " + backend.Message(err)
		c.transition(fsm.EventRejected)
		return
	}

	c.result.AnswersSubmitted++
	c.cues.AnswerAccepted()
	if resp.Done() {
		c.complete(Completion{
			QuestionsAnswered: firstPositive(resp.QuestionsAnswered, resp.QuestionNumber, c.question.Number),
			TotalQuestions:    firstPositive(resp.TotalQuestions, c.question.Total),
			Analysis:          resp.FinalAnalysis,
		})
		return
	}

	c.transition(fsm.EventAccepted)
	c.draft = ""
	c.notice = ""
	c.fetchQuestion()
}

// endInterview asks the backend to close the run. It is a no-op once the
// run is complete, already ending, or never started.
func (c *Controller) endInterview(reason string) error {
	if c.state == fsm.StateComplete || c.state == fsm.StateEnding || c.sc.ResponseID == "" {
		return nil
	}

	c.stopTicker()
	c.stopRecording()
	if !c.transition(fsm.EventEnd) {
		return stateError("end the interview", c.state)
	}
	c.abortFetch()

	c.endSeq++
	seq := c.endSeq
	responseID := c.sc.ResponseID
	ctx, cancel := context.WithTimeout(c.ctx, c.callTimeout)
	c.logger.Info("ending interview", "reason", reason)
	go func() {
		defer cancel()
		resp, err := c.backend.EndInterview(ctx, responseID, reason)
		c.post(func() { c.onEnded(seq, reason, resp, err) })
	}()
	return nil
}

func (c *Controller) onEnded(seq int, reason string, resp backend.EndResponse, err error) {
	if seq != c.endSeq || c.state != fsm.StateEnding {
		return
	}
	if err != nil {
		c.logger.Warn("end interview failed", "status", backend.StatusOf(err), "error", err.Error())
		c.notice = "Unable to end the interview: " + backend.Message(err)
		c.transition(fsm.EventRejected)
		if c.limited && c.remaining > 0 {
			c.startTicker()
		}
		c.fetchQuestion()
		return
	}

	c.complete(Completion{
		QuestionsAnswered: resp.QuestionsAnswered,
		TotalQuestions:    resp.TotalQuestions,
		PartiallyComplete: resp.IsPartiallyComplete,
		DurationSeconds:   resp.DurationSeconds,
		Reason:            reason,
	})
	c.fetchSummary()
}

func (c *Controller) complete(done Completion) {
	c.stopTicker()
	c.abortFetch()
	if !c.transition(fsm.EventComplete) {
		return
	}
	c.completion = &done
	c.question = Question{}
	c.draft = ""
	c.notice = ""
	c.cues.InterviewEnded()
	c.logger.Info("interview complete",
		"answered", done.QuestionsAnswered,
		"total", done.TotalQuestions,
		"partial", done.PartiallyComplete,
		"reason", done.Reason,
	)
}

func (c *Controller) fetchSummary() {
	c.summaryPending = true
	responseID := c.sc.ResponseID
	ctx, cancel := context.WithTimeout(c.ctx, c.callTimeout)
	go func() {
		defer cancel()
		detail, err := c.backend.ResponseDetail(ctx, responseID)
		c.post(func() { c.onSummary(detail, err) })
	}()
}

func (c *Controller) onSummary(detail backend.ResponseDetail, err error) {
	c.summaryPending = false
	if err != nil {
		c.logger.Warn("final summary unavailable", "error", err.Error())
		return
	}
	if c.completion == nil || c.completion.Analysis != nil || detail.GeneralSummary == nil {
		return
	}
	updated := *c.completion
	updated.Analysis = detail.GeneralSummary
	c.completion = &updated
}

// countdown

func (c *Controller) startTicker() {
	c.stopTicker()
	tick, stop := c.newTicker(time.Second)
	c.tick = tick
	c.ticker = c.res.Acquire("countdown", func() error {
		stop()
		return nil
	})
}

func (c *Controller) stopTicker() {
	if c.ticker == nil {
		return
	}
	_ = c.ticker.Release()
	c.ticker = nil
	c.tick = nil
}

func (c *Controller) onTick() {
	if !c.limited || c.remaining <= 0 || fsm.Terminal(c.state) {
		return
	}
	c.remaining--
	if c.remaining > 0 {
		return
	}

	c.stopTicker()
	if c.expired {
		return
	}
	c.expired = true
	c.logger.Info("time limit reached")
	if err := c.endInterview(ReasonTimeLimit); err != nil {
		c.logger.Warn("time limit end rejected", "error", err.Error())
	}
}

func stateError(action string, state fsm.State) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrValidation, action, strings.ReplaceAll(string(state), "_", " "))
}

func noticeFor(err error) string {
	if err == nil {
		return ""
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return be.UserMessage()
	}
	return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
