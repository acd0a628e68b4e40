package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/intervue/internal/audio"
	"github.com/rbright/intervue/internal/backend"
	"github.com/rbright/intervue/internal/fsm"
	"github.com/rbright/intervue/internal/realtime"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu sync.Mutex

	startResp   backend.StartResponse
	startErr    error
	questions   []backend.QuestionResponse
	questionErr error
	submits     []backend.SubmitResponse
	submitErr   error
	submitGate  chan struct{}
	endResp     backend.EndResponse
	endErr      error
	detail      backend.ResponseDetail
	detailErr   error

	startCalls    atomic.Int32
	questionCalls atomic.Int32
	submitCalls   atomic.Int32
	endCalls      atomic.Int32
	detailCalls   atomic.Int32

	submitted []backend.SubmitRequest
	reasons   []string
}

func (f *fakeBackend) StartInterview(_ context.Context, _ backend.StartRequest) (backend.StartResponse, error) {
	f.startCalls.Add(1)
	return f.startResp, f.startErr
}

func (f *fakeBackend) CurrentQuestion(context.Context, string, string) (backend.QuestionResponse, error) {
	n := int(f.questionCalls.Add(1))
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.questionErr != nil {
		return backend.QuestionResponse{}, f.questionErr
	}
	if len(f.questions) == 0 {
		return backend.QuestionResponse{}, nil
	}
	return f.questions[min(n, len(f.questions))-1], nil
}

func (f *fakeBackend) SubmitAnswer(ctx context.Context, req backend.SubmitRequest) (backend.SubmitResponse, error) {
	n := int(f.submitCalls.Add(1))
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	gate := f.submitGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return backend.SubmitResponse{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return backend.SubmitResponse{}, f.submitErr
	}
	if len(f.submits) == 0 {
		return backend.SubmitResponse{}, nil
	}
	return f.submits[min(n, len(f.submits))-1], nil
}

func (f *fakeBackend) EndInterview(_ context.Context, _ string, reason string) (backend.EndResponse, error) {
	f.endCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return f.endResp, f.endErr
}

func (f *fakeBackend) ResponseDetail(context.Context, string) (backend.ResponseDetail, error) {
	f.detailCalls.Add(1)
	return f.detail, f.detailErr
}

func (f *fakeBackend) submittedRequests() []backend.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.SubmitRequest(nil), f.submitted...)
}

func (f *fakeBackend) endReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

type fakeChannel struct {
	events      chan realtime.Event
	announceErr error
	sendErr     error

	mu        sync.Mutex
	announced []realtime.Announcement
	sent      [][]byte

	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan realtime.Event, 16)}
}

func (f *fakeChannel) Announce(_ context.Context, a realtime.Announcement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, a)
	return f.announceErr
}

func (f *fakeChannel) SendAudio(clip []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), clip...))
	return nil
}

func (f *fakeChannel) Events() <-chan realtime.Event { return f.events }

func (f *fakeChannel) Close() error {
	f.closeCalls.Add(1)
	f.drop()
	return nil
}

func (f *fakeChannel) drop() {
	f.closeOnce.Do(func() { close(f.events) })
}

func (f *fakeChannel) sentClips() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeChannel) announcements() []realtime.Announcement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Announcement(nil), f.announced...)
}

func transcript(text string) realtime.Event {
	return realtime.Event{Name: realtime.EventTranscriptResult, Data: []byte(`{"text":"` + text + `"}`)}
}

type fakeEpisode struct {
	clip      audio.Clip
	notice    string
	stopErr   error
	stopCalls atomic.Int32
}

func (f *fakeEpisode) Notice() string { return f.notice }

func (f *fakeEpisode) Stop() (audio.Clip, error) {
	if f.stopCalls.Add(1) > 1 {
		return audio.Clip{}, audio.ErrNotRecording
	}
	return f.clip, f.stopErr
}

type fakeRecorder struct {
	err        error
	clip       audio.Clip
	notice     string
	startCalls atomic.Int32

	mu       sync.Mutex
	episodes []*fakeEpisode
}

func (f *fakeRecorder) Start(context.Context) (audio.Episode, error) {
	f.startCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	ep := &fakeEpisode{clip: f.clip, notice: f.notice}
	f.mu.Lock()
	f.episodes = append(f.episodes, ep)
	f.mu.Unlock()
	return ep, nil
}

func (f *fakeRecorder) episode(i int) *fakeEpisode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.episodes[i]
}

type fakePlayer struct {
	mu       sync.Mutex
	playing  bool
	observer func(bool)
	clips    []string
	playErr  error

	replays    atomic.Int32
	stops      atomic.Int32
	closeCalls atomic.Int32
}

func (f *fakePlayer) PlayBase64(encoded string, _ string) error {
	f.mu.Lock()
	if f.playErr != nil {
		f.mu.Unlock()
		return f.playErr
	}
	f.clips = append(f.clips, encoded)
	f.playing = true
	observer := f.observer
	f.mu.Unlock()
	if observer != nil {
		observer(true)
	}
	return nil
}

func (f *fakePlayer) Replay() error {
	f.mu.Lock()
	if len(f.clips) == 0 {
		f.mu.Unlock()
		return errors.New("no question audio to replay")
	}
	f.playing = true
	f.mu.Unlock()
	f.replays.Add(1)
	return nil
}

func (f *fakePlayer) Stop() {
	f.stops.Add(1)
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
}

// finish simulates the player process exiting on its own.
func (f *fakePlayer) finish() {
	f.mu.Lock()
	f.playing = false
	observer := f.observer
	f.mu.Unlock()
	if observer != nil {
		observer(false)
	}
}

func (f *fakePlayer) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakePlayer) Observe(fn func(bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = fn
}

func (f *fakePlayer) Close() error {
	f.closeCalls.Add(1)
	return nil
}

func (f *fakePlayer) played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clips...)
}

type fakeCues struct {
	started  atomic.Int32
	stopped  atomic.Int32
	accepted atomic.Int32
	ended    atomic.Int32
	failed   atomic.Int32
}

func (f *fakeCues) RecordingStarted() { f.started.Add(1) }
func (f *fakeCues) RecordingStopped() { f.stopped.Add(1) }
func (f *fakeCues) AnswerAccepted()   { f.accepted.Add(1) }
func (f *fakeCues) InterviewEnded()   { f.ended.Add(1) }
func (f *fakeCues) Failed()           { f.failed.Add(1) }

type fakeTicker struct {
	ch    chan time.Time
	stops atomic.Int32
	made  atomic.Int32
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time)}
}

func (f *fakeTicker) start(time.Duration) (<-chan time.Time, func()) {
	f.made.Add(1)
	return f.ch, func() { f.stops.Add(1) }
}

// fire delivers one tick and reports whether the controller took it.
func (f *fakeTicker) fire() bool {
	select {
	case f.ch <- time.Now():
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

type harness struct {
	backend  *fakeBackend
	channel  *fakeChannel
	recorder *fakeRecorder
	player   *fakePlayer
	cues     *fakeCues
	ticker   *fakeTicker
	ctrl     *Controller
	results  chan Result
	cancel   context.CancelFunc
}

func minutes(m float64) *float64 { return &m }

func newHarness(t *testing.T, fb *fakeBackend) *harness {
	t.Helper()
	h := &harness{
		backend:  fb,
		channel:  newFakeChannel(),
		recorder: &fakeRecorder{clip: audio.Clip{EpisodeID: "ep-1", PCM: make([]byte, 3200), Fragments: 5}},
		player:   &fakePlayer{},
		cues:     &fakeCues{},
		ticker:   newFakeTicker(),
		results:  make(chan Result, 1),
	}
	h.ctrl = New(Options{
		Context: Context{InterviewID: "iv1", CandidateName: "Ada", CandidateEmail: "ada@example.com"},
		Backend: fb,
		Dialer: DialFunc(func(context.Context) (Channel, error) {
			return h.channel, nil
		}),
		Recorder:    h.recorder,
		Player:      h.player,
		Cues:        h.cues,
		Ticker:      h.ticker.start,
		CallTimeout: 2 * time.Second,
	})
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() {
		h.results <- h.ctrl.Run(ctx)
	}()
}

func (h *harness) result(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return Result{}
	}
}

func waitForState(t *testing.T, ctrl *Controller, want fsm.State) {
	t.Helper()
	waitFor(t, ctrl, func(s Snapshot) bool { return s.State == want })
}

func waitFor(t *testing.T, ctrl *Controller, cond func(Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(ctrl.Snapshot())
	}, 2*time.Second, 2*time.Millisecond, "last snapshot: %+v", ctrl.Snapshot())
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
