package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rbright/intervue/internal/cli"
	"github.com/rbright/intervue/internal/config"
	"github.com/rbright/intervue/internal/fsm"
	"github.com/rbright/intervue/internal/ipc"
	"github.com/rbright/intervue/internal/session"
	"github.com/stretchr/testify/require"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, nil, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, nil, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "intervue")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, nil, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active interview session")
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)
	requests := make(chan ipc.Request, 8)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, ipc.SocketName), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		return ipc.Response{OK: true, State: "awaiting_answer", Message: req.Command + " handled"}
	})
	defer shutdown()

	commands := [][]string{
		{"record"}, {"stop"}, {"submit"}, {"end"}, {"replay"}, {"refresh"}, {"answer", "I", "like", "Go"},
	}
	for _, args := range commands {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}

		exitCode := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, exitCode, args[0])
		require.Empty(t, stderr.String(), args[0])
		require.Equal(t, args[0]+" handled\n", stdout.String())
	}

	got := make([]string, 0, len(commands))
	var answer ipc.Request
	for range commands {
		req := <-requests
		got = append(got, req.Command)
		if req.Command == "answer" {
			answer = req
		}
	}
	require.ElementsMatch(t, []string{"record", "stop", "submit", "end", "replay", "refresh", "answer"}, got)
	require.Equal(t, "I like Go", answer.Text)
}

func TestRunnerRemoteCommandReportsRejection(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, ipc.SocketName), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: false, State: "recording", Error: "invalid command: stop recording before submitting"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "submit"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "stop recording before submitting")
	require.Empty(t, stdout.String())
}

func TestRunnerStatusPrintsSessionDetails(t *testing.T) {
	paths := setupRunnerEnv(t)
	remaining := 75

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, ipc.SocketName), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "status", req.Command)
		return ipc.Response{
			OK:        true,
			State:     "awaiting_answer",
			Question:  "Why Go?",
			Progress:  "1/3",
			Draft:     " simple tooling",
			Remaining: &remaining,
			Message:   "Live transcription unavailable",
		}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "awaiting_answer\nquestion 1/3: Why Go?\ntime left 01:15\nanswer: simple tooling\n! Live transcription unavailable\n", stdout.String())
}

func TestRunnerStatusFallsBackToIdleWhenServerStateEmpty(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, ipc.SocketName), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "status", req.Command)
		return ipc.Response{OK: true, State: ""}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	writeRunnerConfig(t, paths.configPath, "http://127.0.0.1:1")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "[OK] config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] backend.health")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerConfigCommandPrintsYAML(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv(config.EnvCandidateName, "Ada Lovelace")
	writeRunnerConfig(t, paths.configPath, "http://127.0.0.1:8765")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "config"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "base_url: http://127.0.0.1:8765")
	require.Contains(t, stdout.String(), "name: Ada Lovelace")
	require.Contains(t, stdout.String(), "sound_enable: false")
}

func TestRunnerJoinRequiresCandidateDetails(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "--name", "Ada", "join"})
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "join requires --interview, --email")
}

func TestRunnerJoinRejectsInvalidEmail(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{
		"--config", paths.configPath, "--interview", "iv-1", "--name", "Ada", "--email", "not-an-address", "join",
	})
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "is not a valid address")
}

func TestRunnerJoinRunsInterviewDrivenOverIPC(t *testing.T) {
	paths := setupRunnerEnv(t)
	server := newInterviewServer(t, http.StatusOK)
	writeRunnerConfig(t, paths.configPath, server.URL)
	reportPath := filepath.Join(t.TempDir(), "reports", "iv-1.yaml")
	socketPath := filepath.Join(paths.runtimeDir, ipc.SocketName)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	owner := Runner{Stdin: strings.NewReader(""), Stdout: &stdout, Stderr: &stderr}

	done := make(chan int, 1)
	go func() {
		done <- owner.Execute(context.Background(), []string{
			"--config", paths.configPath,
			"--interview", "iv-1",
			"--name", "Ada",
			"--email", "ada@example.com",
			"--report", reportPath,
			"join",
		})
	}()

	require.Eventually(t, func() bool {
		resp, handled, err := ipc.Forward(context.Background(), socketPath, ipc.Request{Command: "status"}, time.Second)
		return handled && err == nil && resp.Question == "Why Go?"
	}, 5*time.Second, 20*time.Millisecond)

	for _, args := range [][]string{{"answer", "Simple", "tooling"}, {"submit"}} {
		var out bytes.Buffer
		remote := Runner{Stdout: &out, Stderr: &bytes.Buffer{}}
		require.Equal(t, 0, remote.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...)), args[0])
	}

	var exitCode int
	select {
	case exitCode = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("join did not finish")
	}

	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "Question 1 of 1")
	require.Contains(t, stdout.String(), "answer: Simple tooling")
	require.Contains(t, stdout.String(), "Interview complete: 1/1 questions answered")
	require.Equal(t, "Simple tooling", server.lastTranscript())

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "state: complete")
	require.Contains(t, string(data), "answers_submitted: 1")
	require.Contains(t, string(data), "candidate: Ada")

	_, statErr := os.Stat(socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerJoinReportsBootstrapFailure(t *testing.T) {
	paths := setupRunnerEnv(t)
	server := newInterviewServer(t, http.StatusInternalServerError)
	writeRunnerConfig(t, paths.configPath, server.URL)
	reportPath := filepath.Join(t.TempDir(), "failed.yaml")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{
		"--config", paths.configPath,
		"--interview", "iv-1",
		"--name", "Ada",
		"--email", "ada@example.com",
		"--report", reportPath,
		"join",
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "Interview could not start.")
	require.Contains(t, stderr.String(), "error:")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "state: failed")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, ipc.SocketName))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerJoinRefusesSecondOwner(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, ipc.SocketName), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "awaiting_answer"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{
		"--config", paths.configPath, "--interview", "iv-1", "--name", "Ada", "--email", "ada@example.com", "join",
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "already running")
}

func TestMergeCandidatePrefersFlags(t *testing.T) {
	merged := mergeCandidate(
		config.CandidateConfig{InterviewID: "from-config", Name: "Config Name", Email: "config@example.com"},
		cli.Parsed{InterviewID: " iv-9 ", Email: "flag@example.com"},
	)
	require.Equal(t, config.CandidateConfig{InterviewID: "iv-9", Name: "Config Name", Email: "flag@example.com"}, merged)
	require.Empty(t, missingCandidate(merged))
	require.Equal(t, []string{"--interview", "--name", "--email"}, missingCandidate(config.CandidateConfig{}))
}

func TestNewPlayerHonorsPlaybackConfig(t *testing.T) {
	require.Nil(t, newPlayer(config.PlaybackConfig{Enable: false, Command: config.CommandConfig{Argv: []string{"mpv"}}}, nil))

	player := newPlayer(config.PlaybackConfig{Enable: true, Command: config.CommandConfig{Argv: []string{"fake-player"}}}, nil)
	require.NotNil(t, player)
	require.True(t, player.Available())

	t.Setenv("PATH", t.TempDir())
	require.Nil(t, newPlayer(config.PlaybackConfig{Enable: true}, nil))
}

func TestAudioDumpDirUsesStateDir(t *testing.T) {
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)

	require.Empty(t, audioDumpDir(config.DebugConfig{}, slog.New(slog.DiscardHandler)))
	require.Equal(t, filepath.Join(state, "intervue", "clips"), audioDumpDir(config.DebugConfig{EnableAudioDump: true}, slog.New(slog.DiscardHandler)))
}

func TestLogSessionResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := time.Now()
	finished := started.Add(1500 * time.Millisecond)

	logSessionResult(logger, session.Result{
		State:            fsm.StateComplete,
		ResponseID:       "r1",
		StartedAt:        started,
		FinishedAt:       finished,
		AnswersSubmitted: 2,
		ClipsSent:        1,
		BytesSent:        123,
		Completion:       &session.Completion{QuestionsAnswered: 2, TotalQuestions: 2},
	})

	require.Contains(t, logBuf.String(), "session complete")
	require.Contains(t, logBuf.String(), `"progress":"2/2"`)
	require.Contains(t, logBuf.String(), `"duration_ms":1500`)

	logBuf.Reset()
	logSessionResult(logger, session.Result{
		State:      fsm.StateFailed,
		StartedAt:  started,
		FinishedAt: finished,
		Err:        errors.New("boom"),
	})
	require.Contains(t, logBuf.String(), "session failed")
	require.Contains(t, logBuf.String(), "boom")
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	xdgStateHome := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte("\n"), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func writeRunnerConfig(t *testing.T, path string, baseURL string) {
	t.Helper()

	content := `{
  // test backend
  "backend": {"base_url": "` + baseURL + `", "timeout_ms": 2000},
  "playback": {"enable": false},
  "indicator": {"sound_enable": false},
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

type interviewServer struct {
	*httptest.Server
	transcripts chan string
}

func (s *interviewServer) lastTranscript() string {
	select {
	case text := <-s.transcripts:
		return text
	default:
		return ""
	}
}

// newInterviewServer serves a one-question interview. startStatus other
// than 200 fails the start call.
func newInterviewServer(t *testing.T, startStatus int) *interviewServer {
	t.Helper()

	s := &interviewServer{transcripts: make(chan string, 4)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/interview/start-interview":
			if startStatus != http.StatusOK {
				w.WriteHeader(startStatus)
				_, _ = w.Write([]byte(`{"detail":"interview not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"response_id":"r1","session_id":"s1","session_token":"t1"}`))
		case "/api/interview/get-current-question":
			_, _ = w.Write([]byte(`{"current_question":"Why Go?","question_number":1,"total_questions":1}`))
		case "/api/interview/submit-answer":
			var body struct {
				Transcript string `json:"transcript"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			s.transcripts <- body.Transcript
			_, _ = w.Write([]byte(`{"complete":true,"question_number":1,"total_questions":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not Found"}`))
		}
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
