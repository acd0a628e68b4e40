package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/intervue/internal/audio"
	"github.com/rbright/intervue/internal/backend"
	"github.com/rbright/intervue/internal/cli"
	"github.com/rbright/intervue/internal/config"
	"github.com/rbright/intervue/internal/console"
	"github.com/rbright/intervue/internal/doctor"
	"github.com/rbright/intervue/internal/indicator"
	"github.com/rbright/intervue/internal/ipc"
	"github.com/rbright/intervue/internal/logging"
	"github.com/rbright/intervue/internal/playback"
	"github.com/rbright/intervue/internal/realtime"
	"github.com/rbright/intervue/internal/report"
	"github.com/rbright/intervue/internal/session"
	"github.com/rbright/intervue/internal/version"
)

const (
	binaryName     = "intervue"
	dotEnvFile     = ".env"
	forwardTimeout = 6 * time.Second
	probeTimeout   = 180 * time.Millisecond
)

type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	r := Runner{Stdin: stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	if err := config.LoadDotEnv(dotEnvFile); err != nil {
		fmt.Fprintf(r.Stderr, "warning: %v\n", err)
		logger.Warn("dotenv load failed", "error", err.Error())
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	if parsed.Remote() {
		return r.forwardOrFail(ctx, ipc.Request{Command: string(parsed.Command), Text: parsed.Text})
	}

	switch parsed.Command {
	case cli.CommandJoin:
		return r.commandJoin(ctx, parsed, cfgLoaded.Config, logRuntime.RunID, logger)
	case cli.CommandDoctor:
		result := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, result.String())
		if result.OK() {
			return 0
		}
		return 1
	case cli.CommandConfig:
		out, err := config.Show(cfgLoaded.Config)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		_, _ = r.Stdout.Write(out)
		return 0
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := ipc.Forward(ctx, socketPath, ipc.Request{Command: "status"}, forwardTimeout)
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if resp.State == "" {
		resp.State = "idle"
	}
	fmt.Fprintln(r.Stdout, resp.State)
	if resp.Question != "" {
		fmt.Fprintf(r.Stdout, "question %s: %s\n", resp.Progress, resp.Question)
	}
	if resp.Remaining != nil {
		fmt.Fprintf(r.Stdout, "time left %s\n", console.FormatRemaining(*resp.Remaining))
	}
	if draft := strings.TrimSpace(resp.Draft); draft != "" {
		fmt.Fprintf(r.Stdout, "answer: %s\n", draft)
	}
	if resp.Message != "" {
		fmt.Fprintf(r.Stdout, "! %s\n", resp.Message)
	}
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := ipc.Forward(ctx, socketPath, req, forwardTimeout)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: no active interview session")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandJoin(ctx context.Context, parsed cli.Parsed, cfg config.Config, runID string, logger *slog.Logger) int {
	cfg.Candidate = mergeCandidate(cfg.Candidate, parsed)
	if missing := missingCandidate(cfg.Candidate); len(missing) > 0 {
		fmt.Fprintf(r.Stderr, "error: join requires %s\n", strings.Join(missing, ", "))
		return 2
	}
	if _, err := config.Validate(cfg); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 2
	}

	owner, err := r.acquireOwner(ctx, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if owner != nil {
		defer func() { _ = owner.Close() }()
	}

	cues := indicator.NewCues(cfg.Indicator.SoundEnable, logger)
	defer cues.Wait()

	timeout := time.Duration(cfg.Backend.TimeoutMS) * time.Millisecond
	opts := session.Options{
		Context: session.Context{
			InterviewID:    cfg.Candidate.InterviewID,
			CandidateName:  cfg.Candidate.Name,
			CandidateEmail: cfg.Candidate.Email,
		},
		VoiceID: cfg.Backend.VoiceID,
		Backend: backend.New(cfg.Backend.BaseURL, timeout, backend.WithRunID(runID)),
		Dialer: session.RealtimeDialer(realtime.Dialer{
			BaseURL:    cfg.Backend.BaseURL,
			SocketPath: cfg.Backend.SocketPath,
			Logger:     logger,
		}),
		Recorder: audio.Recorder{
			Input:    cfg.Audio.Input,
			Fallback: cfg.Audio.Fallback,
			DumpDir:  audioDumpDir(cfg.Debug, logger),
			Logger:   logger,
		},
		Cues:        cues,
		View:        console.NewRenderer(r.Stdout),
		Logger:      logger,
		CallTimeout: timeout,
	}
	if player := newPlayer(cfg.Playback, logger); player != nil {
		opts.Player = player
	} else if cfg.Playback.Enable {
		fmt.Fprintln(r.Stderr, "warning: no audio player found; questions will be shown as text only")
	}
	controller := session.New(opts)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	if owner != nil {
		server := &ipc.Server{Handler: controller, Logger: logger}
		go func() {
			serverErrCh <- server.Serve(serverCtx, owner)
		}()
	} else {
		serverErrCh <- nil
	}

	if r.Stdin != nil {
		go func() {
			if err := console.ReadCommands(serverCtx, r.Stdin, controller, r.Stdout); err != nil {
				logger.Warn("console input closed", "error", err.Error())
			}
		}()
	}

	result := controller.Run(ctx)
	serverCancel()
	serverErr := <-serverErrCh

	logSessionResult(logger, result)

	exitCode := 0
	if serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		exitCode = 1
	}
	if parsed.ReportPath != "" {
		meta := report.Meta{
			RunID:          runID,
			InterviewID:    cfg.Candidate.InterviewID,
			CandidateName:  cfg.Candidate.Name,
			CandidateEmail: cfg.Candidate.Email,
		}
		if err := report.Write(parsed.ReportPath, report.Build(meta, result)); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			exitCode = 1
		} else {
			logger.Info("session report written", "path", parsed.ReportPath)
		}
	}
	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}
	return exitCode
}

// acquireOwner claims the runtime socket. Without XDG_RUNTIME_DIR the
// session still runs, only remote commands are unavailable.
func (r Runner) acquireOwner(ctx context.Context, logger *slog.Logger) (*ipc.Owner, error) {
	path, err := ipc.RuntimeSocketPath()
	if err != nil {
		logger.Warn("remote commands disabled", "error", err.Error())
		return nil, nil
	}
	return ipc.Acquire(ctx, path, ipc.AcquireOptions{ProbeTimeout: probeTimeout, Retries: 8})
}

func mergeCandidate(c config.CandidateConfig, parsed cli.Parsed) config.CandidateConfig {
	if v := strings.TrimSpace(parsed.InterviewID); v != "" {
		c.InterviewID = v
	}
	if v := strings.TrimSpace(parsed.Name); v != "" {
		c.Name = v
	}
	if v := strings.TrimSpace(parsed.Email); v != "" {
		c.Email = v
	}
	return c
}

func missingCandidate(c config.CandidateConfig) []string {
	var missing []string
	if strings.TrimSpace(c.InterviewID) == "" {
		missing = append(missing, "--interview")
	}
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "--name")
	}
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, "--email")
	}
	return missing
}

func newPlayer(cfg config.PlaybackConfig, logger *slog.Logger) *playback.Player {
	if !cfg.Enable {
		return nil
	}
	argv := cfg.Command.Argv
	if len(argv) == 0 {
		argv = playback.DetectCommand(exec.LookPath)
	}
	if len(argv) == 0 {
		return nil
	}
	return playback.New(playback.Options{Command: argv, Logger: logger})
}

func audioDumpDir(cfg config.DebugConfig, logger *slog.Logger) string {
	if !cfg.EnableAudioDump {
		return ""
	}
	dir, err := logging.StateDir()
	if err != nil {
		logger.Warn("audio dump disabled", "error", err.Error())
		return ""
	}
	return filepath.Join(dir, "clips")
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"state", result.State,
		"response_id", result.ResponseID,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"answers_submitted", result.AnswersSubmitted,
		"clips_sent", result.ClipsSent,
		"bytes_sent", result.BytesSent,
	}
	if c := result.Completion; c != nil {
		fields = append(fields,
			"progress", c.Progress(),
			"partial", c.PartiallyComplete,
			"reason", c.Reason,
		)
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}
