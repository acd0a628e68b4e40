// Package doctor runs readiness diagnostics for config, backend, audio input, and playback.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/intervue/internal/audio"
	"github.com/rbright/intervue/internal/backend"
	"github.com/rbright/intervue/internal/config"
	"github.com/rbright/intervue/internal/ipc"
	"github.com/rbright/intervue/internal/playback"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: message})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "remote commands can reach the session", "XDG_RUNTIME_DIR is empty; remote commands are unavailable"))

	checks = append(checks, checkCandidate(cfg.Config))
	checks = append(checks, checkBackend(ctx, cfg.Config))
	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	if cfg.Config.Playback.Enable {
		checks = append(checks, checkPlayer(cfg.Config.Playback.Command.Argv))
	}
	checks = append(checks, checkSession(ctx))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCandidate reports which join defaults are still missing. Flags can
// supply them, so gaps are informational.
func checkCandidate(cfg config.Config) Check {
	var missing []string
	if strings.TrimSpace(cfg.Candidate.InterviewID) == "" {
		missing = append(missing, "interview_id")
	}
	if strings.TrimSpace(cfg.Candidate.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(cfg.Candidate.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) == 0 {
		return Check{Name: "candidate", Pass: true, Message: fmt.Sprintf("%s joining %s", cfg.Candidate.Name, cfg.Candidate.InterviewID)}
	}
	return Check{Name: "candidate", Pass: true, Message: "pass --" + strings.Join(missing, ", --") + " to join"}
}

// checkBackend probes the interview service health endpoint.
func checkBackend(ctx context.Context, cfg config.Config) Check {
	client := backend.New(cfg.Backend.BaseURL, 2*time.Second)
	if err := client.Health(ctx); err != nil {
		return Check{Name: "backend.health", Pass: false, Message: backend.Message(err)}
	}
	return Check{Name: "backend.health", Pass: true, Message: fmt.Sprintf("reachable at %s", client.BaseURL())}
}

// checkPlayer validates the configured or detected question audio player.
func checkPlayer(argv []string) Check {
	if len(argv) == 0 {
		argv = playback.DetectCommand(exec.LookPath)
		if len(argv) == 0 {
			return Check{Name: "playback", Pass: false, Message: "no audio player found (install mpv, ffplay or pw-play, or set playback.command)"}
		}
	}
	return checkBinary(argv[0], "question audio player")
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	return describeSelection(selection, err)
}

func describeSelection(selection audio.Selection, err error) Check {
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	if selection.Fallback() {
		return Check{Name: "audio.device", Pass: true, Message: selection.Notice()}
	}
	return Check{Name: "audio.device", Pass: true, Message: fmt.Sprintf("recording from %q", selection.Device.Label())}
}

// checkSession reports whether another session already owns the socket.
func checkSession(ctx context.Context) Check {
	path, err := ipc.RuntimeSocketPath()
	if err != nil {
		return Check{Name: "session", Pass: true, Message: "no runtime dir; single-terminal mode"}
	}
	alive, err := ipc.Probe(ctx, path, 200*time.Millisecond)
	if err != nil {
		return Check{Name: "session", Pass: false, Message: err.Error()}
	}
	if alive {
		return Check{Name: "session", Pass: true, Message: "an interview session is running at " + path}
	}
	return Check{Name: "session", Pass: true, Message: "no session running"}
}
