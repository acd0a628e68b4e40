// Package playback plays question audio through an external player process.
package playback

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rbright/intervue/internal/config"
)

// ErrNoPlayer is returned when no player command is configured or found.
var ErrNoPlayer = errors.New("no audio player available")

// ErrClosed is returned by playback calls after Close.
var ErrClosed = errors.New("player is closed")

// ErrNothingToReplay is returned by Replay before any clip played.
var ErrNothingToReplay = errors.New("no question audio to replay")

// candidates are tried in order when no command is configured.
var candidates = [][]string{
	{"mpv", "--no-video", "--really-quiet"},
	{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
	{"pw-play"},
}

// DetectCommand returns the first installed player from the built-in list.
func DetectCommand(lookPath func(string) (string, error)) []string {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, argv := range candidates {
		if _, err := lookPath(argv[0]); err == nil {
			return append([]string(nil), argv...)
		}
	}
	return nil
}

// Process is one running player.
type Process interface {
	Wait() error
	Kill() error
}

// Runner starts player processes.
type Runner interface {
	Start(argv []string) (Process, error)
}

// ExecRunner runs real OS processes.
type ExecRunner struct{}

func (ExecRunner) Start(argv []string) (Process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Wait() error { return p.cmd.Wait() }
func (p execProcess) Kill() error { return p.cmd.Process.Kill() }

// Options configures a Player.
type Options struct {
	Command []string
	Runner  Runner
	TempDir string
	Logger  *slog.Logger
}

type live struct {
	gen  int
	proc Process
	done chan struct{}
}

// Player keeps at most one playback alive. Starting a clip kills the
// previous player first.
type Player struct {
	argv    []string
	runner  Runner
	tempDir string
	logger  *slog.Logger

	mu       sync.Mutex
	gen      int
	current  *live
	lastPath string
	observer func(bool)
	closed   bool
}

// New builds a player. An empty command disables playback.
func New(opts Options) *Player {
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Player{
		argv:    append([]string(nil), opts.Command...),
		runner:  runner,
		tempDir: opts.TempDir,
		logger:  logger,
	}
}

// Observe registers fn to be called whenever the playing flag changes.
func (p *Player) Observe(fn func(playing bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = fn
}

// Available reports whether a player command is configured.
func (p *Player) Available() bool {
	return len(p.argv) > 0
}

// Playing reports whether a clip is currently audible.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// PlayBase64 decodes a base64 clip (optionally a data: URL) and plays it.
func (p *Player) PlayBase64(encoded string, contentType string) error {
	audio, err := DecodeBase64(encoded)
	if err != nil {
		p.logger.Warn("question audio decode failed", "error", err.Error())
		return err
	}
	return p.Play(audio, contentType)
}

// Play writes audio to a temp file and starts the player on it.
func (p *Player) Play(audio []byte, contentType string) error {
	if len(audio) == 0 {
		return errors.New("question audio is empty")
	}
	if !p.Available() {
		return ErrNoPlayer
	}
	if p.isClosed() {
		return ErrClosed
	}

	path, err := p.writeClip(audio, contentType)
	if err != nil {
		p.logger.Warn("question audio write failed", "error", err.Error())
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = os.Remove(path)
		return ErrClosed
	}
	previous := p.lastPath
	p.lastPath = path
	p.mu.Unlock()
	if previous != "" && previous != path {
		_ = os.Remove(previous)
	}

	return p.start(path)
}

// Replay restarts the last clip from the beginning.
func (p *Player) Replay() error {
	p.mu.Lock()
	path := p.lastPath
	p.mu.Unlock()
	if path == "" {
		return ErrNothingToReplay
	}
	return p.start(path)
}

// Stop kills the live playback, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	current := p.current
	p.current = nil
	observer := p.observer
	p.mu.Unlock()

	if current == nil {
		return
	}
	_ = current.proc.Kill()
	<-current.done
	if observer != nil {
		observer(false)
	}
}

// Close stops playback and removes the cached clip.
func (p *Player) Close() error {
	p.Stop()
	p.mu.Lock()
	path := p.lastPath
	p.lastPath = ""
	p.closed = true
	p.mu.Unlock()
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (p *Player) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Player) start(path string) error {
	p.Stop()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	argv := commandFor(p.argv, path)
	proc, err := p.runner.Start(argv)
	if err != nil {
		p.mu.Unlock()
		p.logger.Warn("question audio playback failed", "player", argv[0], "error", err.Error())
		return fmt.Errorf("start %s: %w", argv[0], err)
	}
	p.gen++
	current := &live{gen: p.gen, proc: proc, done: make(chan struct{})}
	p.current = current
	observer := p.observer
	p.mu.Unlock()

	if observer != nil {
		observer(true)
	}
	go p.wait(current)
	return nil
}

func (p *Player) wait(l *live) {
	err := l.proc.Wait()
	close(l.done)

	p.mu.Lock()
	if p.current == nil || p.current.gen != l.gen {
		p.mu.Unlock()
		return
	}
	p.current = nil
	observer := p.observer
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("question audio player exited with error", "error", err.Error())
	}
	if observer != nil {
		observer(false)
	}
}

func (p *Player) writeClip(audio []byte, contentType string) (string, error) {
	f, err := os.CreateTemp(p.tempDir, "intervue-question-*"+extensionFor(contentType))
	if err != nil {
		return "", fmt.Errorf("create temp clip: %w", err)
	}
	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write temp clip: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close temp clip: %w", err)
	}
	return f.Name(), nil
}

// DecodeBase64 accepts standard or unpadded base64, with or without a
// data: URL prefix.
func DecodeBase64(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 {
			return nil, errors.New("malformed data URL")
		}
		encoded = encoded[comma+1:]
	}
	if encoded == "" {
		return nil, errors.New("question audio is empty")
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err == nil {
		return audio, nil
	}
	audio, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if rawErr == nil {
		return audio, nil
	}
	return nil, fmt.Errorf("decode question audio: %w", err)
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	default:
		return ".mp3"
	}
}

// commandFor places path at the file placeholder, or after the last
// argument when the command has none.
func commandFor(base []string, path string) []string {
	argv := make([]string, 0, len(base)+1)
	placed := false
	for _, arg := range base {
		if strings.Contains(arg, config.FilePlaceholder) {
			arg = strings.ReplaceAll(arg, config.FilePlaceholder, path)
			placed = true
		}
		argv = append(argv, arg)
	}
	if !placed {
		argv = append(argv, path)
	}
	return argv
}
