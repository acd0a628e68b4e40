package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// SocketName is the owner socket file inside $XDG_RUNTIME_DIR.
const SocketName = "intervue.sock"

// ErrAlreadyRunning reports a responsive owner on the socket.
var ErrAlreadyRunning = errors.New("an interview session is already running")

// RuntimeSocketPath resolves the owner socket path.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// AcquireOptions tunes stale-socket recovery.
type AcquireOptions struct {
	ProbeTimeout time.Duration
	Retries      int
}

// Owner is the listening end held by the single running session.
type Owner struct {
	net.Listener
	Path string
}

// Close stops listening and unlinks the socket file. Closing an owner
// whose listener was already shut down only removes the file.
func (o *Owner) Close() error {
	var errs []error
	if err := o.Listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	if err := os.Remove(o.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Acquire makes the caller the session owner by listening on path. A
// socket left behind by a crashed owner is unlinked and retried. A
// responsive owner yields ErrAlreadyRunning. An owner that accepts but does
// not answer is left in place.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (*Owner, error) {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 200 * time.Millisecond
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return &Owner{Listener: listener, Path: path}, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		switch {
		case alive:
			return nil, ErrAlreadyRunning
		case probeErr != nil:
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}

		if attempt < opts.Retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("socket %s still busy after %d attempts", path, opts.Retries+1)
}
