package session

import (
	"errors"
	"fmt"
	"sync"
)

// scope tracks acquired resources. Each handle releases at most once; Close
// releases whatever is still held, newest first.
type scope struct {
	mu      sync.Mutex
	handles []*handle
	closed  bool
}

type handle struct {
	name    string
	release func() error
	once    sync.Once
	err     error
}

// Release runs the release function the first time it is called.
func (h *handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if h.release != nil {
			h.err = h.release()
		}
	})
	return h.err
}

// Disarm marks the handle released without running it. Owners that freed
// the resource on their own path use it so Close does not free it twice.
func (h *handle) Disarm() {
	if h == nil {
		return
	}
	h.once.Do(func() {})
}

func (s *scope) Acquire(name string, release func() error) *handle {
	h := &handle{name: name, release: release}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = h.Release()
		return h
	}
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h
}

func (s *scope) Close() error {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for i := len(handles) - 1; i >= 0; i-- {
		if err := handles[i].Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", handles[i].name, err))
		}
	}
	return errors.Join(errs...)
}
