// Package indicator plays short synthesized audio cues for session events.
package indicator

import (
	"log/slog"
	"sync"
)

// Cues emits one tone per session milestone. Playback is asynchronous and
// serialized so cues never overlap each other.
type Cues struct {
	enabled bool
	logger  *slog.Logger
	play    func([]int16) error

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewCues builds a cue player. When enabled is false every cue is a no-op.
func NewCues(enabled bool, logger *slog.Logger) *Cues {
	return &Cues{enabled: enabled, logger: logger, play: playSynthCue}
}

func (c *Cues) RecordingStarted() { c.emit(cueRecord) }
func (c *Cues) RecordingStopped() { c.emit(cueStop) }
func (c *Cues) AnswerAccepted()   { c.emit(cueComplete) }
func (c *Cues) InterviewEnded()   { c.emit(cueEnd) }
func (c *Cues) Failed()           { c.emit(cueError) }

// Wait blocks until queued cues finished playing.
func (c *Cues) Wait() {
	c.wg.Wait()
}

func (c *Cues) emit(kind cueKind) {
	if c == nil || !c.enabled {
		return
	}
	samples := cueSamples(kind)
	if len(samples) == 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.play(samples); err != nil && c.logger != nil {
			c.logger.Debug("indicator audio cue failed", "error", err.Error())
		}
	}()
}
