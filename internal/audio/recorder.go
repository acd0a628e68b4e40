package audio

import (
	"context"
	"log/slog"
	"time"
)

// Recorder opens capture episodes on the configured microphone, falling back
// per Choose. Clips are optionally dumped to DumpDir.
type Recorder struct {
	Input    string
	Fallback string
	DumpDir  string
	Logger   *slog.Logger
}

// Episode is the live half of a recording: stopping it yields the clip.
// Notice explains a microphone fallback to the candidate, or is empty.
type Episode interface {
	Stop() (Clip, error)
	Notice() string
}

// Start selects a device and begins one recording episode.
func (r Recorder) Start(ctx context.Context) (Episode, error) {
	selection, err := SelectDevice(ctx, r.Input, r.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Fallback() && r.Logger != nil {
		r.Logger.Warn("microphone fallback",
			"skipped", selection.Skipped.ID,
			"reason", selection.Reason,
			"device", selection.Device.ID,
		)
	}

	capture, err := StartCapture(ctx, selection.Device)
	if err != nil {
		return nil, err
	}
	if r.Logger != nil {
		r.Logger.Info("recording started", "episode_id", capture.EpisodeID(), "device", selection.Device.ID)
	}
	return &dumpingEpisode{capture: capture, recorder: r, notice: selection.Notice()}, nil
}

type dumpingEpisode struct {
	capture  *Capture
	recorder Recorder
	notice   string
}

func (e *dumpingEpisode) Notice() string {
	return e.notice
}

func (e *dumpingEpisode) Stop() (Clip, error) {
	clip, err := e.capture.Stop()
	if err != nil {
		return clip, err
	}
	if e.recorder.DumpDir != "" && len(clip.PCM) > 0 {
		path, derr := DumpClip(e.recorder.DumpDir, clip, time.Now())
		if e.recorder.Logger != nil {
			if derr != nil {
				e.recorder.Logger.Warn("unable to write debug audio dump", "error", derr.Error())
			} else {
				e.recorder.Logger.Info("debug audio dump written", "path", path)
			}
		}
	}
	return clip, nil
}
