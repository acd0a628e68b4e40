package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	SampleRate       = 16000
	Channels         = 1
	fragmentSizeByte = 640 // 20ms @ 16kHz mono s16
)

// ErrNotRecording is returned by Stop on an episode that already ended.
var ErrNotRecording = errors.New("capture is not recording")

// Clip is one finalized recording episode.
type Clip struct {
	EpisodeID string
	Device    Device
	PCM       []byte
	Fragments int
}

// WAV returns the clip wrapped in a RIFF PCM16 container.
func (c Clip) WAV() []byte {
	return EncodeWAV(c.PCM, SampleRate, Channels)
}

// Duration is the audio length of the clip.
func (c Clip) Duration() time.Duration {
	samples := len(c.PCM) / (2 * Channels)
	return time.Duration(samples) * time.Second / SampleRate
}

// Capture owns one Pulse record stream for the length of a recording
// episode. Fragments are kept in arrival order and only ever appended.
type Capture struct {
	episodeID string
	device    Device

	client *pulse.Client
	stream *pulse.RecordStream

	mu        sync.Mutex
	fragments [][]byte
	bytes     int64
	stopped   bool
	done      chan struct{}
}

// StartCapture opens a 16kHz mono s16 record stream on selected.
// The stream is stopped when ctx ends.
func StartCapture(ctx context.Context, selected Device) (*Capture, error) {
	client, err := connect()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	capture := &Capture{
		episodeID: uuid.NewString(),
		device:    selected,
		client:    client,
	}

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(fragmentSizeByte),
		pulse.RecordMediaName("intervue answer"),
	)
	if err != nil {
		_, _ = capture.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()

	capture.stopWhenDone(ctx)
	return capture, nil
}

// stopWhenDone stops the capture if ctx ends first. The returned channel is
// closed once the watcher has exited, which happens on either outcome.
func (c *Capture) stopWhenDone(ctx context.Context) <-chan struct{} {
	c.mu.Lock()
	if c.done == nil {
		c.done = make(chan struct{})
		if c.stopped {
			close(c.done)
		}
	}
	done := c.done
	c.mu.Unlock()

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_, _ = c.Stop()
		case <-done:
		}
	}()
	return exited
}

// EpisodeID identifies this recording episode in logs.
func (c *Capture) EpisodeID() string {
	return c.episodeID
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Stop releases the record stream and the Pulse connection, then merges the
// buffered fragments into one clip. The device is released even when the
// episode captured nothing. Later calls return ErrNotRecording.
func (c *Capture) Stop() (Clip, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return Clip{}, ErrNotRecording
	}
	c.stopped = true
	if c.done != nil {
		close(c.done)
	}
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.mu.Lock()
	fragments := c.fragments
	c.fragments = nil
	total := c.bytes
	c.mu.Unlock()

	pcm := make([]byte, 0, total)
	for _, fragment := range fragments {
		pcm = append(pcm, fragment...)
	}

	return Clip{
		EpisodeID: c.episodeID,
		Device:    c.device,
		PCM:       pcm,
		Fragments: len(fragments),
	}, nil
}

// onPCM appends one Pulse buffer as a fragment.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return 0, io.EOF
	}

	fragment := make([]byte, len(buffer))
	copy(fragment, buffer)
	c.fragments = append(c.fragments, fragment)
	c.bytes += int64(len(buffer))

	return len(buffer), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
