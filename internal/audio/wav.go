package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const wavHeaderSize = 44

// EncodeWAV prefixes little-endian PCM16 samples with a minimal RIFF header.
func EncodeWAV(pcm []byte, sampleRate int, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * (bitsPerSample / 8)

	out := make([]byte, wavHeaderSize, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))

	return append(out, pcm...)
}

// DumpClip writes clip as a timestamped WAV file under dir/debug.
func DumpClip(dir string, clip Clip, now time.Time) (string, error) {
	debugDir := filepath.Join(dir, "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}

	name := fmt.Sprintf("answer-%s-%s.wav", now.Format("20060102-150405.000"), shortID(clip.EpisodeID))
	path := filepath.Join(debugDir, name)
	if err := os.WriteFile(path, clip.WAV(), 0o600); err != nil {
		return "", fmt.Errorf("write debug clip %q: %w", path, err)
	}
	return path, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "clip"
	}
	return id
}
