//go:build integration

package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListDevicesIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	devices, err := ListDevices(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, devices)
}

func TestRecorderEpisodeIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	episode, err := Recorder{Input: "default", Fallback: "default"}.Start(ctx)
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)

	clip, err := episode.Stop()
	require.NoError(t, err)
	require.NotEmpty(t, clip.PCM)
	require.NotEmpty(t, clip.EpisodeID)
}
