package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlowe/soundbridge/internal/audioconfig"
	"github.com/arlowe/soundbridge/internal/audiodevice"
)

func writeTestWAV(t *testing.T, path string, samples []int, sampleRate, channels int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
		Data:   samples,
	}))
	require.NoError(t, enc.Close())
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.wav")
	outPath := filepath.Join(dir, "out.wav")
	writeTestWAV(t, inPath, []int{1, 2, 3, 4, 5, 6, 7, 8}, 48000, 2)

	s, err := New(Options{
		DataAddr:       "127.0.0.1:0",
		ControlAddr:    "127.0.0.1:0",
		FramesPerChunk: 32,
		AudioDtype:     audioconfig.Int16LE,
		NewDevice: func() (audiodevice.Device, error) {
			return &audiodevice.WAVFileDevice{InputPath: inPath, OutputPath: outPath}, nil
		},
	})
	require.NoError(t, err)
	return s, dir
}

func TestNewServerDerivesConfigsFromDefaultDevices(t *testing.T) {
	s, _ := newTestServer(t)
	defer s.Stop()

	assert.Equal(t, 2, s.SpeakerConfig().Channels)
	assert.Equal(t, 2, s.MicrophoneConfig().Channels)
}

func TestToggleMicrophoneFlipsWorkerState(t *testing.T) {
	s, _ := newTestServer(t)
	defer s.Stop()

	require.False(t, s.microphone.Running())
	assert.True(t, s.ToggleMicrophone())
	assert.True(t, s.microphone.Running())
	assert.False(t, s.ToggleMicrophone())
}

func TestStartAndStopRunsWithoutError(t *testing.T) {
	s, _ := newTestServer(t)
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}
