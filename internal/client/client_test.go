package client

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

func TestClientStartAndStopExchangesAudioOverLoopback(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.wav")
	outPath := filepath.Join(dir, "out.wav")
	writeTestWAV(t, inPath, []int{1, 2, 3, 4, 5, 6, 7, 8}, 8000, 1)

	dev := &audiodevice.WAVFileDevice{InputPath: inPath, OutputPath: outPath}
	cfg := audioconfig.Config{SampleRate: 8000, Channels: 1, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 2}

	c, err := New(Options{
		LocalDataAddr:       "127.0.0.1:0",
		ServerDataAddr:      "127.0.0.1:0",
		Device:              dev,
		LoopbackName:        "wavfile-input",
		LoopbackHostAPI:     "file",
		VirtualCableName:    "wavfile-output",
		VirtualCableHostAPI: "file",
	}, cfg, cfg)
	require.NoError(t, err)

	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	assert.NotNil(t, c)
}
