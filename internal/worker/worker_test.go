package worker

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
	"github.com/arlowe/soundbridge/internal/queue"
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

func TestSenderPushesChunksUntilStopped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.wav")
	writeTestWAV(t, path, []int{1, 2, 3, 4, 5, 6, 7, 8}, 8000, 1)

	dev := &audiodevice.WAVFileDevice{InputPath: path}
	cfg := audioconfig.Config{SampleRate: 8000, Channels: 1, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 2}
	info, err := dev.DefaultInputDevice()
	require.NoError(t, err)
	stream, err := dev.OpenInputStream(info, cfg)
	require.NoError(t, err)

	q := queue.NewChunkQueueWithCapacity(8)
	s := NewSender("test-sender", stream, nil, q, cfg.FramesPerChunk)
	s.Start()

	assert.Eventually(t, func() bool { return q.Len() > 0 }, time.Second, time.Millisecond)
	s.Stop()
}

func TestReceiverWritesSilenceWhenQueueEmpty(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.wav")
	dev := &audiodevice.WAVFileDevice{OutputPath: outPath}
	cfg := audioconfig.Config{SampleRate: 8000, Channels: 1, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 2}
	info, err := dev.DefaultOutputDevice()
	require.NoError(t, err)
	stream, err := dev.OpenOutputStream(info, cfg)
	require.NoError(t, err)

	q := queue.NewChunkQueueWithCapacity(8)
	r := NewReceiver("test-receiver", stream, nil, q, cfg.ChunkSize())
	r.Start()
	time.Sleep(10 * time.Millisecond)
	r.Stop()

	require.NoError(t, stream.Close())
	_, err = os.Stat(outPath)
	assert.NoError(t, err)
}

func TestRunFlagStartIsIdempotent(t *testing.T) {
	f := NewRunFlag()
	require.True(t, f.TryStart())
	assert.False(t, f.TryStart())
	go f.Done()
	f.Stop()
}
