package audiodevice

import (
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlowe/soundbridge/internal/audioconfig"
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

func TestWAVFileDeviceInputStreamLoops(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.wav")
	writeTestWAV(t, path, []int{1, 2, 3, 4}, 8000, 1)

	dev := &WAVFileDevice{InputPath: path}
	cfg := audioconfig.Config{SampleRate: 8000, Channels: 1, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 3}
	info, err := dev.DefaultInputDevice()
	require.NoError(t, err)

	stream, err := dev.OpenInputStream(info, cfg)
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Read(3)
	require.NoError(t, err)
	assert.Len(t, chunk, 3*2)

	chunk2, err := stream.Read(3)
	require.NoError(t, err)
	assert.NotEqual(t, chunk, chunk2, "looping should keep advancing the cursor")
}

func TestWAVFileDeviceOutputStreamWritesFile(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.wav")

	dev := &WAVFileDevice{OutputPath: outPath}
	cfg := audioconfig.Config{SampleRate: 8000, Channels: 1, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 2}
	info, err := dev.DefaultOutputDevice()
	require.NoError(t, err)

	stream, err := dev.OpenOutputStream(info, cfg)
	require.NoError(t, err)

	require.NoError(t, stream.Write(encodePCM([]int{10, 20}, audioconfig.Int16LE)))
	require.NoError(t, stream.Close())

	_, err = os.Stat(outPath)
	assert.NoError(t, err)
}

func TestEncodeDecodePCMRoundTrip(t *testing.T) {
	for _, dtype := range []audioconfig.Dtype{audioconfig.Int16LE, audioconfig.Int32LE} {
		samples := []int{0, 100, -100, 32767, -32768}
		encoded := encodePCM(samples, dtype)
		decoded := decodePCM(encoded, dtype)
		assert.Equal(t, samples, decoded)
	}
}
