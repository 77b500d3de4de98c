package audioconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// validConfig generates a Config guaranteed to pass Validate(): small enough
// chunk sizes, a recognized dtype, strictly positive fields.
func validConfig(t *rapid.T) Config {
	dtype := rapid.SampledFrom([]Dtype{Int16LE, Int32LE, Float32}).Draw(t, "dtype")
	sampleBytes := SampleSize(dtype)
	channels := rapid.IntRange(1, 2).Draw(t, "channels")
	maxFrames := MaxPacketSize / (channels * sampleBytes)
	framesPerChunk := rapid.IntRange(1, maxFrames).Draw(t, "framesPerChunk")
	sampleRate := rapid.IntRange(8000, 192000).Draw(t, "sampleRate")

	return Config{
		SampleRate:     sampleRate,
		Channels:       channels,
		AudioDtype:     dtype,
		FramesPerChunk: framesPerChunk,
	}
}

// Property 4 (spec.md §8): for any valid Config c, FromBytes(ToBytes(c)) == c.
func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := validConfig(t)
		require.NoError(t, cfg.Validate())

		got, ok := FromBytes(cfg.ToBytes())
		require.True(t, ok)
		assert.Equal(t, cfg, got)
	})
}

// FromBytes on malformed input returns false, never panics.
func TestFromBytesMalformedNeverPanics(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte(""),
		[]byte("not json"),
		[]byte(`{"sample_rate": 48000}`),                                                       // missing keys
		[]byte(`{"sample_rate": 48000, "channels": 2, "audio_dtype": 8, "frames_per_chunk": 1.5}`), // non-integer
		[]byte(`{"sample_rate": 48000, "channels": 2, "audio_dtype": 8, "frames_per_chunk": "32"}`), // wrong type
		[]byte(`[1,2,3]`),                                                                         // not an object
		[]byte(`{"sample_rate": 48000, "channels": 2, "audio_dtype": 8, "frames_per_chunk": 32, "extra": 1}`),
		[]byte(`{"sample_rate": -1, "channels": 2, "audio_dtype": 8, "frames_per_chunk": 32}`), // fails Validate
	}
	for _, c := range cases {
		assert.NotPanics(t, func() {
			_, ok := FromBytes(c)
			assert.False(t, ok)
		})
	}
}

func TestChunkSizeAndDuration(t *testing.T) {
	cfg := Config{SampleRate: 48000, Channels: 2, AudioDtype: Int16LE, FramesPerChunk: 32}
	assert.Equal(t, 128, cfg.ChunkSize())
	assert.InDelta(t, float64(32)/48000, cfg.ChunkDuration().Seconds(), 1e-9)
}

func TestValidateRejectsOversizedChunk(t *testing.T) {
	cfg := Config{SampleRate: 48000, Channels: 8, AudioDtype: Float32, FramesPerChunk: 4096}
	require.Greater(t, cfg.ChunkSize(), MaxPacketSize)
	assert.Error(t, cfg.Validate())
}
