package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlowe/soundbridge/internal/audioconfig"
)

func TestPassthroughWhenConfigsMatch(t *testing.T) {
	cfg := audioconfig.Config{SampleRate: 48000, Channels: 2, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 4}
	c := New(cfg, cfg)
	assert.Empty(t, c.stages)

	chunk := encodePCM16(t, []int16{1, 2, 3, 4})
	assert.Equal(t, chunk, c.Convert(chunk))
}

func TestMonoToStereoDoublesChannelInterleave(t *testing.T) {
	src := audioconfig.Config{SampleRate: 8000, Channels: 1, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 2}
	dst := audioconfig.Config{SampleRate: 8000, Channels: 2, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 2}
	c := New(src, dst)

	chunk := encodePCM16(t, []int16{1000, -1000})
	out := c.Convert(chunk)
	require.Len(t, out, 2*2*2) // 2 frames * 2 channels * 2 bytes

	left := int16(uint16(out[0]) | uint16(out[1])<<8)
	right := int16(uint16(out[2]) | uint16(out[3])<<8)
	assert.Equal(t, left, right)
}

func TestStereoToMonoAverages(t *testing.T) {
	src := audioconfig.Config{SampleRate: 8000, Channels: 2, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 1}
	dst := audioconfig.Config{SampleRate: 8000, Channels: 1, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 1}
	c := New(src, dst)

	chunk := encodePCM16(t, []int16{1000, 2000})
	out := c.Convert(chunk)
	require.Len(t, out, 2)

	mono := int16(uint16(out[0]) | uint16(out[1])<<8)
	assert.InDelta(t, 1500, mono, 1)
}

func TestResampleProducesNonEmptyOutput(t *testing.T) {
	src := audioconfig.Config{SampleRate: 8000, Channels: 1, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 80}
	dst := audioconfig.Config{SampleRate: 16000, Channels: 1, AudioDtype: audioconfig.Int16LE, FramesPerChunk: 160}
	c := New(src, dst)

	samples := make([]int16, 80)
	for i := range samples {
		samples[i] = int16(i * 100)
	}
	out := c.Convert(encodePCM16(t, samples))
	assert.NotEmpty(t, out)
}

func encodePCM16(t *testing.T, samples []int16) []byte {
	t.Helper()
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[2*i] = byte(s)
		b[2*i+1] = byte(s >> 8)
	}
	return b
}
