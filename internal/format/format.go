// Package format adapts PCM chunks between mismatched AudioConfigs: mono vs
// stereo, and differing sample rates. It is the asymmetric counterpart to
// spec.md §4.2's capture/playback worker pairs, needed whenever a server's
// default output device and a client's virtual cable disagree on format.
package format

import (
	"math"

	"github.com/oov/audio/resampler"

	"github.com/arlowe/soundbridge/internal/audioconfig"
)

// resampleQuality mirrors the teacher's constant; 10 is oov/audio/resampler's
// recommended quality/latency balance for speech-grade audio.
const resampleQuality = 10

// scratchBufferFrames bounds the per-call scratch buffers below. A single
// chunk at 48kHz stereo with 120ms of buffering tops out well under this.
const scratchBufferFrames = 16384

// stage is one conversion step applied to a planar (one slice per channel)
// float32 buffer, returning the (possibly different) number of frames
// produced.
type stage func(in [][]float32) (out [][]float32, frames int)

// Converter rewrites chunks encoded for src into chunks encoded for dst,
// applying channel remixing and resampling as needed. A Converter with no
// mismatches is a cheap passthrough.
type Converter struct {
	src, dst audioconfig.Config
	stages   []stage
}

// New builds a Converter from src to dst. Supported mismatches: mono<->stereo
// and arbitrary sample rate changes; both may apply together (remix happens
// before resampling, matching the teacher's ordering).
func New(src, dst audioconfig.Config) *Converter {
	c := &Converter{src: src, dst: dst}

	if src.Channels == 1 && dst.Channels == 2 {
		c.stages = append(c.stages, monoToStereo())
	}
	if src.Channels == 2 && dst.Channels == 1 {
		c.stages = append(c.stages, stereoToMono())
	}
	if src.SampleRate != dst.SampleRate {
		channels := src.Channels
		if src.Channels == 1 && dst.Channels == 2 {
			channels = 2
		} else if src.Channels == 2 && dst.Channels == 1 {
			channels = 1
		}
		c.stages = append(c.stages, newResampleStage(channels, src.SampleRate, dst.SampleRate))
	}

	return c
}

// Convert decodes chunk (encoded per Converter's src config), applies every
// configured stage, and re-encodes the result per the dst config.
func (c *Converter) Convert(chunk []byte) []byte {
	if len(c.stages) == 0 && c.src.AudioDtype == c.dst.AudioDtype {
		return chunk
	}
	planar := decodeInterleaved(chunk, c.src.AudioDtype, c.src.Channels)
	frames := 0
	if len(planar) > 0 {
		frames = len(planar[0])
	}

	for _, s := range c.stages {
		planar, frames = s(planar)
	}

	return encodeInterleaved(planar, frames, c.dst.AudioDtype)
}

func monoToStereo() stage {
	return func(in [][]float32) ([][]float32, int) {
		mono := in[0]
		left := make([]float32, len(mono))
		right := make([]float32, len(mono))
		copy(left, mono)
		copy(right, mono)
		return [][]float32{left, right}, len(mono)
	}
}

func stereoToMono() stage {
	return func(in [][]float32) ([][]float32, int) {
		left, right := in[0], in[1]
		n := min(len(left), len(right))
		mono := make([]float32, n)
		for i := 0; i < n; i++ {
			mono[i] = (left[i] + right[i]) / 2
		}
		return [][]float32{mono}, n
	}
}

func newResampleStage(channels, srcRate, dstRate int) stage {
	r := resampler.New(channels, srcRate, dstRate, resampleQuality)
	return func(in [][]float32) ([][]float32, int) {
		out := make([][]float32, channels)
		written := 0
		for ch := 0; ch < channels; ch++ {
			dst := make([]float32, scratchBufferFrames)
			_, w := r.ProcessFloat32(ch, in[ch], dst)
			out[ch] = dst[:w]
			written = w
		}
		return out, written
	}
}

// decodeInterleaved unpacks an interleaved PCM chunk of dtype/channels into
// one float32 slice per channel, normalized to [-1, 1] for integer formats.
func decodeInterleaved(chunk []byte, dtype audioconfig.Dtype, channels int) [][]float32 {
	size := audioconfig.SampleSize(dtype)
	if size == 0 || channels == 0 {
		return nil
	}
	frames := len(chunk) / (size * channels)
	planar := make([][]float32, channels)
	for ch := range planar {
		planar[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * size
			planar[ch][i] = decodeSample(chunk[off:off+size], dtype)
		}
	}
	return planar
}

// encodeInterleaved is the inverse of decodeInterleaved, clamping float32
// values back into dtype's integer range where applicable.
func encodeInterleaved(planar [][]float32, frames int, dtype audioconfig.Dtype) []byte {
	channels := len(planar)
	size := audioconfig.SampleSize(dtype)
	out := make([]byte, frames*channels*size)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * size
			encodeSample(planar[ch][i], dtype, out[off:off+size])
		}
	}
	return out
}

func decodeSample(b []byte, dtype audioconfig.Dtype) float32 {
	switch dtype {
	case audioconfig.Int16LE:
		v := int16(uint16(b[0]) | uint16(b[1])<<8)
		return float32(v) / 32768
	case audioconfig.Int32LE:
		v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
		return float32(v) / 2147483648
	case audioconfig.Float32:
		bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		return math.Float32frombits(bits)
	default:
		return 0
	}
}

func encodeSample(v float32, dtype audioconfig.Dtype, b []byte) {
	switch dtype {
	case audioconfig.Int16LE:
		v = clamp(v, -1, 1)
		s := int16(v * 32767)
		b[0] = byte(s)
		b[1] = byte(s >> 8)
	case audioconfig.Int32LE:
		v = clamp(v, -1, 1)
		s := int32(float64(v) * 2147483647)
		b[0] = byte(s)
		b[1] = byte(s >> 8)
		b[2] = byte(s >> 16)
		b[3] = byte(s >> 24)
	case audioconfig.Float32:
		bits := math.Float32bits(v)
		b[0] = byte(bits)
		b[1] = byte(bits >> 8)
		b[2] = byte(bits >> 16)
		b[3] = byte(bits >> 24)
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
