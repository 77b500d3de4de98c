// Package audioconfig defines the wire-format description of a PCM stream
// exchanged between endpoints over the control channel.
package audioconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Dtype tags the sample format of a chunk. The integer value is transported
// verbatim between endpoints; both sides are responsible for agreeing on its
// interpretation (see SPEC_FULL.md's Open Questions).
type Dtype int

const (
	// Int16LE is signed 16-bit little-endian, the protocol default.
	Int16LE Dtype = 8
	// Int32LE is signed 32-bit little-endian.
	Int32LE Dtype = 16
	// Float32 is 32-bit IEEE float.
	Float32 Dtype = 32
)

// SampleSize returns the number of bytes a single sample of dtype occupies,
// or 0 if dtype is not a recognized format.
func SampleSize(dtype Dtype) int {
	switch dtype {
	case Int16LE:
		return 2
	case Int32LE, Float32:
		return 4
	default:
		return 0
	}
}

// MaxPacketSize is the largest datagram this protocol will ever construct,
// chosen below typical network path MTU to avoid IP fragmentation.
const MaxPacketSize = 1024

// Config is an immutable description of one PCM stream's shape: the sample
// rate, channel count, sample format, and the number of frames aggregated
// into one chunk.
type Config struct {
	SampleRate     int   `json:"sample_rate"`
	Channels       int   `json:"channels"`
	AudioDtype     Dtype `json:"audio_dtype"`
	FramesPerChunk int   `json:"frames_per_chunk"`
}

// SampleBytes is the size in bytes of one sample of one channel.
func (c Config) SampleBytes() int {
	return SampleSize(c.AudioDtype)
}

// ChunkSize is the number of bytes in one chunk: FramesPerChunk frames,
// each Channels samples wide, each SampleBytes bytes.
func (c Config) ChunkSize() int {
	return c.FramesPerChunk * c.Channels * c.SampleBytes()
}

// ChunkDuration is the wall-clock time one chunk represents.
func (c Config) ChunkDuration() time.Duration {
	return time.Duration(float64(c.FramesPerChunk) / float64(c.SampleRate) * float64(time.Second))
}

// Validate checks the invariants spec.md §3 requires of a Config: every
// field strictly positive, a recognized dtype, and a chunk that fits in one
// datagram. SPEC_FULL.md resolves the "chunk_size > MAX_PACKET_SIZE" open
// question by rejecting the config here rather than splitting chunks across
// datagrams.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return errors.New("audioconfig: sample_rate must be positive")
	}
	if c.Channels <= 0 {
		return errors.New("audioconfig: channels must be positive")
	}
	if c.FramesPerChunk <= 0 {
		return errors.New("audioconfig: frames_per_chunk must be positive")
	}
	if SampleSize(c.AudioDtype) == 0 {
		return fmt.Errorf("audioconfig: unrecognized audio_dtype %d", c.AudioDtype)
	}
	if size := c.ChunkSize(); size > MaxPacketSize {
		return fmt.Errorf("audioconfig: chunk_size %d exceeds MaxPacketSize %d", size, MaxPacketSize)
	}
	return nil
}

// ToBytes serializes c to its wire form: a self-describing JSON object with
// exactly the four fields above.
func (c Config) ToBytes() []byte {
	// json.Marshal on a struct with only int-valued fields never fails.
	b, _ := json.Marshal(c)
	return b
}

// wireConfig mirrors Config but with json.Number fields, so FromBytes can
// reject payloads containing non-integer values (e.g. "sample_rate": 1.5)
// that encoding/json would otherwise silently truncate into an int field.
type wireConfig struct {
	SampleRate     json.Number `json:"sample_rate"`
	Channels       json.Number `json:"channels"`
	AudioDtype     json.Number `json:"audio_dtype"`
	FramesPerChunk json.Number `json:"frames_per_chunk"`
}

// FromBytes parses the wire form produced by ToBytes. It returns false if
// data is not valid JSON, is not an object, does not carry exactly these
// four integer-valued keys, or the resulting Config fails Validate. It never
// panics on malformed input.
func FromBytes(data []byte) (Config, bool) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Config{}, false
	}
	if len(raw) != 4 {
		return Config{}, false
	}
	for _, v := range raw {
		// A quoted number ("32") decodes as a string, not a json.Number.
		if _, ok := v.(json.Number); !ok {
			return Config{}, false
		}
	}

	var wc wireConfig
	b, err := json.Marshal(raw)
	if err != nil {
		return Config{}, false
	}
	if err := json.Unmarshal(b, &wc); err != nil {
		return Config{}, false
	}

	sampleRate, err1 := wc.SampleRate.Int64()
	channels, err2 := wc.Channels.Int64()
	dtype, err3 := wc.AudioDtype.Int64()
	framesPerChunk, err4 := wc.FramesPerChunk.Int64()
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return Config{}, false
	}

	cfg := Config{
		SampleRate:     int(sampleRate),
		Channels:       int(channels),
		AudioDtype:     Dtype(dtype),
		FramesPerChunk: int(framesPerChunk),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, false
	}
	return cfg, true
}
