package audiodevice

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/arlowe/soundbridge/internal/audioconfig"
)

// WAVFileDevice is a Device backed by on-disk .wav files instead of a real
// sound card: InputPath is looped as the capture source, OutputPath (if set)
// receives everything written to an output stream. It exists for tests and
// the doctor diagnostic (SPEC_FULL.md), grounded on the teacher's
// FileAudioInputDevice.
type WAVFileDevice struct {
	InputPath  string
	OutputPath string
}

const (
	wavInputIndex  = 0
	wavOutputIndex = 1
)

// wavDefaultSampleRate is the DefaultSampleRate both fake devices report.
const wavDefaultSampleRate = 48000

func (d *WAVFileDevice) Devices() ([]Info, error) {
	return []Info{
		{Index: wavInputIndex, Name: "wavfile-input", HostAPI: "file", DefaultSampleRate: wavDefaultSampleRate, MaxInputChannels: 2},
		{Index: wavOutputIndex, Name: "wavfile-output", HostAPI: "file", DefaultSampleRate: wavDefaultSampleRate, MaxOutputChannels: 2},
	}, nil
}

func (d *WAVFileDevice) DefaultInputDevice() (Info, error) {
	devs, _ := d.Devices()
	return devs[wavInputIndex], nil
}

func (d *WAVFileDevice) DefaultOutputDevice() (Info, error) {
	devs, _ := d.Devices()
	return devs[wavOutputIndex], nil
}

func (d *WAVFileDevice) Close() error { return nil }

func (d *WAVFileDevice) OpenInputStream(info Info, cfg audioconfig.Config) (InputStream, error) {
	if d.InputPath == "" {
		return nil, errors.New("audiodevice: WAVFileDevice has no InputPath configured")
	}
	f, err := os.Open(d.InputPath)
	if err != nil {
		return nil, fmt.Errorf("audiodevice: open wav file: %w", err)
	}
	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("audiodevice: %s is not a valid wav file: %w", d.InputPath, decoder.Err())
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audiodevice: decode wav file: %w", err)
	}
	f.Close()

	return &wavInputStream{cfg: cfg, buf: buf}, nil
}

// wavInputStream replays a decoded PCM buffer in fixed-size chunks, looping
// back to the start when exhausted so capture never blocks waiting for more
// file data (spec.md §3's sender always has a chunk to send).
type wavInputStream struct {
	mu     sync.Mutex
	cfg    audioconfig.Config
	buf    *goaudio.IntBuffer
	cursor int
}

func (s *wavInputStream) Read(frames int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	samplesNeeded := frames * s.cfg.Channels
	out := make([]int, samplesNeeded)
	for i := 0; i < samplesNeeded; i++ {
		if len(s.buf.Data) == 0 {
			continue
		}
		out[i] = s.buf.Data[s.cursor]
		s.cursor = (s.cursor + 1) % len(s.buf.Data)
	}
	return encodePCM(out, s.cfg.AudioDtype), nil
}

func (s *wavInputStream) Close() error { return nil }

// wavOutputStream decodes every write into an in-memory sample buffer; tests and
// the doctor diagnostic flush it to OutputPath as a .wav file on Close.
type wavOutputStream struct {
	mu       sync.Mutex
	path     string
	cfg      audioconfig.Config
	recorded []int
}

func (d *WAVFileDevice) OpenOutputStream(info Info, cfg audioconfig.Config) (OutputStream, error) {
	return &wavOutputStream{path: d.OutputPath, cfg: cfg}, nil
}

func (s *wavOutputStream) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, decodePCM(chunk, s.cfg.AudioDtype)...)
	return nil
}

func (s *wavOutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("audiodevice: create wav output: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, s.cfg.SampleRate, s.cfg.SampleBytes()*8, s.cfg.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{SampleRate: s.cfg.SampleRate, NumChannels: s.cfg.Channels},
		Data:   s.recorded,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audiodevice: write wav output: %w", err)
	}
	return enc.Close()
}

// encodePCM packs integer samples into the wire byte layout for dtype.
func encodePCM(samples []int, dtype audioconfig.Dtype) []byte {
	size := audioconfig.SampleSize(dtype)
	out := make([]byte, len(samples)*size)
	for i, s := range samples {
		off := i * size
		switch dtype {
		case audioconfig.Int16LE:
			v := int16(s)
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
		case audioconfig.Int32LE:
			v := int32(s)
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
			out[off+2] = byte(v >> 16)
			out[off+3] = byte(v >> 24)
		case audioconfig.Float32:
			v := float32(s) / float32(1<<15)
			bits := math.Float32bits(v)
			out[off] = byte(bits)
			out[off+1] = byte(bits >> 8)
			out[off+2] = byte(bits >> 16)
			out[off+3] = byte(bits >> 24)
		}
	}
	return out
}

// decodePCM is the inverse of encodePCM, used by wavOutputStream to
// accumulate played-back samples for the final .wav encode.
func decodePCM(chunk []byte, dtype audioconfig.Dtype) []int {
	size := audioconfig.SampleSize(dtype)
	if size == 0 || len(chunk) < size {
		return nil
	}
	n := len(chunk) / size
	out := make([]int, n)
	for i := 0; i < n; i++ {
		off := i * size
		switch dtype {
		case audioconfig.Int16LE:
			out[i] = int(int16(uint16(chunk[off]) | uint16(chunk[off+1])<<8))
		case audioconfig.Int32LE:
			out[i] = int(int32(uint32(chunk[off]) | uint32(chunk[off+1])<<8 | uint32(chunk[off+2])<<16 | uint32(chunk[off+3])<<24))
		case audioconfig.Float32:
			bits := uint32(chunk[off]) | uint32(chunk[off+1])<<8 | uint32(chunk[off+2])<<16 | uint32(chunk[off+3])<<24
			out[i] = int(math.Float32frombits(bits) * float32(1<<15))
		}
	}
	return out
}
