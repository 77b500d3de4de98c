package audiodevice

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/google/uuid"

	"github.com/arlowe/soundbridge/internal/audioconfig"
	"github.com/arlowe/soundbridge/internal/format"
)

// nativeDtypeConfig returns cfg with AudioDtype forced to Float32, matching
// what portaudio.OpenStream actually captures/plays regardless of the wire
// dtype the caller's AudioConfig declares.
func nativeDtypeConfig(cfg audioconfig.Config) audioconfig.Config {
	cfg.AudioDtype = audioconfig.Float32
	return cfg
}

// PortAudioDevice is the real host audio binding, backed by
// github.com/gordonklaus/portaudio. It is the only Device implementation the
// server and client binaries construct; wavfile.go exists for tests and the
// doctor diagnostic.
type PortAudioDevice struct {
	mu       sync.Mutex
	refCount int
}

// NewPortAudioDevice initializes the portaudio host API. Construction is
// cheap to call more than once (ref-counted); Close tears down the host API
// once the last reference releases, matching the reload handler's
// stop-before-reinit discipline (spec.md §4.5).
func NewPortAudioDevice() (*PortAudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audiodevice: portaudio init: %w", err)
	}
	return &PortAudioDevice{refCount: 1}, nil
}

func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refCount--
	if d.refCount > 0 {
		return nil
	}
	return portaudio.Terminate()
}

func (d *PortAudioDevice) Devices() ([]Info, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audiodevice: enumerate devices: %w", err)
	}
	out := make([]Info, len(devs))
	for i, dev := range devs {
		hostAPI := ""
		if dev.HostApi != nil {
			hostAPI = dev.HostApi.Name
		}
		out[i] = Info{
			Index:             i,
			Name:              dev.Name,
			HostAPI:           hostAPI,
			DefaultSampleRate: int(dev.DefaultSampleRate),
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
		}
	}
	return out, nil
}

func (d *PortAudioDevice) DefaultInputDevice() (Info, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return Info{}, fmt.Errorf("audiodevice: default input device: %w", err)
	}
	return infoFromPortAudio(dev), nil
}

func (d *PortAudioDevice) DefaultOutputDevice() (Info, error) {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return Info{}, fmt.Errorf("audiodevice: default output device: %w", err)
	}
	return infoFromPortAudio(dev), nil
}

func infoFromPortAudio(dev *portaudio.DeviceInfo) Info {
	hostAPI := ""
	if dev.HostApi != nil {
		hostAPI = dev.HostApi.Name
	}
	// Index must be the position in portaudio.Devices(), which is what
	// OpenInputStream/OpenOutputStream look the device up by.
	index := 0
	if devs, err := portaudio.Devices(); err == nil {
		for i, d := range devs {
			if d == dev || (d.Name == dev.Name && d.HostApi != nil && d.HostApi.Name == hostAPI) {
				index = i
				break
			}
		}
	}
	return Info{
		Index:             index,
		Name:              dev.Name,
		HostAPI:           hostAPI,
		DefaultSampleRate: int(dev.DefaultSampleRate),
		MaxInputChannels:  dev.MaxInputChannels,
		MaxOutputChannels: dev.MaxOutputChannels,
	}
}

func deviceByIndex(index int) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audiodevice: enumerate devices: %w", err)
	}
	if index < 0 || index >= len(devs) {
		return nil, fmt.Errorf("%w: index %d", ErrDeviceNotFound, index)
	}
	return devs[index], nil
}

// portAudioInputStream adapts a portaudio.Stream to InputStream. Frames are
// captured into a float32 scratch buffer (portaudio's native format) and
// converted to the caller's AudioConfig dtype via converter before Read
// returns them.
type portAudioInputStream struct {
	logger       *slog.Logger
	stream       *portaudio.Stream
	buf          []float32
	converter    *format.Converter
	framesLost   atomic.Uint64
	shutdownOnce sync.Once
}

func (d *PortAudioDevice) OpenInputStream(info Info, cfg audioconfig.Config) (InputStream, error) {
	dev, err := deviceByIndex(info.Index)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	logger := slog.Default().With("input device uuid", id, "device", info.Name)

	buf := make([]float32, cfg.FramesPerChunk*cfg.Channels)
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerChunk

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		logger.Error("failed to open input stream", "err", err)
		return nil, fmt.Errorf("audiodevice: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("audiodevice: start input stream: %w", err)
	}

	logger.Debug("opened input stream", "sampleRate", cfg.SampleRate, "channels", cfg.Channels, "framesPerChunk", cfg.FramesPerChunk)
	converter := format.New(nativeDtypeConfig(cfg), cfg)
	return &portAudioInputStream{logger: logger, stream: stream, buf: buf, converter: converter}, nil
}

// Read captures one buffer of the stream's FramesPerChunk frames and returns
// it encoded per the stream's AudioConfig. Any read error from portaudio
// (overflow included) is counted and logged, and Read returns a nil chunk
// with a nil error, so it never propagates to the caller (spec.md §7).
func (s *portAudioInputStream) Read(frames int) ([]byte, error) {
	if err := s.stream.Read(); err != nil {
		s.framesLost.Add(1)
		s.logger.Warn("input stream read error, frame dropped", "err", err, "framesLost", s.framesLost.Load())
		return nil, nil
	}
	return s.converter.Convert(float32SliceToBytes(s.buf)), nil
}

func (s *portAudioInputStream) Close() error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.stream.Close()
	})
	return err
}

type portAudioOutputStream struct {
	logger       *slog.Logger
	stream       *portaudio.Stream
	buf          []float32
	converter    *format.Converter
	framesLost   atomic.Uint64
	shutdownOnce sync.Once
}

func (d *PortAudioDevice) OpenOutputStream(info Info, cfg audioconfig.Config) (OutputStream, error) {
	dev, err := deviceByIndex(info.Index)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	logger := slog.Default().With("output device uuid", id, "device", info.Name)

	buf := make([]float32, cfg.FramesPerChunk*cfg.Channels)
	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerChunk

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		logger.Error("failed to open output stream", "err", err)
		return nil, fmt.Errorf("audiodevice: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("audiodevice: start output stream: %w", err)
	}

	logger.Debug("opened output stream", "sampleRate", cfg.SampleRate, "channels", cfg.Channels, "framesPerChunk", cfg.FramesPerChunk)
	converter := format.New(cfg, nativeDtypeConfig(cfg))
	return &portAudioOutputStream{logger: logger, stream: stream, buf: buf, converter: converter}, nil
}

// Write plays back chunk, which is encoded per the stream's AudioConfig dtype
// and converted to portaudio's native float32 form before playback. Any write
// error from portaudio (underflow included) is counted and logged, and Write
// still returns nil, so it never propagates to the caller (spec.md §7).
func (s *portAudioOutputStream) Write(chunk []byte) error {
	bytesToFloat32Slice(s.converter.Convert(chunk), s.buf)
	if err := s.stream.Write(); err != nil {
		s.framesLost.Add(1)
		s.logger.Warn("output stream write error, frame dropped", "err", err, "framesLost", s.framesLost.Load())
	}
	return nil
}

func (s *portAudioOutputStream) Close() error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.stream.Close()
	})
	return err
}
