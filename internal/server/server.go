// Package server assembles SoundBridge's server-side Endpoint (spec.md §3):
// the default-device audio interface, the current speaker/microphone
// workers, the data and control channels, and the device-reload machinery
// of spec.md §4.5.
package server

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arlowe/soundbridge/internal/audioconfig"
	"github.com/arlowe/soundbridge/internal/audiodevice"
	"github.com/arlowe/soundbridge/internal/controlchannel"
	"github.com/arlowe/soundbridge/internal/datachannel"
	"github.com/arlowe/soundbridge/internal/queue"
	"github.com/arlowe/soundbridge/internal/reload"
	"github.com/arlowe/soundbridge/internal/worker"
)

// BufferTime is the default queue-sizing window spec.md §3 names (0.2s).
const BufferTime = 200 * time.Millisecond

// Options configures a new Server.
type Options struct {
	DataAddr       string
	ControlAddr    string
	FramesPerChunk int
	AudioDtype     audioconfig.Dtype
	NewDevice      func() (audiodevice.Device, error)
}

// Server is the server-side Endpoint: a live Device, the current
// Speaker/Microphone workers, DataChannel, ControlChannel, device Monitor
// and ReloadHandler (spec.md §3, §4.5).
type Server struct {
	logger *slog.Logger
	opts   Options

	mu            sync.Mutex
	device        audiodevice.Device
	speaker       *worker.Receiver
	microphone    *worker.Sender
	speakerCfg    audioconfig.Config
	microphoneCfg audioconfig.Config
	txQueue       *queue.ChunkQueue
	rxQueue       *queue.ChunkQueue

	dataChannel    *datachannel.DataChannel
	controlChannel *controlchannel.Server
	monitor        *reload.Monitor
	reloadHandler  *reload.ReloadHandler
}

// New constructs a Server: opens the audio interface, builds the initial
// speaker/microphone workers and configs, opens the data channel socket
// (its loops begin in Start), and starts the control channel. It does not
// start the device monitor; call StartReload separately once the process has
// re-exec capability configured (see cmd/server).
func New(opts Options) (*Server, error) {
	device, err := opts.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("server: open audio interface: %w", err)
	}

	s := &Server{
		logger: slog.Default().With("component", "server"),
		opts:   opts,
		device: device,
	}

	microphoneCfg, err := s.deviceMicrophoneConfig(device, opts)
	if err != nil {
		device.Close()
		return nil, err
	}
	speakerCfg, err := s.deviceSpeakerConfig(device, opts)
	if err != nil {
		device.Close()
		return nil, err
	}
	s.microphoneCfg = microphoneCfg
	s.speakerCfg = speakerCfg

	s.txQueue = queue.NewChunkQueue(BufferTime, microphoneCfg.ChunkDuration())
	s.rxQueue = queue.NewChunkQueue(BufferTime, speakerCfg.ChunkDuration())

	microphoneWorker, err := worker.NewServerMicrophone(device, microphoneCfg, s.txQueue)
	if err != nil {
		device.Close()
		return nil, err
	}
	speakerWorker, err := worker.NewServerSpeaker(device, speakerCfg, s.rxQueue)
	if err != nil {
		device.Close()
		return nil, err
	}
	s.microphone = microphoneWorker
	s.speaker = speakerWorker

	dc, err := datachannel.New(opts.DataAddr, true, microphoneCfg, speakerCfg, s.txQueue, s.rxQueue)
	if err != nil {
		device.Close()
		return nil, err
	}
	s.dataChannel = dc

	cc, err := controlchannel.NewServer(opts.ControlAddr, controlchannel.Handlers{
		SpeakerConfig:    s.SpeakerConfig,
		MicrophoneConfig: s.MicrophoneConfig,
		ToggleMicrophone: s.ToggleMicrophone,
	})
	if err != nil {
		dc.Close()
		device.Close()
		return nil, err
	}
	s.controlChannel = cc

	return s, nil
}

func (s *Server) deviceMicrophoneConfig(device audiodevice.Device, opts Options) (audioconfig.Config, error) {
	info, err := device.DefaultInputDevice()
	if err != nil {
		return audioconfig.Config{}, fmt.Errorf("server: default input device: %w", err)
	}
	cfg := audioconfig.Config{
		SampleRate:     info.DefaultSampleRate,
		Channels:       info.MaxInputChannels,
		AudioDtype:     opts.AudioDtype,
		FramesPerChunk: opts.FramesPerChunk,
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return cfg, cfg.Validate()
}

func (s *Server) deviceSpeakerConfig(device audiodevice.Device, opts Options) (audioconfig.Config, error) {
	info, err := device.DefaultOutputDevice()
	if err != nil {
		return audioconfig.Config{}, fmt.Errorf("server: default output device: %w", err)
	}
	cfg := audioconfig.Config{
		SampleRate:     info.DefaultSampleRate,
		Channels:       info.MaxOutputChannels,
		AudioDtype:     opts.AudioDtype,
		FramesPerChunk: opts.FramesPerChunk,
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	return cfg, cfg.Validate()
}

// SpeakerConfig returns the server's current speaker-side AudioConfig,
// answering the client's SPEAKER_CONFIG request.
func (s *Server) SpeakerConfig() audioconfig.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakerCfg
}

// MicrophoneConfig returns the server's current microphone-side AudioConfig,
// answering the client's MICROPHONE_CONFIG request.
func (s *Server) MicrophoneConfig() audioconfig.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.microphoneCfg
}

// ToggleMicrophone flips the microphone worker, answering the client's
// TOGGLE_MICROPHONE request.
func (s *Server) ToggleMicrophone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.microphone.Running() {
		s.microphone.Stop()
		return false
	}
	s.microphone.Start()
	return true
}

// Start begins the data channel loops, the microphone and speaker workers.
func (s *Server) Start() {
	s.dataChannel.Start()
	s.speaker.Start()
	s.microphone.Start()
}

// Stop halts every worker and channel owned by this server.
func (s *Server) Stop() {
	s.speaker.Stop()
	s.microphone.Stop()
	s.dataChannel.Stop()
	s.controlChannel.Close()
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.reloadHandler != nil {
		s.reloadHandler.Stop()
	}
	s.device.Close()
}

// StartReload wires a device Monitor to a ReloadHandler driving this
// server's 8-step reload sequence (spec.md §4.5), and starts both.
func (s *Server) StartReload(selfPath string, monitorArgs ...string) error {
	monitor, err := reload.StartMonitor(selfPath, monitorArgs...)
	if err != nil {
		return err
	}
	s.monitor = monitor

	handler := reload.NewReloadHandler(monitor, reload.Target{
		PushStop:                s.controlChannel.PushStop,
		PushStart:               s.controlChannel.PushStart,
		AliveWorkers:            s.aliveWorkers,
		StopWorkersAndInterface: s.stopWorkersAndInterface,
		Reinitialize:            s.reinitialize,
		RestartDataChannel:      s.reconfigureDataChannel,
		StartWorkers:            s.startWorkers,
	})
	s.reloadHandler = handler
	go handler.Run()
	return nil
}

func (s *Server) aliveWorkers() (speakerAlive, microphoneAlive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaker.Running(), s.microphone.Running()
}

func (s *Server) stopWorkersAndInterface() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaker.Stop()
	s.microphone.Stop()
	s.device.Close()
}

// reinitialize is spec.md §4.5 step 4: reopen the audio interface and
// construct fresh workers for the changed device pair.
func (s *Server) reinitialize(pair reload.DevicePair) error {
	device, err := s.opts.NewDevice()
	if err != nil {
		return err
	}

	microphoneCfg, err := s.deviceMicrophoneConfig(device, s.opts)
	if err != nil {
		device.Close()
		return err
	}
	speakerCfg, err := s.deviceSpeakerConfig(device, s.opts)
	if err != nil {
		device.Close()
		return err
	}

	txQueue := queue.NewChunkQueue(BufferTime, microphoneCfg.ChunkDuration())
	rxQueue := queue.NewChunkQueue(BufferTime, speakerCfg.ChunkDuration())

	microphoneWorker, err := worker.NewServerMicrophone(device, microphoneCfg, txQueue)
	if err != nil {
		device.Close()
		return err
	}
	speakerWorker, err := worker.NewServerSpeaker(device, speakerCfg, rxQueue)
	if err != nil {
		device.Close()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = device
	s.microphone = microphoneWorker
	s.speaker = speakerWorker
	s.microphoneCfg = microphoneCfg
	s.speakerCfg = speakerCfg
	s.txQueue = txQueue
	s.rxQueue = rxQueue
	return nil
}

// reconfigureDataChannel is spec.md §4.5 step 5, run after reinitialize has
// installed the new configs and queues.
func (s *Server) reconfigureDataChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataChannel.Reconfigure(s.microphoneCfg, s.speakerCfg, s.txQueue, s.rxQueue)
}

func (s *Server) startWorkers(speakerAlive, microphoneAlive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if speakerAlive {
		s.speaker.Start()
	}
	if microphoneAlive {
		s.microphone.Start()
	}
}
