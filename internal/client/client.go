// Package client assembles SoundBridge's client-side Endpoint (spec.md §3):
// the loopback/virtual-cable audio interface, the Speaker/Microphone
// workers, the data and control channels, and the control-thread loop that
// rebuilds the client around the server's authoritative configs (spec.md
// §4.5's client control thread).
package client

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/arlowe/soundbridge/internal/audioconfig"
	"github.com/arlowe/soundbridge/internal/audiodevice"
	"github.com/arlowe/soundbridge/internal/controlchannel"
	"github.com/arlowe/soundbridge/internal/datachannel"
	"github.com/arlowe/soundbridge/internal/queue"
	"github.com/arlowe/soundbridge/internal/worker"
)

// bufferTime is the queue-sizing window spec.md §3 names (0.2s), mirrored
// from the server side so a client and server built from the same configs
// size their queues identically.
const bufferTime = 200 * time.Millisecond

// Options configures a Client.
type Options struct {
	LocalDataAddr     string
	ServerDataAddr    string
	ServerControlAddr string

	Device audiodevice.Device

	LoopbackName, LoopbackHostAPI         string
	VirtualCableName, VirtualCableHostAPI string
}

// Client is one live session built around a speaker/microphone config pair
// (spec.md §4.5: "a fresh client with the latest configs, runs until STOP").
// It owns the loopback Sender, virtual-cable Receiver, and the DataChannel
// between them. The ControlChannel client is longer-lived than any single
// Client and is owned by the Session that constructs one Client per cycle.
type Client struct {
	logger      *slog.Logger
	speaker     *worker.Sender
	microphone  *worker.Receiver
	dataChannel *datachannel.DataChannel
}

// New builds one client-side session for the given speaker/microphone
// configs (as reported by the server's SPEAKER_CONFIG/MICROPHONE_CONFIG
// responses).
func New(opts Options, speakerCfg, microphoneCfg audioconfig.Config) (*Client, error) {
	txQueue := queue.NewChunkQueue(bufferTime, speakerCfg.ChunkDuration())
	rxQueue := queue.NewChunkQueue(bufferTime, microphoneCfg.ChunkDuration())

	speakerWorker, err := worker.NewClientSpeaker(opts.Device, opts.LoopbackName, opts.LoopbackHostAPI, speakerCfg, txQueue)
	if err != nil {
		return nil, fmt.Errorf("client: speaker worker: %w", err)
	}
	microphoneWorker, err := worker.NewClientMicrophone(opts.Device, opts.VirtualCableName, opts.VirtualCableHostAPI, microphoneCfg, rxQueue)
	if err != nil {
		return nil, fmt.Errorf("client: microphone worker: %w", err)
	}

	dc, err := datachannel.New(opts.LocalDataAddr, false, speakerCfg, microphoneCfg, txQueue, rxQueue)
	if err != nil {
		return nil, fmt.Errorf("client: data channel: %w", err)
	}
	serverAddr, err := resolveUDPAddr(opts.ServerDataAddr)
	if err != nil {
		return nil, err
	}
	dc.SetDestination(serverAddr)

	return &Client{
		logger:      slog.Default().With("component", "client"),
		speaker:     speakerWorker,
		microphone:  microphoneWorker,
		dataChannel: dc,
	}, nil
}

// Start begins the data channel loops and both workers.
func (c *Client) Start() {
	c.dataChannel.Start()
	c.speaker.Start()
	c.microphone.Start()
}

// Stop halts both workers and the data channel, releasing the socket.
func (c *Client) Stop() {
	c.speaker.Stop()
	c.microphone.Stop()
	c.dataChannel.Stop()
	c.dataChannel.Close()
}

// Session drives spec.md §4.5's client control thread: loop forever,
// fetching fresh configs, running a Client until STOP, then idling until
// START before building the next one.
type Session struct {
	logger  *slog.Logger
	control *controlchannel.Client
	opts    Options
	stop    chan struct{}
}

// NewSession creates the long-lived control channel client and the loop
// that rebuilds Client sessions around it.
func NewSession(opts Options) (*Session, error) {
	control, err := controlchannel.NewClient(opts.ServerControlAddr)
	if err != nil {
		return nil, err
	}
	return &Session{
		logger:  slog.Default().With("component", "client-session"),
		control: control,
		opts:    opts,
		stop:    make(chan struct{}),
	}, nil
}

// Run implements spec.md §4.5's client control thread loop. It blocks until
// Stop is called or building a Client fails. The latter is fatal per spec.md
// §7 ("Missing virtual cable on client startup: fatal; fail fast with a clear
// diagnostic") — a device lookup that fails once (e.g. the virtual cable is
// absent) will fail identically on every retry, so Run returns the error
// instead of looping forever.
func (s *Session) Run() error {
	for {
		select {
		case <-s.stop:
			return nil
		default:
		}

		speakerCfg := s.control.GetSpeakerConfig()
		microphoneCfg := s.control.GetMicrophoneConfig()

		c, err := New(s.opts, speakerCfg, microphoneCfg)
		if err != nil {
			return fmt.Errorf("client: build session: %w", err)
		}
		c.Start()
		s.logger.Info("client session running", "speakerCfg", speakerCfg, "microphoneCfg", microphoneCfg)

		s.control.WaitForStop()
		c.Stop()

		select {
		case <-s.stop:
			return nil
		default:
		}
		s.control.WaitForStart()
	}
}

// ToggleMicrophone sends TOGGLE_MICROPHONE to the server, per spec.md §6's
// "m" client input.
func (s *Session) ToggleMicrophone() {
	s.control.ToggleMicrophone()
}

// Stop ends the session loop and closes the control channel client.
func (s *Session) Stop() error {
	close(s.stop)
	return s.control.Close()
}

func resolveUDPAddr(addr string) (*net.UDPAddr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: resolve server data address: %w", err)
	}
	return udpAddr, nil
}
