// Package controlchannel implements SoundBridge's UDP control plane: the
// small ASCII request/response protocol used to exchange AudioConfigs, toggle
// the server microphone, and push STOP/START notifications around a device
// reload (spec.md §4.4).
package controlchannel

import (
	"bytes"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arlowe/soundbridge/internal/audioconfig"
)

// Commands exchanged over the control channel, spec.md §4.4.
const (
	CmdSpeakerConfig    = "SPEAKER_CONFIG"
	CmdMicrophoneConfig = "MICROPHONE_CONFIG"
	CmdToggleMicrophone = "TOGGLE_MICROPHONE"
	CmdHeartbeat        = "HEARTBEAT"

	RespMicOn  = "MIC ON"
	RespMicOff = "MIC OFF"
	RespStop   = "STOP"
	RespStart  = "START"
)

// Config reply prefixes: the first byte of the originating request, per
// spec.md §4.4, so the client can disambiguate out-of-order responses.
const (
	prefixSpeaker    = 'S'
	prefixMicrophone = 'M'
)

// pushRetries and pushInterval govern the best-effort repetition of STOP and
// START pushes (spec.md §4.4: "default 3, 100ms apart").
const (
	pushRetries  = 3
	pushInterval = 100 * time.Millisecond
)

// HeartbeatPeriod is how often the client's background thread sends
// HEARTBEAT, keeping stateful firewalls from closing the flow (spec.md §4.4).
const HeartbeatPeriod = 60 * time.Second

// requestTimeout bounds how long a client config request waits for a reply
// before retrying (spec.md §4.4's "short timeout").
const requestTimeout = 500 * time.Millisecond

// Handlers lets Server ask its owner for the current configs (SpeakerConfig,
// MicrophoneConfig) without importing internal/server (avoiding an import
// cycle); ToggleMicrophone flips the server's mic worker and reports its
// resulting state.
type Handlers struct {
	SpeakerConfig    func() audioconfig.Config
	MicrophoneConfig func() audioconfig.Config
	ToggleMicrophone func() (running bool)
}

// Server is the server-side control channel half: it answers config
// requests, toggles the microphone, and can push STOP/START to the current
// client (spec.md §4.4's state machine).
type Server struct {
	logger   *slog.Logger
	conn     *net.UDPConn
	handlers Handlers

	mu            sync.Mutex
	clientAddress *net.UDPAddr

	stopFlag chan struct{}
	wg       sync.WaitGroup
}

// NewServer binds the control socket at localAddr and begins handling
// requests immediately.
func NewServer(localAddr string, handlers Handlers) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		logger:   slog.Default().With("component", "controlchannel-server"),
		conn:     conn,
		handlers: handlers,
		stopFlag: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// serve implements spec.md §4.4's server state machine: client_address
// tracks the last sender of a recognized command; an unrecognized datagram
// leaves it untouched.
func (s *Server) serve() {
	defer s.wg.Done()
	buf := make([]byte, audioconfig.MaxPacketSize)
	for {
		select {
		case <-s.stopFlag:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		s.handleRequest(buf[:n], addr)
	}
}

func (s *Server) handleRequest(payload []byte, from *net.UDPAddr) {
	cmd := string(payload)
	switch cmd {
	case CmdSpeakerConfig:
		s.setClientAddress(from)
		s.replyConfig(from, prefixSpeaker, s.handlers.SpeakerConfig())
	case CmdMicrophoneConfig:
		s.setClientAddress(from)
		s.replyConfig(from, prefixMicrophone, s.handlers.MicrophoneConfig())
	case CmdToggleMicrophone:
		s.setClientAddress(from)
		running := s.handlers.ToggleMicrophone()
		resp := RespMicOff
		if running {
			resp = RespMicOn
		}
		s.conn.WriteToUDP([]byte(resp), from)
	case CmdHeartbeat:
		s.setClientAddress(from)
	default:
		// Unrecognized: leave client_address untouched, per spec.md §4.4.
		s.logger.Debug("ignoring unrecognized control command", "from", from)
	}
}

func (s *Server) replyConfig(to *net.UDPAddr, prefix byte, cfg audioconfig.Config) {
	payload := append([]byte{prefix}, cfg.ToBytes()...)
	s.conn.WriteToUDP(payload, to)
}

func (s *Server) setClientAddress(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientAddress = addr
}

func (s *Server) ClientAddress() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientAddress
}

// PushStop sends STOP to the current client, repeated best-effort per
// spec.md §4.4, used by the reload handler (spec.md §4.5 step 1).
func (s *Server) PushStop() {
	s.push(RespStop)
}

// PushStart sends START to the current client, repeated best-effort,
// used by the reload handler (spec.md §4.5 step 7).
func (s *Server) PushStart() {
	s.push(RespStart)
}

func (s *Server) push(message string) {
	addr := s.ClientAddress()
	if addr == nil {
		return
	}
	for i := 0; i < pushRetries; i++ {
		s.conn.WriteToUDP([]byte(message), addr)
		if i < pushRetries-1 {
			time.Sleep(pushInterval)
		}
	}
}

// Close stops the serve loop and releases the socket.
func (s *Server) Close() error {
	close(s.stopFlag)
	s.wg.Wait()
	return s.conn.Close()
}

// Client is the client-side control channel half: it issues requests to the
// server and waits on STOP/START pushes (spec.md §4.4's client helpers).
type Client struct {
	logger     *slog.Logger
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr

	heartbeatStop chan struct{}
	heartbeatWG   sync.WaitGroup
}

// NewClient dials a control socket toward serverAddr and starts the
// background heartbeat thread.
func NewClient(serverAddr string) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}

	c := &Client{
		logger:        slog.Default().With("component", "controlchannel-client"),
		conn:          conn,
		remoteAddr:    addr,
		heartbeatStop: make(chan struct{}),
	}
	c.heartbeatWG.Add(1)
	go c.heartbeatLoop()
	return c, nil
}

func (c *Client) heartbeatLoop() {
	defer c.heartbeatWG.Done()
	ticker := time.NewTicker(HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.conn.WriteToUDP([]byte(CmdHeartbeat), c.remoteAddr)
		case <-c.heartbeatStop:
			return
		}
	}
}

// GetSpeakerConfig implements spec.md §4.4's get_speaker_config: retry the
// request/reply exchange until a validly prefixed, parseable config arrives.
func (c *Client) GetSpeakerConfig() audioconfig.Config {
	return c.getConfig(CmdSpeakerConfig, prefixSpeaker)
}

// GetMicrophoneConfig is the microphone-side counterpart of GetSpeakerConfig.
func (c *Client) GetMicrophoneConfig() audioconfig.Config {
	return c.getConfig(CmdMicrophoneConfig, prefixMicrophone)
}

func (c *Client) getConfig(cmd string, prefix byte) audioconfig.Config {
	buf := make([]byte, audioconfig.MaxPacketSize)
	for {
		c.conn.WriteToUDP([]byte(cmd), c.remoteAddr)
		c.conn.SetReadDeadline(time.Now().Add(requestTimeout))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil || n < 2 || buf[0] != prefix {
			continue
		}
		cfg, ok := audioconfig.FromBytes(buf[1:n])
		if !ok {
			continue
		}
		return cfg
	}
}

// ToggleMicrophone fires a TOGGLE_MICROPHONE request and is otherwise
// fire-and-forget per spec.md §4.4; the reply is informational only.
func (c *Client) ToggleMicrophone() {
	c.conn.WriteToUDP([]byte(CmdToggleMicrophone), c.remoteAddr)
}

// WaitForStop blocks until a STOP datagram arrives, per spec.md §4.4.
func (c *Client) WaitForStop() {
	c.waitFor(RespStop)
}

// WaitForStart blocks until a START datagram arrives, per spec.md §4.4.
func (c *Client) WaitForStart() {
	c.waitFor(RespStart)
}

func (c *Client) waitFor(message string) {
	buf := make([]byte, audioconfig.MaxPacketSize)
	target := []byte(message)
	for {
		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if bytes.Equal(buf[:n], target) {
			return
		}
	}
}

// Close stops the heartbeat thread and releases the socket.
func (c *Client) Close() error {
	close(c.heartbeatStop)
	c.heartbeatWG.Wait()
	return c.conn.Close()
}
