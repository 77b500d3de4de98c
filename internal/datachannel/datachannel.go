// Package datachannel implements SoundBridge's UDP data plane: aggregation
// of chunks into datagrams, splitting datagrams back into chunks, and the
// sender_loop/receiver_loop goroutines that drive a ChunkQueue pair across
// the network (spec.md §4.3).
package datachannel

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/arlowe/soundbridge/internal/audioconfig"
	"github.com/arlowe/soundbridge/internal/queue"
	"github.com/arlowe/soundbridge/internal/worker"
)

// ipTOSLowDelay is the IP_TOS value spec.md §4.3 requires for the data
// socket: low-delay, as opposed to throughput or reliability.
const ipTOSLowDelay = 0x10

// SocketTimeout bounds how long receiver_loop blocks in recvfrom before
// rechecking its run flag, matching spec.md §6's SOCKET_TIMEOUT constant.
const SocketTimeout = time.Second

// DataChannel owns one unconnected UDP socket and the two goroutines that
// drain a tx queue into aggregated datagrams and split inbound datagrams
// into an rx queue (spec.md §4.3).
type DataChannel struct {
	logger *slog.Logger

	conn       *net.UDPConn
	dstAddress *net.UDPAddr

	tx *queue.ChunkQueue
	rx *queue.ChunkQueue

	txChunkSize    int
	rxChunkSize    int
	txChunksPerPkt int
	rxChunksPerPkt int
	txPktDuration  time.Duration

	sendFlag *worker.RunFlag
	recvFlag *worker.RunFlag

	isServer bool

	mu sync.Mutex
}

// New opens the UDP data socket bound to localAddr, aggregating according to
// senderCfg (the config of chunks this side transmits) and splitting
// according to receiverCfg (the config of chunks this side receives), per
// spec.md §4.3's queue-sizing algorithm. isServer marks the server side of
// the bridge, which learns its destination from the sender address of
// inbound datagrams rather than a fixed peer (spec.md §4.3's "latest-writer"
// rule).
func New(localAddr string, isServer bool, senderCfg, receiverCfg audioconfig.Config, tx, rx *queue.ChunkQueue) (*DataChannel, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("datachannel: resolve local address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("datachannel: listen: %w", err)
	}
	if err := setLowDelayTOS(conn); err != nil {
		slog.Warn("datachannel: failed to set IP_TOS, continuing without it", "err", err)
	}

	txChunkSize := senderCfg.ChunkSize()
	rxChunkSize := receiverCfg.ChunkSize()
	txChunksPerPkt := audioconfig.MaxPacketSize / txChunkSize
	if txChunksPerPkt < 1 {
		txChunksPerPkt = 1
	}
	rxChunksPerPkt := audioconfig.MaxPacketSize / rxChunkSize
	if rxChunksPerPkt < 1 {
		rxChunksPerPkt = 1
	}

	dc := &DataChannel{
		logger:         slog.Default().With("component", "datachannel"),
		conn:           conn,
		tx:             tx,
		rx:             rx,
		txChunkSize:    txChunkSize,
		rxChunkSize:    rxChunkSize,
		txChunksPerPkt: txChunksPerPkt,
		rxChunksPerPkt: rxChunksPerPkt,
		txPktDuration:  senderCfg.ChunkDuration() * time.Duration(txChunksPerPkt),
		sendFlag:       worker.NewRunFlag(),
		recvFlag:       worker.NewRunFlag(),
		isServer:       isServer,
	}

	// Receive-buffer shrink per spec.md §4.3: approximately BUFFER_TIME worth
	// of the receiver's own bytes, so stale audio cannot accumulate in the OS
	// socket buffer after a transient stall.
	rcvBufBytes := rx.Capacity() * rxChunkSize
	if err := shrinkReceiveBuffer(conn, rcvBufBytes); err != nil {
		dc.logger.Warn("failed to shrink SO_RCVBUF, continuing with default", "err", err)
	}

	return dc, nil
}

// SetDestination sets (or updates) the peer address datagrams are sent to.
// Safe to call while the sender loop is running (spec.md §4.4's client
// address rebinding on handshake).
func (dc *DataChannel) SetDestination(addr *net.UDPAddr) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.dstAddress = addr
}

func (dc *DataChannel) destination() *net.UDPAddr {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.dstAddress
}

// PutChunk enqueues chunk onto the tx queue for the sender loop to
// aggregate and send.
func (dc *DataChannel) PutChunk(chunk []byte) {
	dc.tx.Push(chunk)
}

// GetChunk pops one chunk from the rx queue, or reports empty.
func (dc *DataChannel) GetChunk() ([]byte, bool) {
	return dc.rx.Pop()
}

// Start launches both the sender and receiver loops.
func (dc *DataChannel) Start() {
	if dc.sendFlag.TryStart() {
		go dc.senderLoop()
	}
	if dc.recvFlag.TryStart() {
		go dc.receiverLoop()
	}
}

// senderLoop implements spec.md §4.3's drain-and-aggregate algorithm: wait
// for a full packet's worth of chunks rather than emit short packets.
func (dc *DataChannel) senderLoop() {
	defer dc.sendFlag.Done()
	for dc.sendFlag.Running() {
		chunks, ok := dc.tx.PopN(dc.txChunksPerPkt)
		if !ok {
			time.Sleep(dc.txPktDuration)
			continue
		}

		dst := dc.destination()
		if dst == nil {
			continue
		}

		datagram := make([]byte, 0, dc.txChunksPerPkt*dc.txChunkSize)
		for _, c := range chunks {
			datagram = append(datagram, c...)
		}
		if _, err := dc.conn.WriteToUDP(datagram, dst); err != nil {
			// Transient UDP failure is silently suppressed (spec.md §7):
			// the next packet carries more current audio regardless.
			continue
		}
	}
}

// receiverLoop implements spec.md §4.3's recvfrom-and-split algorithm. On the
// server side, every datagram's sender address becomes the new destination
// (the "latest-writer" rule): the client binds an ephemeral data port, so the
// server has no other way to learn where to send audio.
func (dc *DataChannel) receiverLoop() {
	defer dc.recvFlag.Done()
	buf := make([]byte, audioconfig.MaxPacketSize)
	for dc.recvFlag.Running() {
		dc.conn.SetReadDeadline(time.Now().Add(SocketTimeout))
		n, senderAddr, err := dc.conn.ReadFromUDP(buf)
		if err != nil {
			// Includes read timeouts, handled identically to any other
			// transient failure (spec.md §7): just retry.
			continue
		}
		if dc.isServer {
			dc.SetDestination(senderAddr)
		}
		dc.splitAndEnqueue(buf[:n])
	}
}

// splitAndEnqueue implements spec.md §8 Property 3 / Scenario D: a payload
// of length k*rxChunkSize+r yields exactly k chunks, discarding the r-byte
// tail.
func (dc *DataChannel) splitAndEnqueue(payload []byte) {
	for offset := 0; offset+dc.rxChunkSize <= len(payload); offset += dc.rxChunkSize {
		chunk := make([]byte, dc.rxChunkSize)
		copy(chunk, payload[offset:offset+dc.rxChunkSize])
		dc.rx.Push(chunk)
	}
}

// Stop halts both loops and waits for them to exit.
func (dc *DataChannel) Stop() {
	dc.sendFlag.Stop()
	dc.recvFlag.Stop()
}

// Reconfigure is spec.md §4.5 step 5's data_channel.restart(new microphone
// cfg, new speaker cfg): stop both loops, recompute the aggregation/split
// arithmetic and receive-buffer sizing for the new configs and queues, then
// start again with a clean loop state.
func (dc *DataChannel) Reconfigure(senderCfg, receiverCfg audioconfig.Config, tx, rx *queue.ChunkQueue) {
	dc.Stop()

	dc.mu.Lock()
	dc.tx = tx
	dc.rx = rx
	dc.txChunkSize = senderCfg.ChunkSize()
	dc.rxChunkSize = receiverCfg.ChunkSize()
	dc.txChunksPerPkt = max(1, audioconfig.MaxPacketSize/dc.txChunkSize)
	dc.rxChunksPerPkt = max(1, audioconfig.MaxPacketSize/dc.rxChunkSize)
	dc.txPktDuration = senderCfg.ChunkDuration() * time.Duration(dc.txChunksPerPkt)
	dc.mu.Unlock()

	if err := shrinkReceiveBuffer(dc.conn, rx.Capacity()*dc.rxChunkSize); err != nil {
		dc.logger.Warn("failed to shrink SO_RCVBUF on reconfigure", "err", err)
	}

	dc.sendFlag = worker.NewRunFlag()
	dc.recvFlag = worker.NewRunFlag()
	dc.Start()
}

// Close releases the underlying UDP socket. Callers must Stop first.
func (dc *DataChannel) Close() error {
	return dc.conn.Close()
}

func setLowDelayTOS(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, ipTOSLowDelay)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func shrinkReceiveBuffer(conn *net.UDPConn, bytes int) error {
	if bytes <= 0 {
		return nil
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
	})
	if err != nil {
		return err
	}
	return sockErr
}
