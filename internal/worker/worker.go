// Package worker implements the four capture/playback loops spec.md §4.2
// wires between a local audiodevice.Device and the shared queue.ChunkQueue
// that the data channel drains and fills.
package worker

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arlowe/soundbridge/internal/audiodevice"
	"github.com/arlowe/soundbridge/internal/format"
	"github.com/arlowe/soundbridge/internal/queue"
)

// bufferTime mirrors the queue-sizing window spec.md §3 names (0.2s); a
// Receiver sleeps half of it between silence writes on rx-queue underflow
// (spec.md §4.2 Receiver.run step 2, one of §5's named suspension points).
const bufferTime = 200 * time.Millisecond

// Sender repeatedly reads a chunk from a capture stream, optionally
// reformats it, and pushes it onto an outbound queue for the data channel's
// sender loop to pick up. Overflow of the outbound queue is the data
// channel's concern (drop-oldest, spec.md §3), not the Sender's.
type Sender struct {
	logger    *slog.Logger
	flag      *RunFlag
	stream    audiodevice.InputStream
	converter *format.Converter
	out       *queue.ChunkQueue
	frames    int
}

// NewSender builds a Sender that reads frames-frame chunks from stream, runs
// them through converter (nil for a passthrough), and pushes them to out.
func NewSender(name string, stream audiodevice.InputStream, converter *format.Converter, out *queue.ChunkQueue, frames int) *Sender {
	return &Sender{
		logger:    slog.Default().With("worker", name, "id", uuid.New()),
		flag:      NewRunFlag(),
		stream:    stream,
		converter: converter,
		out:       out,
		frames:    frames,
	}
}

// Start launches the capture loop if it is not already running.
func (s *Sender) Start() {
	if !s.flag.TryStart() {
		s.logger.Debug("start requested but already running")
		return
	}
	s.logger.Debug("starting")
	go s.run()
}

func (s *Sender) run() {
	defer s.flag.Done()
	for s.flag.Running() {
		chunk, err := s.stream.Read(s.frames)
		if err != nil {
			s.logger.Warn("capture read failed, skipping chunk", "err", err)
			continue
		}
		if chunk == nil {
			continue
		}
		if s.converter != nil {
			chunk = s.converter.Convert(chunk)
		}
		s.out.Push(chunk)
	}
	s.logger.Debug("stopped")
}

// Stop idempotently halts the capture loop and waits for it to exit.
func (s *Sender) Stop() {
	s.flag.Stop()
}

// Running reports whether the capture loop is currently active.
func (s *Sender) Running() bool {
	return s.flag.Running()
}

// Receiver repeatedly pops a chunk from an inbound queue, optionally
// reformats it, and writes it to a playback stream. When the queue is
// empty it writes silence instead of blocking, so the underlying device
// never starves of data mid-callback (spec.md §7's underflow handling).
type Receiver struct {
	logger         *slog.Logger
	flag           *RunFlag
	stream         audiodevice.OutputStream
	converter      *format.Converter
	in             *queue.ChunkQueue
	chunkBytes     int
	underflowSleep time.Duration
}

// NewReceiver builds a Receiver that pops chunks from in, runs them through
// converter (nil for a passthrough), and writes them to stream. chunkBytes
// is the size of a silence chunk to substitute when in is empty.
func NewReceiver(name string, stream audiodevice.OutputStream, converter *format.Converter, in *queue.ChunkQueue, chunkBytes int) *Receiver {
	return &Receiver{
		logger:         slog.Default().With("worker", name, "id", uuid.New()),
		flag:           NewRunFlag(),
		stream:         stream,
		converter:      converter,
		in:             in,
		chunkBytes:     chunkBytes,
		underflowSleep: bufferTime / 2,
	}
}

// Start launches the playback loop if it is not already running.
func (r *Receiver) Start() {
	if !r.flag.TryStart() {
		r.logger.Debug("start requested but already running")
		return
	}
	r.logger.Debug("starting")
	go r.run()
}

func (r *Receiver) run() {
	defer r.flag.Done()
	silence := make([]byte, r.chunkBytes)
	for r.flag.Running() {
		chunk, ok := r.in.Pop()
		if !ok {
			if err := r.stream.Write(silence); err != nil {
				r.logger.Warn("playback write failed, chunk dropped", "err", err)
			}
			time.Sleep(r.underflowSleep)
			continue
		}
		if r.converter != nil {
			chunk = r.converter.Convert(chunk)
		}
		if err := r.stream.Write(chunk); err != nil {
			r.logger.Warn("playback write failed, chunk dropped", "err", err)
		}
	}
	r.logger.Debug("stopped")
}

// Stop idempotently halts the playback loop and waits for it to exit.
func (r *Receiver) Stop() {
	r.flag.Stop()
}

// Running reports whether the playback loop is currently active.
func (r *Receiver) Running() bool {
	return r.flag.Running()
}
