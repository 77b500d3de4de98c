package reload

import (
	"log/slog"
	"time"
)

// reinitRetryInterval is how long the reload handler waits between
// reinitialize attempts when device enumeration fails (spec.md §4.5 step 4).
const reinitRetryInterval = 500 * time.Millisecond

// Target is implemented by the server endpoint; ReloadHandler drives it
// through spec.md §4.5's 8-step sequence without internal/reload needing to
// import internal/server (which would create an import cycle, since the
// server owns the Monitor and ReloadHandler).
type Target struct {
	// PushStop/PushStart push the corresponding notification to the current
	// client, best-effort repeated (step 1, step 7).
	PushStop  func()
	PushStart func()

	// AliveWorkers reports which of the speaker/microphone workers are
	// currently running, snapshotted before teardown (step 2).
	AliveWorkers func() (speakerAlive, microphoneAlive bool)

	// StopWorkersAndInterface stops both audio workers and terminates the
	// audio interface (step 3).
	StopWorkersAndInterface func()

	// Reinitialize reinitializes the audio interface and constructs fresh
	// speaker/microphone workers for the new DevicePair. It returns an error
	// if device enumeration fails, in which case the handler retries
	// (step 4).
	Reinitialize func(pair DevicePair) error

	// RestartDataChannel resizes and restarts the data channel's queues for
	// the new configs (step 5).
	RestartDataChannel func()

	// StartWorkers restarts whichever of the speaker/microphone workers were
	// alive before teardown (step 6).
	StartWorkers func(speakerAlive, microphoneAlive bool)
}

// ReloadHandler runs as its own goroutine, waiting on a Monitor's Changes
// channel and driving Target through spec.md §4.5's 8 steps for each
// device-pair change it observes.
type ReloadHandler struct {
	logger  *slog.Logger
	monitor *Monitor
	target  Target
	stop    chan struct{}
	done    chan struct{}
}

// NewReloadHandler wires monitor's change notifications to target's 8-step
// sequence. Call Run to start processing (typically in its own goroutine).
func NewReloadHandler(monitor *Monitor, target Target) *ReloadHandler {
	return &ReloadHandler{
		logger:  slog.Default().With("component", "reload-handler"),
		monitor: monitor,
		target:  target,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run blocks, processing device-pair changes until Stop is called or the
// monitor's Changes channel closes.
func (h *ReloadHandler) Run() {
	defer close(h.done)
	for {
		select {
		case pair, ok := <-h.monitor.Changes:
			if !ok {
				return
			}
			h.handle(pair)
		case <-h.stop:
			return
		}
	}
}

// handle implements spec.md §4.5's 8-step parent reload handler exactly.
func (h *ReloadHandler) handle(pair DevicePair) {
	h.logger.Info("device change detected, starting reload", "output", pair.Output.Name, "input", pair.Input.Name)

	h.target.PushStop() // 1

	speakerAlive, microphoneAlive := h.target.AliveWorkers() // 2

	h.target.StopWorkersAndInterface() // 3

	for { // 4
		if err := h.target.Reinitialize(pair); err != nil {
			h.logger.Warn("reinitialize failed, retrying", "err", err)
			select {
			case <-h.stop:
				return
			case <-time.After(reinitRetryInterval):
				continue
			}
		}
		break
	}

	h.target.RestartDataChannel() // 5

	h.target.StartWorkers(speakerAlive, microphoneAlive) // 6

	h.target.PushStart() // 7

	h.logger.Info("reload complete")
	// 8: the loop in Run implicitly waits again on the next change.
}

// Stop halts the handler goroutine and waits for it to exit.
func (h *ReloadHandler) Stop() {
	close(h.stop)
	<-h.done
}
