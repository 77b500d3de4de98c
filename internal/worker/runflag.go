package worker

import "sync/atomic"

// RunFlag is a tri-state start/stop latch shared by every capture/playback
// worker loop: Start is idempotent (a second Start on an already-running
// worker is a no-op), and Stop blocks until the loop has actually observed
// the flag drop and returned (spec.md §4.5's reload handler depends on Stop
// being synchronous, so it can safely reinitialize the device interface
// immediately afterward).
type RunFlag struct {
	running atomic.Bool
	done    chan struct{}
}

// NewRunFlag returns a flag in the stopped state.
func NewRunFlag() *RunFlag {
	return &RunFlag{}
}

// TryStart transitions stopped -> running, returning false if already
// running. The caller is responsible for spawning the worker goroutine and
// calling Done when it exits.
func (f *RunFlag) TryStart() bool {
	if !f.running.CompareAndSwap(false, true) {
		return false
	}
	f.done = make(chan struct{})
	return true
}

// Running reports whether the loop is currently expected to be executing.
func (f *RunFlag) Running() bool {
	return f.running.Load()
}

// RequestStop signals the loop to exit. The loop must poll Running() and
// call Done when it observes false.
func (f *RunFlag) RequestStop() {
	f.running.Store(false)
}

// Done is called once by the worker goroutine immediately before it
// returns, unblocking any pending Join. Callers typically `defer f.Done()`
// right after a successful TryStart spawns the loop.
func (f *RunFlag) Done() {
	close(f.done)
}

// Join blocks until the worker goroutine started by the most recent
// successful TryStart has exited. Join on a flag that was never started
// returns immediately.
func (f *RunFlag) Join() {
	if f.done == nil {
		return
	}
	<-f.done
}

// Stop is RequestStop followed by Join: the idempotent synchronous stop used
// throughout spec.md §4.5's reload sequence.
func (f *RunFlag) Stop() {
	f.RequestStop()
	f.Join()
}
