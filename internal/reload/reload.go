// Package reload implements spec.md §4.5's device-change monitor and the
// server-side reload handler that coordinates a hot restart across both
// endpoints when the server's default audio devices change.
package reload

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/arlowe/soundbridge/internal/audiodevice"
)

// MonitorTick is how often the monitor child process polls the default
// devices, per spec.md §4.5.
const MonitorTick = time.Second

// DevicePair is the newline-delimited JSON record the monitor child writes
// to stdout each time it observes the default input/output devices —
// SoundBridge's portable equivalent of a named pipe or eventfd (spec.md §9).
type DevicePair struct {
	Output audiodevice.Info `json:"output"`
	Input  audiodevice.Info `json:"input"`
}

func (p DevicePair) equal(other DevicePair) bool {
	return p.Output.Name == other.Output.Name &&
		p.Output.HostAPI == other.Output.HostAPI &&
		p.Input.Name == other.Input.Name &&
		p.Input.HostAPI == other.Input.HostAPI
}

// RunMonitorChild is the body of the monitor process: spec.md §4.5's
// "separate OS process" requirement, invoked by cmd/server/main.go when it
// re-execs itself with the hidden monitor flag. newDevice constructs a fresh
// audiodevice.Device each tick, matching the spec's "open a fresh audio
// interface, read descriptors, terminate the interface" loop — this is what
// makes the default-device read uncached.
func RunMonitorChild(w io.Writer, newDevice func() (audiodevice.Device, error)) error {
	enc := json.NewEncoder(w)
	var last DevicePair
	haveLast := false

	ticker := time.NewTicker(MonitorTick)
	defer ticker.Stop()
	for range ticker.C {
		dev, err := newDevice()
		if err != nil {
			continue
		}
		out, errOut := dev.DefaultOutputDevice()
		in, errIn := dev.DefaultInputDevice()
		dev.Close()
		if errOut != nil || errIn != nil {
			continue
		}

		current := DevicePair{Output: out, Input: in}
		if !haveLast || !last.equal(current) {
			if err := enc.Encode(current); err != nil {
				return fmt.Errorf("reload: encode device pair: %w", err)
			}
			last = current
			haveLast = true
		}
	}
	return nil
}

// Monitor launches the monitor child process and republishes each DevicePair
// it reports on Changes.
type Monitor struct {
	logger  *slog.Logger
	cmd     *exec.Cmd
	Changes chan DevicePair
}

// StartMonitor re-execs selfPath with extraArgs (expected to land on the
// hidden monitor flag), reading its stdout as newline-delimited DevicePair
// JSON (spec.md §4.5).
func StartMonitor(selfPath string, extraArgs ...string) (*Monitor, error) {
	cmd := exec.Command(selfPath, extraArgs...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("reload: monitor stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("reload: start monitor process: %w", err)
	}

	m := &Monitor{
		logger:  slog.Default().With("component", "reload-monitor"),
		cmd:     cmd,
		Changes: make(chan DevicePair, 1),
	}
	go m.read(stdout)
	return m, nil
}

func (m *Monitor) read(stdout io.Reader) {
	defer close(m.Changes)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		var pair DevicePair
		if err := json.Unmarshal(scanner.Bytes(), &pair); err != nil {
			m.logger.Warn("malformed device pair record, skipping", "err", err)
			continue
		}
		m.Changes <- pair
	}
}

// Stop terminates the monitor child process.
func (m *Monitor) Stop() error {
	if m.cmd.Process == nil {
		return nil
	}
	return m.cmd.Process.Kill()
}
