// Package audiodevice defines the boundary to the host audio system —
// spec.md §1's "audio device interface", treated as an external
// collaborator. The transport core (internal/worker, internal/datachannel,
// internal/controlchannel) never imports a concrete host audio library
// directly; it only ever sees the Device interface defined here.
package audiodevice

import (
	"errors"
	"fmt"

	"github.com/arlowe/soundbridge/internal/audioconfig"
)

// ErrDeviceNotFound is returned by device lookups that fail to match.
var ErrDeviceNotFound = errors.New("audiodevice: no matching device")

// Info describes one audio device, the spec.md §3 "device descriptor".
// It is intentionally a plain struct, not an opaque handle: everything
// SPEC_FULL.md names (default-device lookup, virtual-cable matching, sample
// rate clamping) needs to read these fields.
type Info struct {
	Index             int
	Name              string
	HostAPI           string
	DefaultSampleRate int
	MaxInputChannels  int
	MaxOutputChannels int
}

// InputStream is an open capture stream bound to one device and one
// AudioConfig.
type InputStream interface {
	// Read blocks until exactly frames frames have been captured, returning
	// them as one chunk. Overflow (the device producing data faster than it
	// is drained) is swallowed, not propagated (spec.md §7).
	Read(frames int) ([]byte, error)
	Close() error
}

// OutputStream is an open playback stream bound to one device and one
// AudioConfig.
type OutputStream interface {
	// Write blocks until chunk has been accepted by the device. Underflow is
	// swallowed, not propagated (spec.md §7).
	Write(chunk []byte) error
	Close() error
}

// Device is the host audio system boundary: open streams by device index,
// enumerate devices, and report the system's current default input/output.
//
// Implementations: portaudio.go (gordonklaus/portaudio, the real host
// binding) and wavfile.go (a go-audio/wav-backed fake used in tests and the
// doctor diagnostic).
type Device interface {
	OpenInputStream(info Info, cfg audioconfig.Config) (InputStream, error)
	OpenOutputStream(info Info, cfg audioconfig.Config) (OutputStream, error)

	Devices() ([]Info, error)
	DefaultInputDevice() (Info, error)
	DefaultOutputDevice() (Info, error)

	// Close releases any process-wide resources the Device holds (spec.md
	// §9's "device-interface lifetime" note: init on construction/reload,
	// teardown before every reinit).
	Close() error
}

// FindByNameAndHostAPI scans devices for the first entry whose Name contains
// nameSubstring and whose HostAPI equals hostAPI exactly. This generalizes
// spec.md §4.2's "CABLE Input" / "MME" virtual-cable scan to any substring
// and host tag, per SPEC_FULL.md's Open Questions (the "MME" tag is
// Windows-specific; portable builds pass their platform's default host API
// name for the same device).
func FindByNameAndHostAPI(devices []Info, nameSubstring, hostAPI string) (Info, error) {
	for _, d := range devices {
		if containsFold(d.Name, nameSubstring) && d.HostAPI == hostAPI {
			return d, nil
		}
	}
	return Info{}, fmt.Errorf("%w: name containing %q on host API %q", ErrDeviceNotFound, nameSubstring, hostAPI)
}

func containsFold(s, substr string) bool {
	return indexFold(s, substr) >= 0
}

// indexFold is a tiny case-insensitive substring search, avoiding a
// strings.ToLower allocation per candidate device on every scan.
func indexFold(s, substr string) int {
	if len(substr) == 0 {
		return 0
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
