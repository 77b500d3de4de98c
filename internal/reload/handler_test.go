package reload

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadHandlerRunsAllEightSteps(t *testing.T) {
	var mu sync.Mutex
	var steps []string
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, name)
	}

	reinitCalls := 0
	target := Target{
		PushStop:  func() { record("push-stop") },
		PushStart: func() { record("push-start") },
		AliveWorkers: func() (bool, bool) {
			record("alive-workers")
			return true, false
		},
		StopWorkersAndInterface: func() { record("stop-workers") },
		Reinitialize: func(pair DevicePair) error {
			reinitCalls++
			record("reinitialize")
			if reinitCalls == 1 {
				return errors.New("enumeration failed")
			}
			return nil
		},
		RestartDataChannel: func() { record("restart-data-channel") },
		StartWorkers: func(speakerAlive, microphoneAlive bool) {
			record("start-workers")
			assert.True(t, speakerAlive)
			assert.False(t, microphoneAlive)
		},
	}

	monitor := &Monitor{Changes: make(chan DevicePair, 1)}
	h := NewReloadHandler(monitor, target)
	go h.Run()

	monitor.Changes <- DevicePair{}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(steps) >= 8 // reinitialize retried once, so 8 total calls
	}, 2*time.Second, 10*time.Millisecond)

	h.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"push-stop", "alive-workers", "stop-workers",
		"reinitialize", "reinitialize", "restart-data-channel",
		"start-workers", "push-start",
	}, steps)
	assert.Equal(t, 2, reinitCalls)
}
