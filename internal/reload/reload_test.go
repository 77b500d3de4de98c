package reload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlowe/soundbridge/internal/audiodevice"
)

func TestDevicePairEqual(t *testing.T) {
	a := DevicePair{Output: audiodevice.Info{Name: "Speakers", HostAPI: "MME"}}
	b := DevicePair{Output: audiodevice.Info{Name: "Speakers", HostAPI: "MME"}}
	c := DevicePair{Output: audiodevice.Info{Name: "Headphones", HostAPI: "MME"}}

	assert.True(t, a.equal(b))
	assert.False(t, a.equal(c))
}

func TestDevicePairJSONRoundTrip(t *testing.T) {
	pair := DevicePair{
		Output: audiodevice.Info{Name: "Speakers", HostAPI: "MME", DefaultSampleRate: 48000},
		Input:  audiodevice.Info{Name: "Microphone", HostAPI: "MME", DefaultSampleRate: 48000},
	}
	b, err := json.Marshal(pair)
	require.NoError(t, err)

	var got DevicePair
	require.NoError(t, json.Unmarshal(b, &got))
	assert.True(t, pair.equal(got))
}
