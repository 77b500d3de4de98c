package datachannel

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlowe/soundbridge/internal/audioconfig"
	"github.com/arlowe/soundbridge/internal/queue"
)

func testConfig(framesPerChunk int) audioconfig.Config {
	return audioconfig.Config{SampleRate: 8000, Channels: 1, AudioDtype: audioconfig.Int16LE, FramesPerChunk: framesPerChunk}
}

// Scenario C (spec.md §8): tx_chunk_size=128 -> tx_chunks_per_pkt=8 when
// MAX_PACKET_SIZE=1024.
func TestAggregationMathMatchesScenarioC(t *testing.T) {
	cfg := testConfig(64) // chunk_size = 64 frames * 1 channel * 2 bytes = 128 bytes
	require.Equal(t, 128, cfg.ChunkSize())

	tx := queue.NewChunkQueueWithCapacity(32)
	rx := queue.NewChunkQueueWithCapacity(32)
	dc, err := New("127.0.0.1:0", false, cfg, cfg, tx, rx)
	require.NoError(t, err)
	defer dc.Close()

	assert.Equal(t, 8, dc.txChunksPerPkt)
}

// Scenario D (spec.md §8): feeding one 320-byte datagram with rx_chunk_size
// 128 appends 2 chunks, discarding the 64-byte trailing remainder.
func TestSplitAndEnqueueDiscardsPartialTail(t *testing.T) {
	cfg := testConfig(64)
	tx := queue.NewChunkQueueWithCapacity(32)
	rx := queue.NewChunkQueueWithCapacity(32)
	dc, err := New("127.0.0.1:0", false, cfg, cfg, tx, rx)
	require.NoError(t, err)
	defer dc.Close()

	payload := make([]byte, 320)
	for i := range payload {
		payload[i] = byte(i)
	}
	dc.splitAndEnqueue(payload)

	assert.Equal(t, 2, rx.Len())
	first, ok := rx.Pop()
	require.True(t, ok)
	assert.Len(t, first, 128)
	assert.Equal(t, payload[:128], first)
}

// End-to-end: two DataChannels on loopback, chunks pushed on one side's tx
// queue arrive on the other's rx queue once a full packet accumulates.
func TestSendAndReceiveAcrossLoopback(t *testing.T) {
	cfg := testConfig(64)

	aTx := queue.NewChunkQueueWithCapacity(32)
	aRx := queue.NewChunkQueueWithCapacity(32)
	a, err := New("127.0.0.1:0", false, cfg, cfg, aTx, aRx)
	require.NoError(t, err)
	defer a.Close()

	bTx := queue.NewChunkQueueWithCapacity(32)
	bRx := queue.NewChunkQueueWithCapacity(32)
	b, err := New("127.0.0.1:0", false, cfg, cfg, bTx, bRx)
	require.NoError(t, err)
	defer b.Close()

	aAddr := a.conn.LocalAddr().(*net.UDPAddr)
	bAddr := b.conn.LocalAddr().(*net.UDPAddr)
	a.SetDestination(bAddr)
	b.SetDestination(aAddr)

	a.Start()
	b.Start()
	defer a.Stop()
	defer b.Stop()

	for i := 0; i < 8; i++ {
		chunk := make([]byte, 128)
		chunk[0] = byte(i)
		aTx.Push(chunk)
	}

	assert.Eventually(t, func() bool { return bRx.Len() == 8 }, 3*time.Second, 10*time.Millisecond)
}
