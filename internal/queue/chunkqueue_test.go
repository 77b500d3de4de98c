package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPopOnEmptyReturnsFalse(t *testing.T) {
	q := NewChunkQueueWithCapacity(4)
	chunk, ok := q.Pop()
	assert.False(t, ok)
	assert.Nil(t, chunk)
}

func TestFIFOOrder(t *testing.T) {
	q := NewChunkQueueWithCapacity(4)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c"))

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), got)

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte("b"), got)
}

func TestDropOldestOnOverflow(t *testing.T) {
	q := NewChunkQueueWithCapacity(2)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c")) // should displace "a"

	assert.Equal(t, 2, q.Len())
	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte("b"), got)

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte("c"), got)
}

func TestPopNRequiresFullBatch(t *testing.T) {
	q := NewChunkQueueWithCapacity(8)
	q.Push([]byte("a"))
	q.Push([]byte("b"))

	_, ok := q.PopN(3)
	assert.False(t, ok)
	assert.Equal(t, 2, q.Len(), "a failed PopN must not remove partial data")

	chunks, ok := q.PopN(2)
	require.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, chunks)
	assert.Equal(t, 0, q.Len())
}

func TestCapacityFromBufferTime(t *testing.T) {
	q := NewChunkQueue(200*time.Millisecond, time.Millisecond)
	assert.Equal(t, 200, q.Capacity())
}

// Property 1 (spec.md §8): the queue never exceeds its configured capacity,
// regardless of how many chunks are pushed.
func TestQueueNeverExceedsCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 32).Draw(t, "capacity")
		q := NewChunkQueueWithCapacity(capacity)

		pushes := rapid.IntRange(0, 200).Draw(t, "pushes")
		for i := 0; i < pushes; i++ {
			q.Push([]byte{byte(i)})
			assert.LessOrEqual(t, q.Len(), capacity)
		}
	})
}
