package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceSendDropsOldest(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		rc.ForceSend(i)
	}

	// Only the last three survive.
	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)

	m := rc.GetMetrics()
	assert.Equal(t, int64(5), m.Sent)
	assert.Equal(t, int64(2), m.Dropped)
	assert.Equal(t, int64(3), m.Received)
}

func TestTrySend(t *testing.T) {
	rc := New[string](1)

	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "full buffer rejects TrySend")

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestCloseIsIdempotentAndDiscardsLateSends(t *testing.T) {
	rc := New[int](2)
	rc.ForceSend(1)

	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() {
		assert.False(t, rc.ForceSend(2))
		assert.False(t, rc.TrySend(3))
	})

	// Buffered value still drains, then the channel reports closed.
	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = rc.Receive()
	assert.False(t, ok)
}

func TestRangeOverC(t *testing.T) {
	rc := New[int](4)
	for i := 0; i < 4; i++ {
		rc.ForceSend(i)
	}
	rc.Close()

	sum := 0
	for v := range rc.C() {
		sum += v
	}
	assert.Equal(t, 6, sum)
}

func TestNewPanicsOnBadCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
