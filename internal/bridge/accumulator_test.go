package bridge_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorDiscardsWrongLengthQuantum(t *testing.T) {
	f := newPipeline(t, 2, 512, 512, time.Hour)
	now := time.Now()

	res := f.acc.Append(make([]float32, 64), now)
	assert.False(t, res.Full)
	assert.False(t, res.Dropped)
	assert.False(t, f.acc.HoldsData(), "a malformed quantum must not acquire a buffer")
	assert.Equal(t, uint64(0), f.pool.Snapshot().AcquireCount)
}

func TestAccumulatorLazyAcquisition(t *testing.T) {
	f := newPipeline(t, 2, 512, 512, time.Hour)
	now := time.Now()

	require.Equal(t, uint64(0), f.pool.Snapshot().AcquireCount)

	res := f.acc.Append(quantum(1), now)
	assert.False(t, res.Full)
	assert.True(t, f.acc.HoldsData())
	assert.Equal(t, uint64(1), f.pool.Snapshot().AcquireCount)

	// Further appends into the same buffer acquire nothing new.
	f.acc.Append(quantum(1), now)
	assert.Equal(t, uint64(1), f.pool.Snapshot().AcquireCount)
}

func TestAccumulatorTimeoutTracksFirstWrite(t *testing.T) {
	f := newPipeline(t, 1, 512, 512, time.Hour)
	start := time.Now()

	f.acc.Append(quantum(1), start)
	f.acc.Append(quantum(1), start.Add(60*time.Millisecond))

	assert.False(t, f.acc.TimedOut(start.Add(99*time.Millisecond), 100*time.Millisecond))
	assert.True(t, f.acc.TimedOut(start.Add(100*time.Millisecond), 100*time.Millisecond),
		"timeout is measured from the buffer's first write, not the latest")
}

func TestAccumulatorDropsWholeQuantaUnderExhaustion(t *testing.T) {
	f := newPipeline(t, 1, 128, 128, time.Hour)
	now := time.Now()

	// Fills and transfers the only buffer.
	f.coord.ProcessQuantum(quantum(1), now)
	require.Len(t, f.drainBatches(t), 1)

	res := f.acc.Append(quantum(1), now)
	assert.True(t, res.Dropped)
	assert.Equal(t, uint64(1), f.acc.DroppedQuanta())
	assert.Equal(t, uint64(128), f.acc.DroppedSamples())
}

func TestSplitTailDropCountsOneEvent(t *testing.T) {
	// Pool of one: the split-write tail has nowhere to go once the only
	// buffer has transferred. The 64-sample tail is one drop event.
	f := newPipeline(t, 1, 256, 192, time.Hour)
	now := time.Now()

	f.coord.ProcessQuantum(quantum(1), now) // 128 of 192
	f.coord.ProcessQuantum(quantum(1), now) // fills 192, tail dropped

	require.Len(t, f.drainBatches(t), 1)
	assert.Equal(t, uint64(1), f.acc.DroppedQuanta())
	assert.Equal(t, uint64(64), f.acc.DroppedSamples())
}

func TestDetachClearsLocalReferences(t *testing.T) {
	f := newPipeline(t, 1, 512, 512, time.Hour)
	now := time.Now()

	f.acc.Append(quantum(1), now)
	lease, n := f.acc.Detach()
	assert.Equal(t, 128, n)
	require.NotNil(t, lease.Buf)
	assert.Greater(t, uint64(lease.ID), uint64(0))

	assert.False(t, f.acc.HoldsData())
	empty, n := f.acc.Detach()
	assert.Nil(t, empty.Buf)
	assert.Zero(t, n)

	// Hand the detached buffer back so the fixture pool stays consistent.
	require.NoError(t, f.pool.Release(lease.ID, lease.Buf, now))
}
