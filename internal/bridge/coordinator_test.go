package bridge_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/bridge"
	"github.com/Raikerian/go-audio-bridge/internal/pool"
	"github.com/Raikerian/go-audio-bridge/internal/protocol"
	"github.com/Raikerian/go-audio-bridge/internal/telemetry"
)

const quantumSize = 128

type pipelineFixture struct {
	pool  *pool.Pool
	acc   *bridge.Accumulator
	coord *bridge.Coordinator
	out   chan protocol.Envelope
}

func newPipeline(t *testing.T, poolSize, capacity, batchSize int, flushTimeout time.Duration) *pipelineFixture {
	t.Helper()
	logger := zap.NewNop()

	p, err := pool.New(logger, pool.Config{
		Size:           poolSize,
		BufferCapacity: capacity,
		ReclaimTimeout: time.Hour,
	})
	require.NoError(t, err)

	tel := telemetry.New(nil)
	out := make(chan protocol.Envelope, poolSize+4)
	acc := bridge.NewAccumulator(logger, p, tel, quantumSize, batchSize)
	coord := bridge.NewCoordinator(logger, p, tel, acc, out, 44100, quantumSize, batchSize, flushTimeout)

	return &pipelineFixture{pool: p, acc: acc, coord: coord, out: out}
}

func quantum(value float32) []float32 {
	q := make([]float32, quantumSize)
	for i := range q {
		q[i] = value
	}
	return q
}

// drainBatches collects every AudioDataBatch currently in the channel.
func (f *pipelineFixture) drainBatches(t *testing.T) []protocol.AudioDataBatch {
	t.Helper()
	var batches []protocol.AudioDataBatch
	for {
		select {
		case env := <-f.out:
			if b, ok := env.Payload.(protocol.AudioDataBatch); ok {
				batches = append(batches, b)
			}
		default:
			return batches
		}
	}
}

func TestFullBufferProducesExactlyOneBatch(t *testing.T) {
	// 4096-sample capacity, 128-sample quanta: 32 quanta fill one batch.
	f := newPipeline(t, 2, 4096, 4096, 100*time.Millisecond)
	now := time.Now()

	for i := 0; i < 32; i++ {
		f.coord.ProcessQuantum(quantum(0.5), now)
	}

	batches := f.drainBatches(t)
	require.Len(t, batches, 1)
	assert.Equal(t, 4096, batches[0].Metadata.SampleCount)
	assert.Equal(t, uint64(0), batches[0].Metadata.SequenceNumber)
	assert.Equal(t, 4096*protocol.BytesPerSample, batches[0].Metadata.BufferLength)
	require.NotNil(t, batches[0].Metadata.PoolStats)
}

func TestConservationUnderStarvation(t *testing.T) {
	// Pool of 2 with no returns: after both buffers transfer, every further
	// quantum is dropped. Samples in + samples dropped must balance.
	const total = 10
	f := newPipeline(t, 2, 256, 256, time.Hour)
	now := time.Now()

	for i := 0; i < total; i++ {
		f.coord.ProcessQuantum(quantum(1), now)
	}

	var written int
	for _, b := range f.drainBatches(t) {
		written += b.Metadata.SampleCount
	}
	assert.Equal(t, uint64(total*quantumSize), uint64(written)+f.acc.DroppedSamples())

	st := f.pool.Snapshot()
	assert.Equal(t, uint64(2), st.TransferCount)
	assert.Greater(t, st.PoolExhaustedCount, uint64(0))
}

func TestExhaustionProducesNoBatchAndCounts(t *testing.T) {
	// Pool of 1, no returns: the first batch transfers, the second
	// buffer-requiring event observes exhaustion and yields nothing.
	f := newPipeline(t, 1, 128, 128, time.Hour)
	now := time.Now()

	f.coord.ProcessQuantum(quantum(1), now)
	require.Len(t, f.drainBatches(t), 1)

	before := f.pool.Snapshot().PoolExhaustedCount
	f.coord.ProcessQuantum(quantum(1), now)

	assert.Empty(t, f.drainBatches(t))
	assert.Equal(t, before+1, f.pool.Snapshot().PoolExhaustedCount)
	assert.Equal(t, uint64(quantumSize), f.acc.DroppedSamples())
}

func TestTimeoutFlushesPartialBatch(t *testing.T) {
	// Quanta arriving every 50 ms against a 100 ms flush timeout: the
	// third arrival sees 100 ms elapsed and flushes a partial batch.
	f := newPipeline(t, 2, 4096, 4096, 100*time.Millisecond)
	start := time.Now()

	f.coord.ProcessQuantum(quantum(1), start)
	f.coord.ProcessQuantum(quantum(1), start.Add(50*time.Millisecond))
	require.Empty(t, f.drainBatches(t))

	f.coord.ProcessQuantum(quantum(1), start.Add(100*time.Millisecond))

	batches := f.drainBatches(t)
	require.Len(t, batches, 1)
	assert.Equal(t, 3*quantumSize, batches[0].Metadata.SampleCount)
	assert.Less(t, batches[0].Metadata.SampleCount, 4096)
}

func TestBatchesNeverEmptyNorOverCapacity(t *testing.T) {
	f := newPipeline(t, 4, 512, 512, 10*time.Millisecond)
	start := time.Now()

	// Flushing with nothing written is a no-op.
	f.coord.Flush(start)
	require.Empty(t, f.drainBatches(t))

	for i := 0; i < 40; i++ {
		f.coord.ProcessQuantum(quantum(1), start.Add(time.Duration(i)*7*time.Millisecond))
	}
	f.coord.Stop(start.Add(time.Second))

	for _, b := range f.drainBatches(t) {
		assert.Greater(t, b.Metadata.SampleCount, 0)
		assert.LessOrEqual(t, b.Metadata.SampleCount, 512)
	}
}

func TestSplitWriteLosesNothing(t *testing.T) {
	// A batch size that is not a whole number of quanta forces the last
	// quantum to split across two buffers.
	f := newPipeline(t, 2, 256, 192, time.Hour)
	now := time.Now()

	f.coord.ProcessQuantum(quantum(1), now) // 128 of 192
	f.coord.ProcessQuantum(quantum(1), now) // fills to 192, 64 spill over

	batches := f.drainBatches(t)
	require.Len(t, batches, 1)
	assert.Equal(t, 192, batches[0].Metadata.SampleCount)

	// The 64-sample tail landed in a fresh buffer.
	f.coord.Flush(now)
	batches = f.drainBatches(t)
	require.Len(t, batches, 1)
	assert.Equal(t, 64, batches[0].Metadata.SampleCount)
	assert.Equal(t, uint64(0), f.acc.DroppedSamples())
}

func TestStopFlushesPartialAndReleasesHeld(t *testing.T) {
	f := newPipeline(t, 2, 4096, 4096, time.Hour)
	now := time.Now()

	f.coord.ProcessQuantum(quantum(1), now)
	f.coord.Stop(now)

	batches := f.drainBatches(t)
	require.Len(t, batches, 1)
	assert.Equal(t, quantumSize, batches[0].Metadata.SampleCount)

	// Both slots are back: one Processing (transferred), one Available;
	// nothing remains InFlight with the producer.
	st := f.pool.Snapshot()
	assert.Equal(t, 0, st.InFlight)
	assert.Equal(t, 1, st.Processing)
	assert.Equal(t, 1, st.Available)

	// Stop again is harmless.
	f.coord.Stop(now)
	assert.Empty(t, f.drainBatches(t))
}

func TestReconfigureFlushesUnderOldConfigFirst(t *testing.T) {
	f := newPipeline(t, 2, 4096, 4096, 100*time.Millisecond)
	now := time.Now()

	f.coord.ProcessQuantum(quantum(1), now)
	f.coord.ProcessQuantum(quantum(1), now)

	applied, err := f.coord.Reconfigure(1024, 50*time.Millisecond, now)
	require.NoError(t, err)
	assert.Equal(t, 1024, applied.BatchSize)
	assert.Equal(t, 50*time.Millisecond, applied.BufferTimeout)

	// Pending data went out as one partial batch before the new size took
	// effect.
	batches := f.drainBatches(t)
	require.Len(t, batches, 1)
	assert.Equal(t, 2*quantumSize, batches[0].Metadata.SampleCount)

	// The new size governs subsequent flushes: 8 quanta now fill a batch.
	for i := 0; i < 8; i++ {
		f.coord.ProcessQuantum(quantum(1), now)
	}
	batches = f.drainBatches(t)
	require.Len(t, batches, 1)
	assert.Equal(t, 1024, batches[0].Metadata.SampleCount)
}

func TestFlushKeepsMetricsExpositionCurrent(t *testing.T) {
	logger := zap.NewNop()
	p, err := pool.New(logger, pool.Config{
		Size:           4,
		BufferCapacity: 512,
		ReclaimTimeout: time.Hour,
	})
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m, err := telemetry.NewMetrics(registry)
	require.NoError(t, err)
	tel := telemetry.New(m)

	out := make(chan protocol.Envelope, 8)
	acc := bridge.NewAccumulator(logger, p, tel, quantumSize, 512)
	coord := bridge.NewCoordinator(logger, p, tel, acc, out, 44100, quantumSize, 512, time.Hour)

	now := time.Now()
	for i := 0; i < 8; i++ {
		coord.ProcessQuantum(quantum(1), now)
	}
	require.Equal(t, uint64(2), p.Snapshot().TransferCount)

	// Under steady flow no status request ever fires; the exposition must
	// track the traffic path on its own.
	families, err := registry.Gather()
	require.NoError(t, err)
	transfers := -1.0
	for _, mf := range families {
		if mf.GetName() == "audiobridge_pool_transfers" {
			transfers = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.InDelta(t, 2, transfers, 1e-9)
}

func TestReconfigureRoundsBatchSizeUpToQuanta(t *testing.T) {
	f := newPipeline(t, 2, 4096, 4096, 100*time.Millisecond)

	applied, err := f.coord.Reconfigure(1000, 100*time.Millisecond, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1024, applied.BatchSize)
}

func TestReconfigureRejectsInvalidValues(t *testing.T) {
	f := newPipeline(t, 2, 4096, 4096, 100*time.Millisecond)
	now := time.Now()

	_, err := f.coord.Reconfigure(0, 100*time.Millisecond, now)
	assert.Error(t, err)

	_, err = f.coord.Reconfigure(1024, 0, now)
	assert.Error(t, err)

	// Rounded size beyond the fixed buffer capacity cannot be honored.
	_, err = f.coord.Reconfigure(8192, 100*time.Millisecond, now)
	assert.Error(t, err)

	// Rejection left the configuration untouched.
	assert.Equal(t, 4096, f.coord.BatchSize())
	assert.Equal(t, 100*time.Millisecond, f.coord.BufferTimeout())
}
