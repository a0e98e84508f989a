// Package bridge implements the real-time producer side: quanta are
// accumulated into pooled buffers and flushed across the execution-context
// boundary as ownership-transferring batch messages.
//
// Everything on the quantum path is O(1) in pool size and never blocks,
// retries or waits on the consumer. Pool exhaustion is handled purely by
// drop-and-count; that bounded loss is a documented policy, not an error.
package bridge

import (
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/pool"
	"github.com/Raikerian/go-audio-bridge/internal/telemetry"
)

// exhaustionLogStreak is how many consecutive exhausted acquisitions pass
// silently before a warning is logged.
const exhaustionLogStreak = 10

// AppendResult reports what happened to one quantum.
type AppendResult struct {
	// Full is true when the write filled the buffer to the batch size.
	Full bool
	// Remainder holds the tail of a split-write: samples that did not fit
	// and must be written into a fresh buffer after the flush.
	Remainder []float32
	// Dropped is true when the samples were lost to pool exhaustion.
	Dropped bool
}

// Accumulator appends fixed-size quanta into the buffer it currently owns,
// acquiring one lazily from the pool. It tracks the first-write time of the
// active buffer so the coordinator can flush slow-filling buffers by
// timeout.
type Accumulator struct {
	logger    *zap.Logger
	pool      *pool.Pool
	telemetry *telemetry.Telemetry

	quantumSize int
	batchSize   int

	lease      pool.Lease // lease.Buf == nil when no buffer is held
	writePos   int
	firstWrite time.Time

	droppedQuanta   uint64
	droppedSamples  uint64
	invalidQuanta   uint64
	exhaustedStreak int
}

// NewAccumulator creates an accumulator writing batches of batchSize
// samples from quanta of quantumSize samples.
func NewAccumulator(logger *zap.Logger, p *pool.Pool, tel *telemetry.Telemetry, quantumSize, batchSize int) *Accumulator {
	return &Accumulator{
		logger:      logger,
		pool:        p,
		telemetry:   tel,
		quantumSize: quantumSize,
		batchSize:   batchSize,
	}
}

// Append writes one quantum at the current write position. A quantum of
// the wrong length is counted and discarded. If no buffer is held one is
// acquired; on exhaustion the quantum is dropped and counted. A quantum
// that does not fully fit has its fitting portion written and the rest
// returned as Remainder, to be re-appended by the caller after flushing.
func (a *Accumulator) Append(quantum []float32, now time.Time) AppendResult {
	if len(quantum) != a.quantumSize {
		a.invalidQuanta++
		a.logger.Debug("Discarded quantum of unexpected length",
			zap.Int("samples", len(quantum)),
			zap.Int("want", a.quantumSize))
		return AppendResult{}
	}
	return a.write(quantum, now)
}

// AppendTail writes the remainder of a split quantum. Unlike Append it
// accepts any length below quantumSize.
func (a *Accumulator) AppendTail(samples []float32, now time.Time) AppendResult {
	return a.write(samples, now)
}

func (a *Accumulator) write(samples []float32, now time.Time) AppendResult {
	if a.lease.Buf == nil {
		start := time.Now()
		lease, ok := a.pool.Acquire(now)
		a.telemetry.RecordAcquire(time.Since(start), ok)
		if !ok {
			a.droppedQuanta++
			a.droppedSamples += uint64(len(samples))
			a.telemetry.RecordDrop(1, len(samples))
			a.exhaustedStreak++
			if a.exhaustedStreak == exhaustionLogStreak {
				a.logger.Warn("Pool exhausted, dropping audio",
					zap.Int("consecutive_drops", a.exhaustedStreak),
					zap.Uint64("total_dropped_samples", a.droppedSamples))
			}
			return AppendResult{Dropped: true}
		}
		a.exhaustedStreak = 0
		a.lease = lease
		a.writePos = 0
	}

	if a.writePos == 0 {
		a.firstWrite = now
	}

	space := a.batchSize - a.writePos
	n := len(samples)
	if n > space {
		n = space
	}
	copy(a.lease.Buf[a.writePos:], samples[:n])
	a.writePos += n

	res := AppendResult{Full: a.writePos >= a.batchSize}
	if n < len(samples) {
		res.Remainder = samples[n:]
	}
	return res
}

// HoldsData reports whether the active buffer has unwritten-out samples.
func (a *Accumulator) HoldsData() bool {
	return a.lease.Buf != nil && a.writePos > 0
}

// TimedOut reports whether the active buffer's first write is older than
// timeout. It is checked opportunistically on quantum arrival; there is no
// timer in this context.
func (a *Accumulator) TimedOut(now time.Time, timeout time.Duration) bool {
	return a.HoldsData() && now.Sub(a.firstWrite) >= timeout
}

// Peek exposes the held buffer for pre-transfer validation. The caller
// must not retain the slice.
func (a *Accumulator) Peek() (pool.Lease, int) {
	return a.lease, a.writePos
}

// Detach hands the held buffer to the caller and clears every local
// reference. The buffer is unusable here the instant transfer begins.
func (a *Accumulator) Detach() (pool.Lease, int) {
	lease, n := a.lease, a.writePos
	a.lease = pool.Lease{}
	a.writePos = 0
	return lease, n
}

// ReleaseHeld returns a held, never-transferred buffer straight back to
// the pool. Used on stop paths.
func (a *Accumulator) ReleaseHeld(now time.Time) {
	if a.lease.Buf == nil {
		return
	}
	if err := a.pool.Release(a.lease.ID, a.lease.Buf, now); err != nil {
		a.logger.Warn("Failed to release held buffer", zap.Error(err))
	}
	a.lease = pool.Lease{}
	a.writePos = 0
}

// SetBatchSize changes the write limit. The coordinator flushes pending
// data before calling this, so the new size never truncates a batch in
// progress.
func (a *Accumulator) SetBatchSize(n int) {
	a.batchSize = n
}

// DroppedSamples returns the cumulative samples lost to exhaustion.
func (a *Accumulator) DroppedSamples() uint64 { return a.droppedSamples }

// DroppedQuanta returns the cumulative count of exhausted write attempts.
// Each is one drop event: usually a whole quantum, but a split-write tail
// smaller than a quantum also counts as one. DroppedSamples is the exact
// sample figure.
func (a *Accumulator) DroppedQuanta() uint64 { return a.droppedQuanta }
