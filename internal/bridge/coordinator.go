package bridge

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/pool"
	"github.com/Raikerian/go-audio-bridge/internal/protocol"
	"github.com/Raikerian/go-audio-bridge/internal/telemetry"
)

// Coordinator decides when the accumulated batch is flushed (full buffer
// or flush timeout) and performs the ownership-transferring hand-off to
// the consumer side.
type Coordinator struct {
	logger    *zap.Logger
	pool      *pool.Pool
	telemetry *telemetry.Telemetry
	acc       *Accumulator
	out       chan<- protocol.Envelope

	sampleRate    int
	quantumSize   int
	batchSize     int
	bufferTimeout time.Duration

	sequence           uint64
	validationFailures uint64
	transferFailures   uint64
}

// NewCoordinator wires a coordinator over its accumulator. Batches are sent
// on out; the channel must have capacity of at least the pool size so a
// batch send can never block the producer (at most poolSize buffers exist,
// so at most poolSize batches can ever be in transit).
func NewCoordinator(logger *zap.Logger, p *pool.Pool, tel *telemetry.Telemetry, acc *Accumulator,
	out chan<- protocol.Envelope, sampleRate, quantumSize, batchSize int, bufferTimeout time.Duration,
) *Coordinator {
	return &Coordinator{
		logger:        logger,
		pool:          p,
		telemetry:     tel,
		acc:           acc,
		out:           out,
		sampleRate:    sampleRate,
		quantumSize:   quantumSize,
		batchSize:     batchSize,
		bufferTimeout: bufferTimeout,
	}
}

// BatchSize returns the current effective batch size.
func (c *Coordinator) BatchSize() int { return c.batchSize }

// BufferTimeout returns the current flush timeout.
func (c *Coordinator) BufferTimeout() time.Duration { return c.bufferTimeout }

// ProcessQuantum drives one quantum through the accumulator and applies
// the flush policy: flush on full (writing any split remainder into a
// fresh buffer), then flush by timeout for slow-filling buffers.
func (c *Coordinator) ProcessQuantum(quantum []float32, now time.Time) {
	res := c.acc.Append(quantum, now)
	if res.Full {
		c.Flush(now)
	}
	if len(res.Remainder) > 0 {
		if tail := c.acc.AppendTail(res.Remainder, now); tail.Full {
			c.Flush(now)
		}
	}
	if c.acc.TimedOut(now, c.bufferTimeout) {
		c.Flush(now)
	}
}

// Flush transfers the accumulated batch to the consumer side. It is a
// no-op when nothing has been written. Metadata is validated first; a
// validation failure aborts this flush only, emitting a best-effort error
// and leaving pool accounting untouched. On success the accumulator's
// buffer reference is cleared before the send: the buffer is invalid on
// this side the instant transfer begins.
func (c *Coordinator) Flush(now time.Time) {
	if !c.acc.HoldsData() {
		return
	}

	lease, sampleCount := c.acc.Peek()
	stats := c.pool.Snapshot()
	md := protocol.BatchMetadata{
		SampleRate:     c.sampleRate,
		SampleCount:    sampleCount,
		BufferLength:   len(lease.Buf) * protocol.BytesPerSample,
		Timestamp:      now,
		SequenceNumber: c.sequence,
		BufferID:       lease.ID,
		PoolStats:      &stats,
	}
	if err := protocol.ValidateBufferMetadata(md, lease.Buf, c.batchSize); err != nil {
		c.validationFailures++
		c.logger.Error("Batch metadata validation failed, flush aborted", zap.Error(err))
		c.emitError(protocol.CodeValidationFailure, err.Error())
		return
	}

	lease, sampleCount = c.acc.Detach()
	env := protocol.NewEnvelope(protocol.AudioDataBatch{Metadata: md, Buffer: lease.Buf})

	select {
	case c.out <- env:
	default:
		// The channel is sized to hold every buffer the pool owns, so this
		// only happens when the consumer side is gone entirely. Re-adopt
		// the buffer rather than leak the slot.
		c.transferFailures++
		if err := c.pool.Release(lease.ID, lease.Buf, now); err != nil {
			c.logger.Error("Failed to recover untransferred buffer", zap.Error(err))
		}
		c.emitError(protocol.CodeTransferFailure,
			fmt.Sprintf("transfer channel full, batch %d dropped", c.sequence))
		return
	}

	if err := c.pool.MarkTransferred(lease.ID, now); err != nil {
		// Accounting only; the buffer is already on the far side.
		c.logger.Error("Failed to mark buffer transferred", zap.Error(err))
	}
	c.sequence++
	// Post-transfer snapshot: the flush just recorded lands in the mirror.
	c.telemetry.RecordFlush(sampleCount, c.batchSize, c.pool.Snapshot())
}

// Stop flushes any partial batch, then releases a still-held buffer that
// never transferred. Safe to call repeatedly.
func (c *Coordinator) Stop(now time.Time) {
	c.Flush(now)
	c.acc.ReleaseHeld(now)
}

// Reconfigure applies a batch size / flush timeout change. The batch size
// is rounded up to a whole number of quanta and must fit the fixed buffer
// capacity. Pending data is flushed under the old configuration first, so
// a configuration change never corrupts an in-progress batch.
func (c *Coordinator) Reconfigure(batchSize int, bufferTimeout time.Duration, now time.Time) (protocol.BatchConfigUpdated, error) {
	if batchSize <= 0 {
		return protocol.BatchConfigUpdated{}, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if bufferTimeout <= 0 {
		return protocol.BatchConfigUpdated{}, fmt.Errorf("buffer timeout must be positive, got %s", bufferTimeout)
	}
	rounded := ((batchSize + c.quantumSize - 1) / c.quantumSize) * c.quantumSize
	if rounded > c.pool.Capacity() {
		return protocol.BatchConfigUpdated{}, fmt.Errorf("batch size %d exceeds buffer capacity %d",
			rounded, c.pool.Capacity())
	}

	c.Flush(now)

	c.batchSize = rounded
	c.bufferTimeout = bufferTimeout
	c.acc.SetBatchSize(rounded)

	c.logger.Info("Batch configuration updated",
		zap.Int("batch_size", rounded),
		zap.Duration("buffer_timeout", bufferTimeout))

	return protocol.BatchConfigUpdated{BatchSize: rounded, BufferTimeout: bufferTimeout}, nil
}

// emitError sends a best-effort ProcessingError; if the channel is full
// the message is dropped, never blocking the producer.
func (c *Coordinator) emitError(code protocol.ErrorCode, msg string) {
	env := protocol.NewEnvelope(protocol.ProcessingError{Message: msg, Code: code})
	select {
	case c.out <- env:
	default:
	}
}
