// Package protocol defines the tagged envelope messages that cross the
// boundary between the real-time producer and the best-effort consumer.
//
// Both directions are closed sums: every payload implements an unexported
// marker method, so a type switch over the known kinds is exhaustive. The
// package is pure data shaping; the only side effect anywhere is message-id
// generation in NewEnvelope.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// BufferID is a monotonically increasing handle correlating a transferred
// buffer with its originating pool slot. A return is only accepted when its
// BufferID matches a slot currently awaiting that buffer.
type BufferID uint64

// Message is implemented by every payload kind in either direction.
type Message interface {
	message()
}

// ControlMessage is a payload travelling towards the producer.
type ControlMessage interface {
	Message
	control()
}

// ProducerMessage is a payload emitted by the producer.
type ProducerMessage interface {
	Message
	producer()
}

// Envelope wraps a payload with a unique id and creation timestamp.
type Envelope struct {
	ID        string
	Timestamp time.Time
	Payload   Message
}

// NewEnvelope wraps payload in a freshly stamped envelope.
func NewEnvelope(payload Message) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// PoolStats is a point-in-time snapshot of pool accounting. It travels
// inside BatchMetadata and StatusUpdate; a nil pointer means "not sampled".
type PoolStats struct {
	Size       int
	Available  int
	InFlight   int
	Processing int

	AcquireCount       uint64
	TransferCount      uint64
	PoolExhaustedCount uint64
	TimeoutCount       uint64
	ValidationFailures uint64
	StaleReturns       uint64
	ReturnedBuffers    uint64

	// HitRate is (AcquireCount-PoolExhaustedCount)/AcquireCount, ReuseRate
	// is ReturnedBuffers/TransferCount. Both are 0 before any activity.
	HitRate   float64
	ReuseRate float64
}

// TelemetryReport aggregates producer-side performance observations. It is
// produced on demand for StatusUpdate and never drives any alerting.
type TelemetryReport struct {
	// Latency aggregates cover successful acquisitions only; failed
	// attempts are counted in AcquireFailures.
	AcquireLatencyMin time.Duration
	AcquireLatencyMax time.Duration
	AcquireLatencyAvg time.Duration
	AcquireFailures   uint64

	PoolHitRate     float64
	BufferReuseRate float64

	// MeanUtilization is the average sampleCount/capacity across flushes.
	MeanUtilization float64

	Flushes uint64

	// DroppedQuanta counts drop events: a split-write tail dropped on
	// exhaustion counts as one even though it carries fewer samples than a
	// quantum. DroppedSamples is the exact figure.
	DroppedQuanta  uint64
	DroppedSamples uint64
}

// BatchMetadata travels with every transferred batch.
type BatchMetadata struct {
	SampleRate     int
	SampleCount    int
	BufferLength   int // bytes
	Timestamp      time.Time
	SequenceNumber uint64
	BufferID       BufferID
	PoolStats      *PoolStats
}

// --- Control messages (consumer -> producer) -------------------------------

// StartProcessing asks the producer to begin accumulating quanta.
type StartProcessing struct{}

// StopProcessing asks the producer to flush pending data and go idle.
type StopProcessing struct{}

// UpdateBatchConfig changes the batch size and/or flush timeout. The batch
// size is rounded up to a multiple of the quantum size; pending data is
// flushed under the old configuration before the new one takes effect.
type UpdateBatchConfig struct {
	BatchSize     int
	BufferTimeout time.Duration
}

// ReturnBuffer hands a spent buffer back to the pool. The sender must drop
// every reference to Buffer before sending; ownership moves unconditionally.
type ReturnBuffer struct {
	BufferID BufferID
	Buffer   []float32
}

// RequestStatus asks the producer for a StatusUpdate.
type RequestStatus struct{}

func (StartProcessing) message()   {}
func (StopProcessing) message()    {}
func (UpdateBatchConfig) message() {}
func (ReturnBuffer) message()      {}
func (RequestStatus) message()     {}

func (StartProcessing) control()   {}
func (StopProcessing) control()    {}
func (UpdateBatchConfig) control() {}
func (ReturnBuffer) control()      {}
func (RequestStatus) control()     {}

// --- Producer messages (producer -> consumer) ------------------------------

// ProcessorReady announces the producer's fixed parameters once its loop
// is running.
type ProcessorReady struct {
	QuantumSize int
	BatchSize   int
	PoolSize    int
	SampleRate  int
}

// ProcessingStarted confirms a StartProcessing.
type ProcessingStarted struct{}

// ProcessingStopped confirms a StopProcessing after the final flush.
type ProcessingStopped struct{}

// AudioDataBatch carries one accumulated batch. Buffer ownership moves with
// the message: the producer holds no reference once it is sent, and the
// consumer must return the buffer via ReturnBuffer when done.
type AudioDataBatch struct {
	Metadata BatchMetadata
	Buffer   []float32
}

// ErrorCode classifies a ProcessingError.
type ErrorCode string

const (
	CodePoolExhausted        ErrorCode = "pool_exhausted"
	CodeValidationFailure    ErrorCode = "validation_failure"
	CodeInvalidConfiguration ErrorCode = "invalid_configuration"
	CodeTransferFailure      ErrorCode = "transfer_failure"
)

// ProcessingError is a best-effort error report; the producer never fails
// hard, it counts and keeps going.
type ProcessingError struct {
	Message string
	Code    ErrorCode
}

// StatusUpdate is the on-demand answer to RequestStatus.
type StatusUpdate struct {
	Running   bool
	Pool      PoolStats
	Telemetry TelemetryReport
}

// BatchConfigUpdated confirms an applied UpdateBatchConfig with the
// effective (rounded) values.
type BatchConfigUpdated struct {
	BatchSize     int
	BufferTimeout time.Duration
}

// ProcessorDestroyed is the last message the producer emits before its
// output channel closes.
type ProcessorDestroyed struct{}

func (ProcessorReady) message()     {}
func (ProcessingStarted) message()  {}
func (ProcessingStopped) message()  {}
func (AudioDataBatch) message()     {}
func (ProcessingError) message()    {}
func (StatusUpdate) message()       {}
func (BatchConfigUpdated) message() {}
func (ProcessorDestroyed) message() {}

func (ProcessorReady) producer()     {}
func (ProcessingStarted) producer()  {}
func (ProcessingStopped) producer()  {}
func (AudioDataBatch) producer()     {}
func (ProcessingError) producer()    {}
func (StatusUpdate) producer()       {}
func (BatchConfigUpdated) producer() {}
func (ProcessorDestroyed) producer() {}
