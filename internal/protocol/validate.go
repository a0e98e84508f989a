package protocol

import (
	"errors"
	"fmt"
)

// BytesPerSample is the wire size of one float32 amplitude sample.
const BytesPerSample = 4

// ErrUnknownMessage is returned when an envelope carries a payload outside
// the closed set of message kinds (including a nil payload).
var ErrUnknownMessage = errors.New("unknown message type")

// ValidateMessage performs the structural tag check on an envelope: the
// payload must be one of the known kinds for its direction. It deliberately
// does not inspect field contents; that is ValidateBufferMetadata's job.
func ValidateMessage(env Envelope) error {
	switch env.Payload.(type) {
	case StartProcessing, StopProcessing, UpdateBatchConfig, ReturnBuffer, RequestStatus:
		return nil
	case ProcessorReady, ProcessingStarted, ProcessingStopped, AudioDataBatch,
		ProcessingError, StatusUpdate, BatchConfigUpdated, ProcessorDestroyed:
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, env.Payload)
	}
}

// ValidateBufferMetadata checks that a batch buffer and its metadata are
// coherent before transfer. Any violation yields an error; the caller must
// abort the transfer rather than truncate silently.
func ValidateBufferMetadata(md BatchMetadata, buf []float32, batchSize int) error {
	if buf == nil {
		return errors.New("batch buffer is nil")
	}
	if md.SampleCount < 0 {
		return fmt.Errorf("negative sample count: %d", md.SampleCount)
	}
	if batchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", batchSize)
	}
	if len(buf)*BytesPerSample < batchSize*BytesPerSample {
		return fmt.Errorf("buffer too small: %d samples, batch size %d", len(buf), batchSize)
	}
	if md.SampleCount > batchSize {
		return fmt.Errorf("sample count %d exceeds batch size %d", md.SampleCount, batchSize)
	}
	return nil
}

// Transferables extracts the raw buffer references whose ownership moves
// with the envelope. The transport must treat these as moved, not copied:
// after the send the originating side holds no usable view of them.
func Transferables(env Envelope) [][]float32 {
	switch p := env.Payload.(type) {
	case AudioDataBatch:
		return [][]float32{p.Buffer}
	case ReturnBuffer:
		return [][]float32{p.Buffer}
	default:
		return nil
	}
}
