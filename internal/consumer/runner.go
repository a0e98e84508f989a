package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/config"
	"github.com/Raikerian/go-audio-bridge/internal/protocol"
	"github.com/Raikerian/go-audio-bridge/pkg/util"
)

// Runner drains producer envelopes, analyzes batches and returns every
// spent buffer. It has no deadline of its own: batches may arrive at
// uneven intervals (timeout flushes are partial by design) and the runner
// must not assume otherwise.
type Runner struct {
	logger   *zap.Logger
	analyzer Analyzer

	in      <-chan protocol.Envelope
	control chan<- protocol.Envelope

	idleTimeout time.Duration

	batches uint64
	samples uint64
}

// NewRunner creates a consumer over the bridge's channel pair.
func NewRunner(logger *zap.Logger, cfg *config.Config, analyzer Analyzer,
	in <-chan protocol.Envelope, control chan<- protocol.Envelope,
) *Runner {
	return &Runner{
		logger:      logger,
		analyzer:    analyzer,
		in:          in,
		control:     control,
		idleTimeout: cfg.Consumer.IdleTimeout(),
	}
}

// Run consumes envelopes until ctx is cancelled or the inbound channel
// closes. A debounced idle timer fires when no batch arrives within the
// configured window; the runner then logs once and asks the producer for a
// status update.
func (r *Runner) Run(ctx context.Context) {
	idle := util.NewDebouncer(r.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-idle.C():
			r.logger.Info("No batches received recently, requesting status",
				zap.Duration("idle_window", r.idleTimeout),
				zap.Uint64("batches_so_far", r.batches))
			r.sendControl(protocol.NewEnvelope(protocol.RequestStatus{}))
			idle.Reset()

		case env, ok := <-r.in:
			if !ok {
				r.logger.Info("Producer channel closed, consumer exiting",
					zap.Uint64("batches", r.batches),
					zap.Uint64("samples", r.samples))
				return
			}
			r.handle(env)
			if _, isBatch := env.Payload.(protocol.AudioDataBatch); isBatch {
				idle.Reset()
			}
		}
	}
}

func (r *Runner) handle(env protocol.Envelope) {
	switch m := env.Payload.(type) {
	case protocol.AudioDataBatch:
		r.consumeBatch(m)

	case protocol.ProcessorReady:
		r.logger.Info("Producer ready",
			zap.Int("quantum_size", m.QuantumSize),
			zap.Int("batch_size", m.BatchSize),
			zap.Int("pool_size", m.PoolSize),
			zap.Int("sample_rate", m.SampleRate))

	case protocol.ProcessingError:
		r.logger.Warn("Producer reported an error",
			zap.String("code", string(m.Code)),
			zap.String("message", m.Message))

	case protocol.StatusUpdate:
		r.logger.Info("Producer status",
			zap.Bool("running", m.Running),
			zap.Int("available", m.Pool.Available),
			zap.Int("processing", m.Pool.Processing),
			zap.Float64("hit_rate", m.Pool.HitRate),
			zap.Float64("reuse_rate", m.Pool.ReuseRate),
			zap.Float64("mean_utilization", m.Telemetry.MeanUtilization),
			zap.Uint64("dropped_samples", m.Telemetry.DroppedSamples))

	case protocol.ProcessingStarted, protocol.ProcessingStopped,
		protocol.BatchConfigUpdated, protocol.ProcessorDestroyed:
		r.logger.Debug("Producer lifecycle message", zap.String("envelope_id", env.ID))

	default:
		r.logger.Warn("Ignored unexpected message from producer",
			zap.String("envelope_id", env.ID))
	}
}

// consumeBatch analyzes the batch and then walks the return path: the
// now-free buffer travels back with its original BufferID, and this side
// keeps no view over it past the send. If the return never arrives the
// pool's timeout sweep will reclaim the slot.
func (r *Runner) consumeBatch(batch protocol.AudioDataBatch) {
	md := batch.Metadata
	result := r.analyzer.Analyze(batch.Buffer[:md.SampleCount], md.SampleRate)

	r.batches++
	r.samples += uint64(md.SampleCount)

	r.logger.Debug("Batch analyzed",
		zap.Uint64("sequence", md.SequenceNumber),
		zap.Int("sample_count", md.SampleCount),
		zap.Float64("rms", result.RMS),
		zap.Float64("pitch_hz", result.Pitch),
		zap.Bool("silent", result.Silent))

	buf := batch.Buffer
	batch.Buffer = nil // ownership moves with the return message
	r.sendControl(protocol.NewEnvelope(protocol.ReturnBuffer{
		BufferID: md.BufferID,
		Buffer:   buf,
	}))
}

// sendControl delivers a control envelope without ever blocking the
// consumer loop; drops are logged. A dropped return is eventually healed
// by the producer's timeout reclaim.
func (r *Runner) sendControl(env protocol.Envelope) {
	select {
	case r.control <- env:
	default:
		r.logger.Warn("Control channel full, message dropped",
			zap.String("envelope_id", env.ID))
	}
}
