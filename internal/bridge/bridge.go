package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/config"
	"github.com/Raikerian/go-audio-bridge/internal/pool"
	"github.com/Raikerian/go-audio-bridge/internal/protocol"
	"github.com/Raikerian/go-audio-bridge/internal/telemetry"
)

// headroom beyond pool size on the outbound channel, reserved for
// non-batch messages (ready/status/errors/confirmations).
const outboundHeadroom = 16

// quantaBacklog bounds how many quanta may sit between the audio source
// and the loop. The source sends non-blocking; one quantum of slack is
// enough at real-time rates.
const quantaBacklog = 4

// Bridge is the producer-side loop. It owns the pool, the accumulator and
// the coordinator exclusively; control messages (including buffer returns)
// are applied here, between quanta, which is what keeps the pool free of
// mutual exclusion entirely.
type Bridge struct {
	logger    *zap.Logger
	cfg       *config.Config
	pool      *pool.Pool
	telemetry *telemetry.Telemetry

	acc   *Accumulator
	coord *Coordinator

	quanta  chan []float32
	control chan protocol.Envelope
	out     chan protocol.Envelope

	running bool

	invalidControl uint64
}

// New assembles the producer side. The outbound channel is sized to hold
// one batch per pool buffer plus headroom, so a batch send never blocks.
func New(logger *zap.Logger, cfg *config.Config, p *pool.Pool, tel *telemetry.Telemetry) *Bridge {
	out := make(chan protocol.Envelope, p.Size()+outboundHeadroom)
	acc := NewAccumulator(logger, p, tel, cfg.Audio.QuantumSize, cfg.Batch.Size)
	coord := NewCoordinator(logger, p, tel, acc, out,
		cfg.Audio.SampleRate, cfg.Audio.QuantumSize, cfg.Batch.Size, cfg.Batch.FlushTimeout())

	return &Bridge{
		logger:    logger,
		cfg:       cfg,
		pool:      p,
		telemetry: tel,
		acc:       acc,
		coord:     coord,
		quanta:    make(chan []float32, quantaBacklog),
		control:   make(chan protocol.Envelope, p.Size()+outboundHeadroom),
		out:       out,
	}
}

// Quanta is where the audio source delivers one quantum per tick. Senders
// must not block on it: a full channel means the loop is behind and the
// quantum should be counted as lost by the source.
func (b *Bridge) Quanta() chan<- []float32 { return b.quanta }

// Control is where the consumer side sends envelopes to the producer.
func (b *Bridge) Control() chan<- protocol.Envelope { return b.control }

// Out carries envelopes from the producer to the consumer side. It closes
// when the loop exits.
func (b *Bridge) Out() <-chan protocol.Envelope { return b.out }

// Run executes the producer loop until ctx is cancelled. On exit it
// flushes, releases any held buffer, emits ProcessorDestroyed and closes
// the outbound channel.
func (b *Bridge) Run(ctx context.Context) {
	b.logger.Info("Audio bridge running",
		zap.Int("quantum_size", b.cfg.Audio.QuantumSize),
		zap.Int("batch_size", b.coord.BatchSize()),
		zap.Int("pool_size", b.pool.Size()),
		zap.Int("sample_rate", b.cfg.Audio.SampleRate))

	b.send(protocol.NewEnvelope(protocol.ProcessorReady{
		QuantumSize: b.cfg.Audio.QuantumSize,
		BatchSize:   b.coord.BatchSize(),
		PoolSize:    b.pool.Size(),
		SampleRate:  b.cfg.Audio.SampleRate,
	}))

	for {
		select {
		case <-ctx.Done():
			b.coord.Stop(time.Now())
			b.running = false
			b.send(protocol.NewEnvelope(protocol.ProcessorDestroyed{}))
			close(b.out)
			b.logger.Info("Audio bridge stopped")
			return

		case env := <-b.control:
			b.handleControl(env)

		case q := <-b.quanta:
			if !b.running {
				continue
			}
			b.coord.ProcessQuantum(q, time.Now())
		}
	}
}

// handleControl applies one control envelope. Malformed messages are
// rejected with a structured error and no state mutation.
func (b *Bridge) handleControl(env protocol.Envelope) {
	if err := protocol.ValidateMessage(env); err != nil {
		b.invalidControl++
		b.logger.Warn("Rejected malformed control message", zap.Error(err))
		b.sendError(protocol.CodeInvalidConfiguration, err.Error())
		return
	}

	now := time.Now()
	switch m := env.Payload.(type) {
	case protocol.StartProcessing:
		if !b.running {
			b.running = true
			b.logger.Info("Processing started")
		}
		b.send(protocol.NewEnvelope(protocol.ProcessingStarted{}))

	case protocol.StopProcessing:
		if b.running {
			b.coord.Stop(now)
			b.running = false
			b.logger.Info("Processing stopped")
		}
		b.send(protocol.NewEnvelope(protocol.ProcessingStopped{}))

	case protocol.UpdateBatchConfig:
		applied, err := b.coord.Reconfigure(m.BatchSize, m.BufferTimeout, now)
		if err != nil {
			b.logger.Warn("Rejected batch configuration", zap.Error(err))
			b.sendError(protocol.CodeInvalidConfiguration, err.Error())
			return
		}
		b.send(protocol.NewEnvelope(applied))

	case protocol.ReturnBuffer:
		// Ownership of m.Buffer arrived with the message; the pool
		// re-adopts it or, on a rejected return, drops it on the floor.
		// Rejections are counted and logged inside the pool.
		_ = b.pool.ReturnBuffer(m.BufferID, m.Buffer, now)

	case protocol.RequestStatus:
		stats := b.pool.Snapshot()
		b.send(protocol.NewEnvelope(protocol.StatusUpdate{
			Running:   b.running,
			Pool:      stats,
			Telemetry: b.telemetry.Report(stats),
		}))

	default:
		// A producer-direction payload has no business on this channel.
		b.invalidControl++
		b.logger.Warn("Ignored non-control message on control channel",
			zap.String("envelope_id", env.ID))
	}
}

// send delivers a best-effort producer message; if the outbound channel is
// momentarily full the message is dropped rather than blocking. Batch
// envelopes never go through here — the coordinator sends those itself
// under the capacity guarantee.
func (b *Bridge) send(env protocol.Envelope) {
	select {
	case b.out <- env:
	default:
		b.logger.Debug("Dropped outbound message, channel full",
			zap.String("envelope_id", env.ID))
	}
}

func (b *Bridge) sendError(code protocol.ErrorCode, msg string) {
	b.send(protocol.NewEnvelope(protocol.ProcessingError{Message: msg, Code: code}))
}
