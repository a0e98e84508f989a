// Package source provides a synthetic fixed-quantum audio source used to
// drive the bridge when no real capture device is wired in. It stands in
// for the platform audio callback: one quantum per tick at the native rate.
package source

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/config"
)

// defaultFrequency is the tone the synthetic source produces.
const defaultFrequency = 440.0

// Sine emits 128-sample quanta of a sine wave at the configured sample
// rate. The ticker lives here, outside the producer loop: the producer
// context itself has no timer facility.
type Sine struct {
	logger *zap.Logger

	quanta chan<- []float32

	sampleRate  int
	quantumSize int
	frequency   float64
	phase       float64

	sent    uint64
	dropped uint64
}

// NewSine creates a synthetic source feeding quanta into the bridge.
func NewSine(logger *zap.Logger, cfg *config.Config, quanta chan<- []float32) *Sine {
	return &Sine{
		logger:      logger,
		quanta:      quanta,
		sampleRate:  cfg.Audio.SampleRate,
		quantumSize: cfg.Audio.QuantumSize,
		frequency:   defaultFrequency,
	}
}

// Run ticks once per quantum interval until ctx is cancelled. Sends are
// non-blocking: if the bridge is behind, the quantum is this side's loss
// and is counted, mirroring a real capture callback that cannot wait.
func (s *Sine) Run(ctx context.Context) {
	interval := time.Duration(float64(s.quantumSize) / float64(s.sampleRate) * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Synthetic source running",
		zap.Duration("quantum_interval", interval),
		zap.Float64("frequency_hz", s.frequency))

	step := 2 * math.Pi * s.frequency / float64(s.sampleRate)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Synthetic source stopped",
				zap.Uint64("quanta_sent", s.sent),
				zap.Uint64("quanta_dropped", s.dropped))
			return
		case <-ticker.C:
			q := make([]float32, s.quantumSize)
			for i := range q {
				q[i] = float32(math.Sin(s.phase))
				s.phase += step
			}
			if s.phase > 2*math.Pi {
				s.phase -= 2 * math.Pi
			}

			select {
			case s.quanta <- q:
				s.sent++
			default:
				s.dropped++
			}
		}
	}
}
