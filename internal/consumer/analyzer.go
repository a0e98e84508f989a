// Package consumer implements the best-effort side of the boundary: it
// receives batch envelopes, feeds them to an analyzer and closes the round
// trip by returning each spent buffer to the pool.
package consumer

import (
	"math"

	"go.uber.org/zap"
)

// Analysis is the outcome of analyzing one batch.
type Analysis struct {
	// RMS is the root-mean-square amplitude of the batch, in linear
	// amplitude (not dB).
	RMS float64
	// Pitch is an estimated fundamental frequency in Hz, 0 when none was
	// detected.
	Pitch float64
	// Silent is true when the batch energy is below the silence threshold.
	Silent bool
}

// Analyzer consumes finished batches. The real pitch/volume detection
// stage is an external collaborator; this interface is its seam. The
// samples slice is only valid for the duration of the call — the buffer
// goes back to the pool immediately afterwards.
type Analyzer interface {
	Analyze(samples []float32, sampleRate int) Analysis
}

// silenceThreshold is the RMS level below which a batch counts as silent.
const silenceThreshold = 0.01

// levelAnalyzer is a minimal built-in Analyzer: RMS volume plus a naive
// zero-crossing pitch estimate. Good enough to exercise the pipeline; a
// production detector would replace it behind the same interface.
type levelAnalyzer struct {
	logger *zap.Logger
}

// NewLevelAnalyzer creates the built-in volume/pitch analyzer.
func NewLevelAnalyzer(logger *zap.Logger) Analyzer {
	return &levelAnalyzer{logger: logger}
}

func (a *levelAnalyzer) Analyze(samples []float32, sampleRate int) Analysis {
	if len(samples) == 0 {
		return Analysis{Silent: true}
	}

	var sum float64
	crossings := 0
	prevPositive := samples[0] >= 0
	for _, s := range samples {
		sum += float64(s) * float64(s)
		positive := s >= 0
		if positive != prevPositive {
			crossings++
			prevPositive = positive
		}
	}

	res := Analysis{RMS: math.Sqrt(sum / float64(len(samples)))}
	res.Silent = res.RMS < silenceThreshold

	// Two zero crossings per period; only meaningful on non-silent input.
	if !res.Silent && crossings > 1 {
		res.Pitch = float64(crossings) / 2.0 * float64(sampleRate) / float64(len(samples))
	}
	return res
}
