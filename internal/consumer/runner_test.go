package consumer_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/Raikerian/go-audio-bridge/internal/config"
	"github.com/Raikerian/go-audio-bridge/internal/consumer"
	"github.com/Raikerian/go-audio-bridge/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sineSamples(frequency float64, amplitude float64, sampleRate, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestAnalyzerMeasuresSineWave(t *testing.T) {
	a := consumer.NewLevelAnalyzer(zap.NewNop())

	res := a.Analyze(sineSamples(440, 0.5, 44100, 4096), 44100)

	// RMS of a 0.5-amplitude sine is 0.5/sqrt(2).
	assert.InDelta(t, 0.3536, res.RMS, 0.01)
	assert.False(t, res.Silent)
	assert.InDelta(t, 440, res.Pitch, 15, "zero-crossing estimate should land near the fundamental")
}

func TestAnalyzerFlagsSilence(t *testing.T) {
	a := consumer.NewLevelAnalyzer(zap.NewNop())

	res := a.Analyze(make([]float32, 1024), 44100)
	assert.True(t, res.Silent)
	assert.Zero(t, res.Pitch)

	res = a.Analyze(nil, 44100)
	assert.True(t, res.Silent)
}

func startRunner(t *testing.T, idleMs int) (chan protocol.Envelope, chan protocol.Envelope) {
	t.Helper()
	in := make(chan protocol.Envelope, 8)
	control := make(chan protocol.Envelope, 8)
	cfg := &config.Config{Consumer: config.ConsumerConfig{IdleTimeoutMs: idleMs}}

	r := consumer.NewRunner(zap.NewNop(), cfg, consumer.NewLevelAnalyzer(zap.NewNop()), in, control)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("runner did not stop")
		}
	})
	return in, control
}

func TestRunnerReturnsBufferWithOriginalID(t *testing.T) {
	in, control := startRunner(t, 60000)

	buf := sineSamples(440, 0.5, 44100, 512)
	in <- protocol.NewEnvelope(protocol.AudioDataBatch{
		Metadata: protocol.BatchMetadata{
			SampleRate:  44100,
			SampleCount: 512,
			BufferID:    7,
		},
		Buffer: buf,
	})

	select {
	case env := <-control:
		ret, ok := env.Payload.(protocol.ReturnBuffer)
		require.True(t, ok, "expected a ReturnBuffer, got %T", env.Payload)
		assert.Equal(t, protocol.BufferID(7), ret.BufferID)
		require.Len(t, ret.Buffer, 512)
		assert.Equal(t, &buf[0], &ret.Buffer[0], "the same memory must travel back")
	case <-time.After(5 * time.Second):
		t.Fatal("no buffer return observed")
	}
}

func TestRunnerToleratesPartialBatches(t *testing.T) {
	in, control := startRunner(t, 60000)

	// Timeout-triggered partial batch: sampleCount below buffer length.
	buf := make([]float32, 512)
	in <- protocol.NewEnvelope(protocol.AudioDataBatch{
		Metadata: protocol.BatchMetadata{
			SampleRate:  44100,
			SampleCount: 384,
			BufferID:    3,
		},
		Buffer: buf,
	})

	select {
	case env := <-control:
		ret, ok := env.Payload.(protocol.ReturnBuffer)
		require.True(t, ok)
		assert.Equal(t, protocol.BufferID(3), ret.BufferID)
	case <-time.After(5 * time.Second):
		t.Fatal("no buffer return observed")
	}
}

func TestRunnerRequestsStatusWhenIdle(t *testing.T) {
	_, control := startRunner(t, 20)

	select {
	case env := <-control:
		_, ok := env.Payload.(protocol.RequestStatus)
		assert.True(t, ok, "expected a RequestStatus, got %T", env.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("idle runner never requested status")
	}
}

func TestRunnerExitsWhenProducerCloses(t *testing.T) {
	in := make(chan protocol.Envelope)
	control := make(chan protocol.Envelope, 1)
	cfg := &config.Config{Consumer: config.ConsumerConfig{IdleTimeoutMs: 60000}}
	r := consumer.NewRunner(zap.NewNop(), cfg, consumer.NewLevelAnalyzer(zap.NewNop()), in, control)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background())
	}()

	close(in)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not exit on closed channel")
	}
}
