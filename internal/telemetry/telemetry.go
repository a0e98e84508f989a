// Package telemetry passively aggregates pool, acquisition and utilization
// statistics. It observes; it never alerts and never influences the
// producer path beyond the cost of a counter increment.
package telemetry

import (
	"sync"
	"time"

	"github.com/Raikerian/go-audio-bridge/internal/protocol"
)

// Telemetry accumulates producer-side performance observations. Recording
// happens on the producer goroutine; Report may be called from elsewhere
// (tests, metrics exposition), so the aggregate state is mutex-guarded.
// Buffer memory is never touched here.
type Telemetry struct {
	mu sync.Mutex

	acquireCount    uint64
	acquireFailures uint64
	acquireTotal    time.Duration
	acquireMin      time.Duration
	acquireMax      time.Duration

	flushes uint64
	utilSum float64

	droppedQuanta  uint64
	droppedSamples uint64

	metrics *Metrics // nil when exposition is disabled
}

// New creates a telemetry aggregator. metrics may be nil.
func New(metrics *Metrics) *Telemetry {
	return &Telemetry{metrics: metrics}
}

// RecordAcquire records one pool acquisition attempt. The latency
// aggregates cover successful acquisitions only; a failed attempt returns
// immediately and is counted on its own.
func (t *Telemetry) RecordAcquire(latency time.Duration, ok bool) {
	t.mu.Lock()
	if !ok {
		t.acquireFailures++
		t.mu.Unlock()
		return
	}
	t.acquireCount++
	t.acquireTotal += latency
	if t.acquireCount == 1 || latency < t.acquireMin {
		t.acquireMin = latency
	}
	if latency > t.acquireMax {
		t.acquireMax = latency
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.acquireLatency.Observe(latency.Seconds())
	}
}

// RecordFlush records a completed batch transfer and its fill level. The
// prometheus mirror is refreshed from the supplied pool snapshot here, on
// the traffic path, so the exposition tracks steady-state flow rather than
// only the occasional status request.
func (t *Telemetry) RecordFlush(sampleCount, capacity int, poolStats protocol.PoolStats) {
	var util float64
	if capacity > 0 {
		util = float64(sampleCount) / float64(capacity)
	}

	t.mu.Lock()
	t.flushes++
	t.utilSum += util
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.batchUtilization.Observe(util)
		t.metrics.mirrorPool(poolStats)
	}
}

// RecordDrop records quanta lost to pool exhaustion.
func (t *Telemetry) RecordDrop(quanta, samples int) {
	t.mu.Lock()
	t.droppedQuanta += uint64(quanta)
	t.droppedSamples += uint64(samples)
	dropped := t.droppedSamples
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.droppedSamples.Set(float64(dropped))
	}
}

// Report builds a snapshot combining the aggregates with the supplied pool
// stats. Rates derive from the pool counters: hit rate is
// (acquires-exhausted)/acquires, reuse rate is returned/transferred. The
// prometheus mirror, if any, is refreshed as a side effect.
func (t *Telemetry) Report(poolStats protocol.PoolStats) protocol.TelemetryReport {
	t.mu.Lock()
	r := protocol.TelemetryReport{
		AcquireLatencyMin: t.acquireMin,
		AcquireLatencyMax: t.acquireMax,
		AcquireFailures:   t.acquireFailures,
		PoolHitRate:       poolStats.HitRate,
		BufferReuseRate:   poolStats.ReuseRate,
		Flushes:           t.flushes,
		DroppedQuanta:     t.droppedQuanta,
		DroppedSamples:    t.droppedSamples,
	}
	if t.acquireCount > 0 {
		r.AcquireLatencyAvg = t.acquireTotal / time.Duration(t.acquireCount)
	}
	if t.flushes > 0 {
		r.MeanUtilization = t.utilSum / float64(t.flushes)
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.mirrorPool(poolStats)
		t.metrics.droppedSamples.Set(float64(r.DroppedSamples))
	}
	return r
}
