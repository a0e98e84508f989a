package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Raikerian/go-audio-bridge/internal/protocol"
)

// Metrics mirrors pool and batching statistics onto a Prometheus registry.
// Cumulative pool counters are owned by the pool itself (single-goroutine
// accounting), so they surface here as gauges refreshed from snapshots
// rather than as independently incremented counters.
type Metrics struct {
	registry *prometheus.Registry

	slotsGauge *prometheus.GaugeVec

	acquiresGauge           prometheus.Gauge
	transfersGauge          prometheus.Gauge
	exhaustedGauge          prometheus.Gauge
	timeoutsGauge           prometheus.Gauge
	validationFailuresGauge prometheus.Gauge
	returnedGauge           prometheus.Gauge
	droppedSamples          prometheus.Gauge

	acquireLatency   prometheus.Histogram
	batchUtilization prometheus.Histogram
}

// NewMetrics creates and registers the bridge metrics on the registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: registry,
		slotsGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audiobridge_pool_slots",
			Help: "Current number of pool slots per state",
		}, []string{"state"}),
		acquiresGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiobridge_pool_acquires",
			Help: "Cumulative buffer acquisition attempts",
		}),
		transfersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiobridge_pool_transfers",
			Help: "Cumulative buffers handed to the consumer side",
		}),
		exhaustedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiobridge_pool_exhausted",
			Help: "Cumulative acquisition attempts that found no free buffer",
		}),
		timeoutsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiobridge_pool_timeouts",
			Help: "Cumulative slots reclaimed after the return timeout",
		}),
		validationFailuresGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiobridge_pool_validation_failures",
			Help: "Cumulative rejected buffer returns",
		}),
		returnedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiobridge_pool_returned_buffers",
			Help: "Cumulative buffers returned by the consumer",
		}),
		droppedSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiobridge_dropped_samples",
			Help: "Cumulative samples dropped due to pool exhaustion",
		}),
		acquireLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiobridge_acquire_latency_seconds",
			Help:    "Latency of buffer pool acquisitions",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
		batchUtilization: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiobridge_batch_utilization_ratio",
			Help:    "Fill level of flushed batches (sampleCount/capacity)",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}

	collectors := []prometheus.Collector{
		m.slotsGauge,
		m.acquiresGauge,
		m.transfersGauge,
		m.exhaustedGauge,
		m.timeoutsGauge,
		m.validationFailuresGauge,
		m.returnedGauge,
		m.droppedSamples,
		m.acquireLatency,
		m.batchUtilization,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// mirrorPool refreshes the gauges from a pool snapshot.
func (m *Metrics) mirrorPool(st protocol.PoolStats) {
	m.slotsGauge.WithLabelValues("available").Set(float64(st.Available))
	m.slotsGauge.WithLabelValues("in_flight").Set(float64(st.InFlight))
	m.slotsGauge.WithLabelValues("processing").Set(float64(st.Processing))

	m.acquiresGauge.Set(float64(st.AcquireCount))
	m.transfersGauge.Set(float64(st.TransferCount))
	m.exhaustedGauge.Set(float64(st.PoolExhaustedCount))
	m.timeoutsGauge.Set(float64(st.TimeoutCount))
	m.validationFailuresGauge.Set(float64(st.ValidationFailures))
	m.returnedGauge.Set(float64(st.ReturnedBuffers))
}
