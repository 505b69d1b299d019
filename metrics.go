package farmauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a counter or histogram in [Metrics].
type MetricID uint16

const (
	// MetricSessionEstablished counts sessions written by Establish.
	MetricSessionEstablished MetricID = iota
	// MetricSessionTerminated counts explicit and implicit terminations.
	MetricSessionTerminated
	// MetricSessionUnauthorized counts terminations caused by a backend 401.
	MetricSessionUnauthorized
	// MetricStorageUnavailable counts token store failures (fail closed).
	MetricStorageUnavailable
	// MetricLoginSuccess counts login flows that reached Success.
	MetricLoginSuccess
	// MetricLoginFailure counts login attempts that returned to their step with an error.
	MetricLoginFailure
	// MetricFederatedCancelled counts provider popups closed by the user.
	MetricFederatedCancelled
	// MetricVerificationRequested counts verification codes requested from the backend.
	MetricVerificationRequested
	// MetricVerificationFailure counts rejected verification codes.
	MetricVerificationFailure
	// MetricValidationRejected counts submits stopped by local validation.
	MetricValidationRejected
	// MetricDuplicateSubmit counts submits ignored because a step was already pending.
	MetricDuplicateSubmit
	// MetricStaleResultDropped counts network completions ignored after the flow moved on.
	MetricStaleResultDropped
	// MetricGuardAllowed counts protected navigations admitted by the route guard.
	MetricGuardAllowed
	// MetricGuardDenied counts protected navigations redirected by the route guard.
	MetricGuardDenied
	// MetricRequestAuthenticated counts backend requests sent with a bearer token.
	MetricRequestAuthenticated
	// MetricRequestUnauthenticated counts backend requests sent without a token.
	MetricRequestUnauthenticated
	// MetricBackendLatency is the latency histogram of auth backend calls.
	MetricBackendLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and the backend latency histogram.
// A nil or disabled Metrics ignores every write.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram id. Only [MetricBackendLatency] is a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricBackendLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, plus the latency buckets when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricBackendLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricBackendLatency].buckets[i])
		}
		s.Histograms[MetricBackendLatency] = buckets
	}

	return s
}

// bucket upper bounds are 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, +Inf
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 50:
		return 0
	case ms <= 100:
		return 1
	case ms <= 250:
		return 2
	case ms <= 500:
		return 3
	case ms <= 1000:
		return 4
	case ms <= 2500:
		return 5
	case ms <= 5000:
		return 6
	default:
		return 7
	}
}
