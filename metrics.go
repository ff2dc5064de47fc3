package goSession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	MetricLoginAttempt MetricID = iota
	MetricLoginSuccess
	MetricLoginFailure
	MetricRoleMismatch
	MetricOtpIssued
	MetricOtpResent
	MetricOtpVerified
	MetricOtpFailure
	MetricOtpCancelled
	MetricLogout
	MetricSessionExpired
	MetricSessionRestored
	MetricSessionAdopted
	MetricPushApplied
	MetricPushDropped
	// MetricStaleCompletionDropped counts provider completions discarded
	// because a newer operation superseded them.
	MetricStaleCompletionDropped
	MetricWatchdogTick
	// MetricWatchdogVerdictDropped counts watchdog reports overtaken by a
	// state change between the store read and delivery.
	MetricWatchdogVerdictDropped
	MetricProfileFetchFailure
	MetricProviderError
	// MetricLoginLatency is a histogram of time from login request to a
	// settled outcome.
	MetricLoginLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginAttempt:           "login_attempt",
	MetricLoginSuccess:           "login_success",
	MetricLoginFailure:           "login_failure",
	MetricRoleMismatch:           "role_mismatch",
	MetricOtpIssued:              "otp_issued",
	MetricOtpResent:              "otp_resent",
	MetricOtpVerified:            "otp_verified",
	MetricOtpFailure:             "otp_failure",
	MetricOtpCancelled:           "otp_cancelled",
	MetricLogout:                 "logout",
	MetricSessionExpired:         "session_expired",
	MetricSessionRestored:        "session_restored",
	MetricSessionAdopted:         "session_adopted",
	MetricPushApplied:            "push_applied",
	MetricPushDropped:            "push_dropped",
	MetricStaleCompletionDropped: "stale_completion_dropped",
	MetricWatchdogTick:           "watchdog_tick",
	MetricWatchdogVerdictDropped: "watchdog_verdict_dropped",
	MetricProfileFetchFailure:    "profile_fetch_failure",
	MetricProviderError:          "provider_error",
	MetricLoginLatency:           "login_latency",
}

// String returns the snake_case metric name used by exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

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

// Metrics is a fixed set of lock-free counters. A nil or disabled *Metrics
// ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics allocates counters according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only MetricLoginLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricLoginLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Disabled metrics yield empty maps.
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
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricLoginLatency].buckets[i])
		}
		s.Histograms[MetricLoginLatency] = buckets
	}

	return s
}

// Login round trips include network calls, so buckets are wider than a
// purely local operation would need.
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
