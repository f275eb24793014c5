// Package health aggregates gateway outcomes and connection state into
// the externally observed health contract.
package health

import (
	"sync"
	"sync/atomic"
	"time"

	"conduit/internal/relay/conn"
)

// latencyRingSize bounds the response-time sample buffer
const latencyRingSize = 512

// Thresholds are the operational tuning knobs for derived health.
// They are configuration, not structural constants.
type Thresholds struct {
	SuccessRateFloor   float64       // Minimum success/total ratio
	TimeoutRateCeiling float64       // Maximum timeout/total ratio
	LatencyCeiling     time.Duration // Maximum average response time
}

// DefaultThresholds returns the default health thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		SuccessRateFloor:   0.90,
		TimeoutRateCeiling: 0.10,
		LatencyCeiling:     5 * time.Second,
	}
}

// Summary is the aggregate health report served unauthenticated
type Summary struct {
	Healthy        bool    `json:"healthy"`
	HasConnections bool    `json:"has_connections"`
	SuccessRateOK  bool    `json:"success_rate_ok"`
	TimeoutRateOK  bool    `json:"timeout_rate_ok"`
	LatencyOK      bool    `json:"latency_ok"`
	Connections    int     `json:"connections"`
	Successes      uint64  `json:"successes"`
	Timeouts       uint64  `json:"timeouts"`
	Errors         uint64  `json:"errors"`
	SuccessRate    float64 `json:"success_rate"`
	TimeoutRate    float64 `json:"timeout_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	PendingTotal   int64   `json:"pending_total"`
}

// Details is the authenticated metrics report
type Details struct {
	Summary     Summary     `json:"summary"`
	Connections []conn.Info `json:"connections"`
	P50Ms       float64     `json:"latency_p50_ms"`
	P95Ms       float64     `json:"latency_p95_ms"`
	UptimeSecs  float64     `json:"uptime_seconds"`
}

// PendingCounter exposes in-flight totals without importing the registry
type PendingCounter interface {
	Total() int64
}

// Reporter tallies gateway outcomes and computes derived health as a
// boolean AND of threshold checks
type Reporter struct {
	registry   *conn.Registry
	pendings   PendingCounter
	thresholds Thresholds
	startedAt  time.Time
	metrics    *Metrics

	successes atomic.Uint64
	timeouts  atomic.Uint64
	errors    atomic.Uint64

	latencyMu  sync.Mutex
	latencies  [latencyRingSize]time.Duration
	latencyIdx int
	latencyLen int
}

// NewReporter creates a reporter over the given connection registry
func NewReporter(registry *conn.Registry, pendings PendingCounter, thresholds Thresholds, metrics *Metrics) *Reporter {
	return &Reporter{
		registry:   registry,
		pendings:   pendings,
		thresholds: thresholds,
		startedAt:  time.Now(),
		metrics:    metrics,
	}
}

// RecordSuccess tallies a proxied response and its round-trip time
func (r *Reporter) RecordSuccess(latency time.Duration) {
	r.successes.Add(1)
	r.recordLatency(latency)
	if r.metrics != nil {
		r.metrics.Outcomes.WithLabelValues("success").Inc()
		r.metrics.RequestLatency.Observe(latency.Seconds())
	}
}

// RecordTimeout tallies a request that hit the request timeout
func (r *Reporter) RecordTimeout() {
	r.timeouts.Add(1)
	if r.metrics != nil {
		r.metrics.Outcomes.WithLabelValues("timeout").Inc()
	}
}

// RecordError tallies a request that failed for any non-timeout reason
func (r *Reporter) RecordError() {
	r.errors.Add(1)
	if r.metrics != nil {
		r.metrics.Outcomes.WithLabelValues("error").Inc()
	}
}

func (r *Reporter) recordLatency(d time.Duration) {
	r.latencyMu.Lock()
	defer r.latencyMu.Unlock()
	r.latencies[r.latencyIdx] = d
	r.latencyIdx = (r.latencyIdx + 1) % latencyRingSize
	if r.latencyLen < latencyRingSize {
		r.latencyLen++
	}
}

// avgLatency returns the mean of the buffered samples
func (r *Reporter) avgLatency() time.Duration {
	r.latencyMu.Lock()
	defer r.latencyMu.Unlock()
	if r.latencyLen == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < r.latencyLen; i++ {
		sum += r.latencies[i]
	}
	return sum / time.Duration(r.latencyLen)
}

// Counters returns the raw outcome counters
func (r *Reporter) Counters() (successes, timeouts, errs uint64) {
	return r.successes.Load(), r.timeouts.Load(), r.errors.Load()
}

// ActiveConnections returns the current connection count
func (r *Reporter) ActiveConnections() int64 {
	return int64(r.registry.Count())
}

// Summarize computes the aggregate health report. With no traffic yet the
// rate checks pass: absence of requests is not unhealthy.
func (r *Reporter) Summarize() Summary {
	successes := r.successes.Load()
	timeouts := r.timeouts.Load()
	errs := r.errors.Load()
	total := successes + timeouts + errs

	successRate := 1.0
	timeoutRate := 0.0
	if total > 0 {
		successRate = float64(successes) / float64(total)
		timeoutRate = float64(timeouts) / float64(total)
	}

	avg := r.avgLatency()
	connections := r.registry.Count()

	if r.metrics != nil {
		r.metrics.ActiveConnections.Set(float64(connections))
	}

	s := Summary{
		HasConnections: connections > 0,
		SuccessRateOK:  successRate >= r.thresholds.SuccessRateFloor,
		TimeoutRateOK:  timeoutRate <= r.thresholds.TimeoutRateCeiling,
		LatencyOK:      avg <= r.thresholds.LatencyCeiling,
		Connections:    connections,
		Successes:      successes,
		Timeouts:       timeouts,
		Errors:         errs,
		SuccessRate:    successRate,
		TimeoutRate:    timeoutRate,
		AvgLatencyMs:   float64(avg.Milliseconds()),
		PendingTotal:   r.pendings.Total(),
	}
	s.Healthy = s.HasConnections && s.SuccessRateOK && s.TimeoutRateOK && s.LatencyOK
	return s
}

// Detail computes the authenticated metrics report
func (r *Reporter) Detail() Details {
	return Details{
		Summary:     r.Summarize(),
		Connections: r.registry.Snapshot(),
		P50Ms:       float64(r.percentile(0.50).Milliseconds()),
		P95Ms:       float64(r.percentile(0.95).Milliseconds()),
		UptimeSecs:  time.Since(r.startedAt).Seconds(),
	}
}

// UserStatus returns the per-user connection status
func (r *Reporter) UserStatus(userID string) (conn.Info, bool) {
	for _, info := range r.registry.Snapshot() {
		if info.UserID == userID {
			return info, true
		}
	}
	return conn.Info{}, false
}

// percentile computes an approximate latency percentile over the ring
func (r *Reporter) percentile(p float64) time.Duration {
	r.latencyMu.Lock()
	samples := make([]time.Duration, r.latencyLen)
	copy(samples, r.latencies[:r.latencyLen])
	r.latencyMu.Unlock()

	if len(samples) == 0 {
		return 0
	}

	// Insertion sort; the ring is small
	for i := 1; i < len(samples); i++ {
		for j := i; j > 0 && samples[j] < samples[j-1]; j-- {
			samples[j], samples[j-1] = samples[j-1], samples[j]
		}
	}

	idx := int(p * float64(len(samples)-1))
	return samples[idx]
}
