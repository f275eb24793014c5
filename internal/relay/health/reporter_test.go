package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"conduit/internal/relay/conn"
	"conduit/internal/relay/pending"
)

func newTestReporter(thresholds Thresholds) *Reporter {
	pendings := pending.NewRegistry()
	registry := conn.NewRegistry(pendings)
	return NewReporter(registry, pendings, thresholds, nil)
}

func TestSummarizeNoTraffic(t *testing.T) {
	r := newTestReporter(DefaultThresholds())

	s := r.Summarize()

	// No traffic is not a failure of the rate checks
	assert.True(t, s.SuccessRateOK)
	assert.True(t, s.TimeoutRateOK)
	assert.True(t, s.LatencyOK)

	// But zero connections fails the connection check, and health is the
	// AND of all checks
	assert.False(t, s.HasConnections)
	assert.False(t, s.Healthy)
}

func TestSummarizeSuccessRate(t *testing.T) {
	r := newTestReporter(DefaultThresholds())

	for i := 0; i < 9; i++ {
		r.RecordSuccess(10 * time.Millisecond)
	}
	r.RecordError()

	s := r.Summarize()
	assert.Equal(t, uint64(9), s.Successes)
	assert.Equal(t, uint64(1), s.Errors)
	assert.InDelta(t, 0.9, s.SuccessRate, 0.001)
	assert.True(t, s.SuccessRateOK, "0.90 meets the 0.90 floor")

	// One more error pushes the rate below the floor
	r.RecordError()
	s = r.Summarize()
	assert.False(t, s.SuccessRateOK)
}

func TestSummarizeTimeoutRate(t *testing.T) {
	r := newTestReporter(DefaultThresholds())

	for i := 0; i < 8; i++ {
		r.RecordSuccess(10 * time.Millisecond)
	}
	r.RecordTimeout()
	r.RecordTimeout()

	s := r.Summarize()
	assert.InDelta(t, 0.2, s.TimeoutRate, 0.001)
	assert.False(t, s.TimeoutRateOK, "0.20 exceeds the 0.10 ceiling")
}

func TestSummarizeLatencyCeiling(t *testing.T) {
	thresholds := DefaultThresholds()
	thresholds.LatencyCeiling = 100 * time.Millisecond
	r := newTestReporter(thresholds)

	r.RecordSuccess(50 * time.Millisecond)
	assert.True(t, r.Summarize().LatencyOK)

	for i := 0; i < 10; i++ {
		r.RecordSuccess(time.Second)
	}
	assert.False(t, r.Summarize().LatencyOK)
}

func TestCounters(t *testing.T) {
	r := newTestReporter(DefaultThresholds())

	r.RecordSuccess(time.Millisecond)
	r.RecordSuccess(time.Millisecond)
	r.RecordTimeout()
	r.RecordError()

	successes, timeouts, errs := r.Counters()
	assert.Equal(t, uint64(2), successes)
	assert.Equal(t, uint64(1), timeouts)
	assert.Equal(t, uint64(1), errs)
}

func TestDetailPercentiles(t *testing.T) {
	r := newTestReporter(DefaultThresholds())

	for i := 1; i <= 100; i++ {
		r.RecordSuccess(time.Duration(i) * time.Millisecond)
	}

	d := r.Detail()
	assert.InDelta(t, 50, d.P50Ms, 2)
	assert.InDelta(t, 95, d.P95Ms, 2)
	assert.Greater(t, d.UptimeSecs, 0.0)
	assert.Empty(t, d.Connections)
}

func TestUserStatusUnknownUser(t *testing.T) {
	r := newTestReporter(DefaultThresholds())

	_, connected := r.UserStatus("nobody")
	assert.False(t, connected)
}

func TestLatencyRingWraps(t *testing.T) {
	r := newTestReporter(DefaultThresholds())

	// Overfill the ring; old samples roll off instead of growing memory
	for i := 0; i < latencyRingSize+100; i++ {
		r.RecordSuccess(time.Millisecond)
	}

	s := r.Summarize()
	assert.Equal(t, uint64(latencyRingSize+100), s.Successes)
	assert.InDelta(t, 1.0, s.AvgLatencyMs, 0.5)
}
