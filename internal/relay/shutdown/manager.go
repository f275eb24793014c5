// Package shutdown orchestrates the ordered drain of the relay:
// notify, wait with timeout, force-close.
package shutdown

import (
	"sync/atomic"
	"time"

	"conduit/internal/relay/conn"
	"conduit/internal/relay/pending"
	"conduit/internal/shared/logging"
	"conduit/internal/shared/protocol"
)

// Phase is the shutdown state machine position
type Phase int32

const (
	PhaseRunning Phase = iota
	PhaseDraining
	PhaseForced
	PhaseStopped
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseForced:
		return "forced"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// drainPollInterval is how often the in-flight total is observed while draining
const drainPollInterval = 100 * time.Millisecond

// Report records shutdown progress for observability
type Report struct {
	Duration          time.Duration `json:"duration"`
	ConnectionsClosed int           `json:"connections_closed"`
	RequestsDrained   int64         `json:"requests_drained"`
	RequestsForced    int64         `json:"requests_forced"`
	DrainTimedOut     bool          `json:"drain_timed_out"`
}

// Manager coordinates the relay's ordered shutdown phases. Once draining
// begins, the gateway and tunnel handler stop admitting new work.
type Manager struct {
	registry     *conn.Registry
	pendings     *pending.Registry
	drainTimeout time.Duration
	phase        atomic.Int32
	logger       *logging.Logger
}

// NewManager creates a shutdown manager in the Running phase
func NewManager(registry *conn.Registry, pendings *pending.Registry, drainTimeout time.Duration) *Manager {
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	return &Manager{
		registry:     registry,
		pendings:     pendings,
		drainTimeout: drainTimeout,
		logger:       logging.NewLogger("shutdown"),
	}
}

// Accepting reports whether new connections and proxy requests may be admitted
func (m *Manager) Accepting() bool {
	return Phase(m.phase.Load()) == PhaseRunning
}

// Phase returns the current shutdown phase
func (m *Manager) Phase() Phase {
	return Phase(m.phase.Load())
}

func (m *Manager) transition(from, to Phase) bool {
	return m.phase.CompareAndSwap(int32(from), int32(to))
}

// Shutdown runs the full drain sequence and blocks until Stopped.
// Calling it more than once is a no-op returning an empty report.
func (m *Manager) Shutdown() Report {
	start := time.Now()

	if !m.transition(PhaseRunning, PhaseDraining) {
		return Report{}
	}

	inflightAtStart := m.pendings.Total()
	m.logger.Info("Entering draining phase", "in_flight", inflightAtStart)

	// Best-effort notification so clients can stop sending new work
	m.registry.Broadcast(&protocol.ErrorMessage{
		ID:      protocol.NewID(),
		Message: "relay shutting down",
		Code:    protocol.CodeShuttingDown,
	})

	timedOut := m.waitForDrain()

	// Forced is entered only when the drain timeout fired; a clean
	// drain goes straight to Stopped
	forced := m.pendings.Total()
	if timedOut {
		m.transition(PhaseDraining, PhaseForced)
		m.logger.Warn("Drain timeout reached, forcing closure", "remaining", forced)
	}

	closed := m.registry.CloseAll("relay shutting down")

	if timedOut {
		m.transition(PhaseForced, PhaseStopped)
	} else {
		m.transition(PhaseDraining, PhaseStopped)
	}

	report := Report{
		Duration:          time.Since(start),
		ConnectionsClosed: closed,
		RequestsDrained:   inflightAtStart - forced,
		RequestsForced:    forced,
		DrainTimedOut:     timedOut,
	}

	m.logger.Info("Shutdown complete",
		"duration", report.Duration.String(),
		"connections_closed", report.ConnectionsClosed,
		"requests_drained", report.RequestsDrained,
		"requests_forced", report.RequestsForced,
		"drain_timed_out", report.DrainTimedOut)

	return report
}

// waitForDrain observes the in-flight total until it reaches zero or the
// drain timeout elapses. Returns true if the timeout fired first.
func (m *Manager) waitForDrain() bool {
	deadline := time.NewTimer(m.drainTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			return true
		case <-ticker.C:
			if m.pendings.Total() == 0 {
				return false
			}
		}
	}
}
