// Package pending correlates forwarded requests with their eventual
// responses, one registry partition per user identity.
package pending

import (
	"sync"
	"sync/atomic"
	"time"

	"conduit/internal/relay/relayerr"
	"conduit/internal/shared/logging"
	"conduit/internal/shared/protocol"
)

// Outcome is the terminal result of a pending request: either a response
// payload or a failure reason, never both
type Outcome struct {
	Response *protocol.HTTPResponse
	Err      error
}

// Handle yields the outcome of one pending request exactly once
type Handle struct {
	ID   string
	done chan Outcome
}

// Done returns the channel the outcome is delivered on
func (h *Handle) Done() <-chan Outcome {
	return h.done
}

// entry is one in-flight request owned by a user partition
type entry struct {
	handle    *Handle
	timer     *time.Timer
	createdAt time.Time
}

// userPending holds the in-flight requests for a single user identity
type userPending struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Registry is the per-user pending request map. All mutation paths are
// atomic with respect to concurrent callers; partitions are independent
// so there is no cross-user contention on the hot path.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*userPending
	total  atomic.Int64
	logger *logging.Logger
}

// NewRegistry creates an empty pending request registry
func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string]*userPending),
		logger: logging.NewLogger("pending-registry"),
	}
}

// user returns the partition for userID, creating it if needed
func (r *Registry) user(userID string) *userPending {
	r.mu.RLock()
	up, ok := r.users[userID]
	r.mu.RUnlock()
	if ok {
		return up
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if up, ok = r.users[userID]; ok {
		return up
	}
	up = &userPending{entries: make(map[string]*entry)}
	r.users[userID] = up
	return up
}

// Register creates a pending entry and arms its timeout timer. The timer
// resolves the entry with ErrRequestTimeout when it fires. A duplicate id
// fails only that request.
func (r *Registry) Register(userID, id string, timeout time.Duration) (*Handle, error) {
	up := r.user(userID)

	up.mu.Lock()
	defer up.mu.Unlock()

	if _, exists := up.entries[id]; exists {
		return nil, relayerr.ErrDuplicateID
	}

	h := &Handle{
		ID:   id,
		done: make(chan Outcome, 1),
	}
	e := &entry{
		handle:    h,
		createdAt: time.Now(),
	}
	e.timer = time.AfterFunc(timeout, func() {
		r.Resolve(userID, id, Outcome{Err: relayerr.ErrRequestTimeout})
	})
	up.entries[id] = e
	r.total.Add(1)

	return h, nil
}

// Resolve fulfills and removes a pending entry. Late or duplicate
// resolutions are silent no-ops.
func (r *Registry) Resolve(userID, id string, outcome Outcome) {
	r.mu.RLock()
	up, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	up.mu.Lock()
	e, ok := up.entries[id]
	if ok {
		delete(up.entries, id)
	}
	up.mu.Unlock()

	if !ok {
		// Already resolved by response, timeout, or connection loss
		r.logger.Debug("Dropping late or duplicate resolution", "user", userID, "id", id)
		return
	}

	e.timer.Stop()
	r.total.Add(-1)
	e.handle.done <- outcome
}

// DrainUser resolves every outstanding entry for a user with the supplied
// failure reason and clears the partition
func (r *Registry) DrainUser(userID string, reason error) {
	r.mu.RLock()
	up, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	up.mu.Lock()
	drained := up.entries
	up.entries = make(map[string]*entry)
	up.mu.Unlock()

	for id, e := range drained {
		e.timer.Stop()
		r.total.Add(-1)
		e.handle.done <- Outcome{Err: reason}
		r.logger.Debug("Drained pending request", "user", userID, "id", id)
	}

	if len(drained) > 0 {
		r.logger.Info("Drained pending requests", "user", userID, "count", len(drained))
	}
}

// DrainAll resolves every outstanding entry across all users
func (r *Registry) DrainAll(reason error) {
	r.mu.RLock()
	userIDs := make([]string, 0, len(r.users))
	for userID := range r.users {
		userIDs = append(userIDs, userID)
	}
	r.mu.RUnlock()

	for _, userID := range userIDs {
		r.DrainUser(userID, reason)
	}
}

// Count returns the number of in-flight requests for one user
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	up, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	return len(up.entries)
}

// Total returns the number of in-flight requests across all users
func (r *Registry) Total() int64 {
	return r.total.Load()
}
