package conn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"conduit/internal/relay/pending"
	"conduit/internal/relay/relayerr"
	"conduit/internal/shared/logging"
	"conduit/internal/shared/protocol"
)

// Info is a read-only snapshot of one registered connection
type Info struct {
	UserID        string    `json:"user_id"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	PendingCount  int       `json:"pending_count"`
	State         string    `json:"state"`
}

// Registry maps user identity to the single active tunnel connection for
// that identity. It is the source of truth for "is this user's desktop
// client currently reachable".
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	pending *pending.Registry
	logger  *logging.Logger
}

// NewRegistry creates a connection registry backed by the given pending
// request registry
func NewRegistry(pendingReg *pending.Registry) *Registry {
	return &Registry{
		conns:   make(map[string]*Conn),
		pending: pendingReg,
		logger:  logging.NewLogger("conn-registry"),
	}
}

// Register installs the connection for its user identity. An existing
// connection for the same identity is superseded: its pending requests
// are drained as connection-lost before the new connection becomes
// visible, so requests routed to the new connection are never swept up
// by the supersession. The old socket is closed after the swap.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	old := r.conns[c.userID]
	if old != nil {
		r.pending.DrainUser(c.userID, relayerr.ErrConnectionLost)
	}
	r.conns[c.userID] = c
	r.mu.Unlock()

	if old != nil {
		r.logger.Info("Superseding existing tunnel connection", "user", c.userID)
		old.Close(websocket.ClosePolicyViolation, "superseded by newer connection")
	}

	r.logger.Info("Tunnel connection registered", "user", c.userID)
}

// Lookup returns the active connection for a user identity, if any
func (r *Registry) Lookup(userID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Unregister removes the mapping only if the currently registered
// connection is exactly the one passed in. This guards against a late
// close event from a connection that has already been superseded. On
// successful removal the user's pending requests are drained as
// connection-lost.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	current, ok := r.conns[c.userID]
	if !ok || current != c {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c.userID)
	r.mu.Unlock()

	r.pending.DrainUser(c.userID, relayerr.ErrConnectionLost)
	r.logger.Info("Tunnel connection unregistered", "user", c.userID)
}

// Count returns the number of active connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns read-only info for every registered connection
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, Info{
			UserID:        c.userID,
			ConnectedAt:   c.connectedAt,
			LastHeartbeat: c.LastHeartbeat(),
			PendingCount:  r.pending.Count(c.userID),
			State:         c.State().String(),
		})
	}
	return infos
}

// Broadcast sends a message to every connected client, best-effort
func (r *Registry) Broadcast(msg protocol.Message) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			r.logger.Debug("Broadcast send failed", "user", c.userID, "error", err.Error())
		}
	}
}

// CloseAll forcibly closes every registered connection, draining each
// user's pending requests. Used by forced shutdown.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, reason)
		r.pending.DrainUser(c.UserID(), relayerr.ErrConnectionLost)
	}

	if len(conns) > 0 {
		r.logger.Info("Closed all tunnel connections", "count", len(conns), "reason", reason)
	}
	return len(conns)
}
