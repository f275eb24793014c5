// Package tunnel accepts inbound persistent connections from desktop
// clients and pumps protocol messages in both directions.
package tunnel

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"conduit/internal/relay/auth"
	"conduit/internal/relay/conn"
	"conduit/internal/relay/health"
	"conduit/internal/relay/pending"
	"conduit/internal/shared/logging"
	"conduit/internal/shared/protocol"
)

const (
	// heartbeatGraceIntervals forces closure after this many missed pongs
	heartbeatGraceIntervals = 2

	// malformedFrameLimit forces closure after this many consecutive
	// malformed frames from one connection
	malformedFrameLimit = 10
)

// Handler upgrades tunnel connect requests, authenticates them, and runs
// the per-connection read and heartbeat loops
type Handler struct {
	registry          *conn.Registry
	pendings          *pending.Registry
	validator         *auth.Validator
	accepting         func() bool
	heartbeatInterval time.Duration
	metrics           *health.Metrics
	upgrader          websocket.Upgrader
	logger            *logging.Logger
}

// NewHandler creates a tunnel connection handler. The accepting gate is
// consulted before every upgrade so a draining relay stops admitting
// connections.
func NewHandler(registry *conn.Registry, pendings *pending.Registry, validator *auth.Validator,
	accepting func() bool, heartbeatInterval time.Duration, metrics *health.Metrics) *Handler {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &Handler{
		registry:          registry,
		pendings:          pendings,
		validator:         validator,
		accepting:         accepting,
		heartbeatInterval: heartbeatInterval,
		metrics:           metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16384,
			WriteBufferSize: 16384,
			CheckOrigin: func(r *http.Request) bool {
				return true // Desktop clients dial from arbitrary origins
			},
		},
		logger: logging.NewLogger("tunnel-handler"),
	}
}

// HandleConnect is the upgrade endpoint for desktop clients
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if !h.accepting() {
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}

	userID, err := h.validator.UserFromRequest(r)
	if err != nil {
		h.logger.Debug("Tunnel auth failed", "error", err.Error())
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", err, "user", userID)
		return
	}

	c := conn.NewConn(userID, ws)
	c.Transition(conn.StateConnecting, conn.StateAuthenticated)

	// Supersedes any existing connection for this user
	h.registry.Register(c)
	c.Transition(conn.StateAuthenticated, conn.StateActive)

	h.logger.Info("Tunnel connection established", "user", userID)

	defer func() {
		h.registry.Unregister(c)
		c.Close(websocket.CloseNormalClosure, "connection closed")
		h.logger.Info("Tunnel connection closed", "user", userID)
	}()

	go h.heartbeatLoop(c)
	h.readLoop(c)
}

// heartbeatLoop sends relay-side pings and enforces the grace period
func (h *Handler) heartbeatLoop(c *conn.Conn) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	grace := time.Duration(heartbeatGraceIntervals) * h.heartbeatInterval

	for {
		select {
		case <-c.Done():
			return
		case <-ticker.C:
			if time.Since(c.LastHeartbeat()) > grace {
				h.logger.Warn("Heartbeat grace period exceeded, closing connection", "user", c.UserID())
				c.Close(websocket.CloseGoingAway, "heartbeat timeout")
				return
			}
			ping := &protocol.Ping{ID: protocol.NewID(), Timestamp: time.Now()}
			if err := c.Send(ping); err != nil {
				h.logger.Debug("Heartbeat send failed", "user", c.UserID(), "error", err.Error())
				return
			}
		}
	}
}

// readLoop processes inbound frames until the connection closes.
// Messages on a single connection are handled in arrival order.
func (h *Handler) readLoop(c *conn.Conn) {
	readTimeout := time.Duration(heartbeatGraceIntervals+1) * h.heartbeatInterval
	malformed := 0

	for {
		data, err := c.ReadMessage(time.Now().Add(readTimeout))
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Tunnel read error", "user", c.UserID(), "error", err.Error())
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames are isolated per message, but repeated
			// violations from one connection force closure
			malformed++
			if h.metrics != nil {
				h.metrics.ProtocolErrors.Inc()
			}
			h.logger.Warn("Malformed tunnel frame",
				"user", c.UserID(), "error", err.Error(), "count", malformed)
			if malformed >= malformedFrameLimit {
				h.logger.Warn("Too many malformed frames, closing connection", "user", c.UserID())
				c.Close(websocket.ClosePolicyViolation, "repeated protocol errors")
				return
			}
			continue
		}
		malformed = 0

		h.dispatch(c, msg)
	}
}

// dispatch routes one inbound message. Identity is fixed at connect time:
// every message on this connection is attributed to c's user and no other.
func (h *Handler) dispatch(c *conn.Conn, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.HTTPResponse:
		h.pendings.Resolve(c.UserID(), m.ID, pending.Outcome{Response: m})

	case *protocol.ErrorMessage:
		h.pendings.Resolve(c.UserID(), m.ID, pending.Outcome{Err: &RemoteError{Message: m.Message, Code: m.Code}})

	case *protocol.Pong:
		c.TouchHeartbeat()

	case *protocol.Ping:
		// Client-side keepalive; echo the id back
		if err := c.Send(&protocol.Pong{ID: m.ID, Timestamp: time.Now()}); err != nil {
			h.logger.Debug("Pong send failed", "user", c.UserID(), "error", err.Error())
		}

	case *protocol.HTTPRequest:
		// Clients never originate requests toward the relay
		_ = c.Send(&protocol.ErrorMessage{
			ID:      m.ID,
			Message: "http_request not accepted from clients",
			Code:    protocol.CodeUnsupported,
		})
	}
}

// RemoteError is a relay-level failure reported by the client across the wire
type RemoteError struct {
	Message string
	Code    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
