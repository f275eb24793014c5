// Package conn tracks live tunnel connections, one per user identity.
package conn

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"conduit/internal/shared/logging"
	"conduit/internal/shared/protocol"
)

// State is the connection lifecycle state. Transitions are guarded so
// illegal states are unrepresentable at runtime.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("connection send queue full")
)

// writeQueueSize bounds outbound frames queued per connection; senders
// get an error instead of blocking when the client cannot keep up
const writeQueueSize = 256

// Conn is one live tunnel connection to a user's desktop client.
// Writes go through a buffered queue drained by a single writer
// goroutine so concurrent senders never interleave frames.
type Conn struct {
	userID      string
	ws          *websocket.Conn
	connectedAt time.Time

	state         atomic.Int32
	lastHeartbeat atomic.Int64 // unix nanos

	writeCh chan []byte
	closeCh chan struct{}
	closeMu sync.Mutex
	closed  bool

	logger *logging.Logger
}

// NewConn wraps an accepted WebSocket in a tunnel connection in the
// Connecting state and starts its writer goroutine
func NewConn(userID string, ws *websocket.Conn) *Conn {
	c := &Conn{
		userID:      userID,
		ws:          ws,
		connectedAt: time.Now(),
		writeCh:     make(chan []byte, writeQueueSize),
		closeCh:     make(chan struct{}),
		logger:      logging.NewLogger("tunnel-conn"),
	}
	c.state.Store(int32(StateConnecting))
	c.lastHeartbeat.Store(time.Now().UnixNano())

	go c.writeLoop()
	return c
}

// UserID returns the owning user identity
func (c *Conn) UserID() string { return c.userID }

// ConnectedAt returns when the connection was established
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// State returns the current lifecycle state
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Transition moves the connection from one state to another. It returns
// false if the connection is not in the expected state.
func (c *Conn) Transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// TouchHeartbeat records a heartbeat acknowledgement
func (c *Conn) TouchHeartbeat() {
	c.lastHeartbeat.Store(time.Now().UnixNano())
}

// LastHeartbeat returns the time of the last heartbeat acknowledgement
func (c *Conn) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// Send encodes and queues a message for the writer goroutine. It never
// blocks: a full queue fails the send so slow clients cannot stall the
// gateway.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return ErrConnClosed
	}
	c.closeMu.Unlock()

	select {
	case c.writeCh <- data:
		return nil
	case <-c.closeCh:
		return ErrConnClosed
	default:
		c.logger.Warn("Send queue full, rejecting message", "user", c.userID)
		return ErrSendQueueFull
	}
}

// writeLoop drains queued frames onto the WebSocket
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case data := <-c.writeCh:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Tunnel write failed", "user", c.userID, "error", err.Error())
				return
			}
		}
	}
}

// ReadMessage blocks until the next inbound frame arrives
func (c *Conn) ReadMessage(deadline time.Time) ([]byte, error) {
	_ = c.ws.SetReadDeadline(deadline)
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close transitions the connection to Closed and tears down the
// underlying channel. Safe to call multiple times.
func (c *Conn) Close(closeCode int, reason string) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	c.closeMu.Unlock()

	// Walk whatever state we are in down to Closed
	c.Transition(StateActive, StateClosing)
	c.Transition(StateAuthenticated, StateClosing)
	c.Transition(StateConnecting, StateClosing)

	close(c.closeCh)

	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, reason),
		time.Now().Add(5*time.Second))
	_ = c.ws.Close()

	c.state.Store(int32(StateClosed))
	c.logger.Debug("Tunnel connection closed", "user", c.userID, "reason", reason)
}

// Done returns a channel closed when the connection shuts down
func (c *Conn) Done() <-chan struct{} {
	return c.closeCh
}

// Closed reports whether Close has been called
func (c *Conn) Closed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}
