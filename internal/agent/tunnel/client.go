// Package tunnel maintains the agent's persistent connection to the
// relay and services proxied requests over it.
package tunnel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"conduit/internal/agent/forward"
	"conduit/internal/shared/logging"
	"conduit/internal/shared/protocol"
	"conduit/internal/shared/retry"
)

// dialTimeout bounds one connection attempt to the relay
const dialTimeout = 15 * time.Second

// Client dials the relay, keeps the tunnel alive, and dispatches inbound
// requests to the local executor. Requests run concurrently; writes are
// serialized because the WebSocket allows a single writer.
type Client struct {
	relayURL  string
	token     string
	executor  *forward.Executor
	reconnect retry.Config
	logger    *logging.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.RWMutex
	connected bool
}

// NewClient creates a tunnel client. reconnectMaxDelay caps the
// exponential backoff between connection attempts.
func NewClient(relayURL, token string, executor *forward.Executor, reconnectMaxDelay time.Duration) *Client {
	if reconnectMaxDelay <= 0 {
		reconnectMaxDelay = 60 * time.Second
	}
	return &Client{
		relayURL: relayURL,
		token:    token,
		executor: executor,
		reconnect: retry.Config{
			MaxAttempts:  0, // reconnect forever
			InitialDelay: time.Second,
			MaxDelay:     reconnectMaxDelay,
			Multiplier:   2.0,
		},
		logger: logging.NewLogger("tunnel-client"),
	}
}

// Run connects to the relay and serves the tunnel until ctx is done,
// reconnecting with backoff whenever the connection drops
func (c *Client) Run(ctx context.Context) error {
	return retry.Execute(ctx, c.reconnect, retry.AlwaysRetry(), func() error {
		if err := c.connect(ctx); err != nil {
			c.logger.Warn("Relay connection attempt failed", "error", err.Error())
			return err
		}

		c.serve(ctx)

		select {
		case <-ctx.Done():
			return nil
		default:
			// A dropped session is an error so the retry loop redials
			return fmt.Errorf("tunnel session ended")
		}
	})
}

// connect dials the relay's tunnel endpoint with the bearer credential
func (c *Client) connect(ctx context.Context) error {
	c.logger.Info("Connecting to relay", "url", c.relayURL)

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{"Authorization": {"Bearer " + c.token}}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, c.relayURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("relay rejected connection (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	c.setConnected(true)
	c.logger.Info("Connected to relay")
	return nil
}

// serve reads frames until the connection drops or ctx is done
func (c *Client) serve(ctx context.Context) {
	defer func() {
		c.setConnected(false)
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.writeMu.Unlock()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			if c.conn != nil {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent shutting down"),
					time.Now().Add(time.Second))
				_ = c.conn.Close()
			}
			c.writeMu.Unlock()
		case <-done:
		}
	}()

	for {
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Relay connection lost", "error", err.Error())
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("Malformed frame from relay", "error", err.Error())
			continue
		}

		c.dispatch(ctx, msg)
	}
}

// dispatch routes one inbound message from the relay
func (c *Client) dispatch(ctx context.Context, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.HTTPRequest:
		// Requests run concurrently so a slow model call does not block
		// heartbeats or other requests
		go c.handleRequest(ctx, m)

	case *protocol.Ping:
		if err := c.send(&protocol.Pong{ID: m.ID, Timestamp: time.Now()}); err != nil {
			c.logger.Debug("Pong send failed", "error", err.Error())
		}

	case *protocol.Pong:
		// Reply to an agent-side ping; nothing to track

	case *protocol.ErrorMessage:
		if m.Code == protocol.CodeShuttingDown {
			c.logger.Info("Relay is shutting down, will reconnect with backoff")
		} else {
			c.logger.Warn("Error from relay", "code", m.Code, "message", m.Message)
		}

	case *protocol.HTTPResponse:
		c.logger.Warn("Unexpected http_response from relay", "id", m.ID)
	}
}

// handleRequest executes one proxied request and replies with either the
// response or an error carrying the same correlation id
func (c *Client) handleRequest(ctx context.Context, req *protocol.HTTPRequest) {
	c.logger.Debug("Handling proxied request", "id", req.ID, "method", req.Method, "path", req.Path)

	resp, err := c.executor.Execute(ctx, req)
	if err != nil {
		c.logger.Warn("Local request failed", "id", req.ID, "error", err.Error())
		if sendErr := c.send(&protocol.ErrorMessage{
			ID:      req.ID,
			Message: err.Error(),
			Code:    protocol.CodeBadGateway,
		}); sendErr != nil {
			c.logger.Debug("Error reply send failed", "id", req.ID, "error", sendErr.Error())
		}
		return
	}

	if err := c.send(resp); err != nil {
		c.logger.Warn("Response send failed", "id", req.ID, "error", err.Error())
	}
}

// send encodes and writes one frame under the write lock
func (c *Client) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected to relay")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// IsConnected reports whether the tunnel is currently up
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
