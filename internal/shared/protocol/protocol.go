package protocol

import (
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the wire message variants
type MessageType string

const (
	TypeHTTPRequest  MessageType = "http_request"
	TypeHTTPResponse MessageType = "http_response"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
)

// Error codes carried by ErrorMessage
const (
	CodeShuttingDown = "shutting_down"
	CodeBadGateway   = "bad_gateway"
	CodeUnsupported  = "unsupported"
	CodeInternal     = "internal"
)

// Message is implemented by all wire message variants
type Message interface {
	Type() MessageType
	CorrelationID() string
}

// HTTPRequest represents an HTTP request forwarded through the tunnel
type HTTPRequest struct {
	ID      string              `json:"id"`
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// HTTPResponse represents an HTTP response returned through the tunnel
type HTTPResponse struct {
	ID      string              `json:"id"`
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// Ping is a keepalive probe; correlation is self-contained per message
type Ping struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Pong answers a Ping, echoing its id
type Pong struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage reports a relay-level failure for the message with the same id
type ErrorMessage struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (m *HTTPRequest) Type() MessageType  { return TypeHTTPRequest }
func (m *HTTPResponse) Type() MessageType { return TypeHTTPResponse }
func (m *Ping) Type() MessageType         { return TypePing }
func (m *Pong) Type() MessageType         { return TypePong }
func (m *ErrorMessage) Type() MessageType { return TypeError }

func (m *HTTPRequest) CorrelationID() string  { return m.ID }
func (m *HTTPResponse) CorrelationID() string { return m.ID }
func (m *Ping) CorrelationID() string         { return m.ID }
func (m *Pong) CorrelationID() string         { return m.ID }
func (m *ErrorMessage) CorrelationID() string { return m.ID }

// NewID generates a collision-resistant correlation identifier
func NewID() string {
	return uuid.NewString()
}
