package protocol

import (
	"encoding/json"
	"fmt"
)

// InvalidMessageError reports a frame that failed structural validation
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid protocol message: %s", e.Reason)
}

// envelope is the outer wire frame carrying the type discriminator
type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes a message into its wire frame
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msg.Type(), err)
	}

	return json.Marshal(envelope{
		Type:    msg.Type(),
		Payload: payload,
	})
}

// Decode parses a wire frame into a message, rejecting unknown or
// structurally invalid payloads as protocol errors
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &InvalidMessageError{Reason: "malformed envelope: " + err.Error()}
	}
	if env.Type == "" {
		return nil, &InvalidMessageError{Reason: "missing type discriminator"}
	}
	if len(env.Payload) == 0 {
		return nil, &InvalidMessageError{Reason: "missing payload"}
	}

	var msg Message
	switch env.Type {
	case TypeHTTPRequest:
		msg = &HTTPRequest{}
	case TypeHTTPResponse:
		msg = &HTTPResponse{}
	case TypePing:
		msg = &Ping{}
	case TypePong:
		msg = &Pong{}
	case TypeError:
		msg = &ErrorMessage{}
	default:
		return nil, &InvalidMessageError{Reason: fmt.Sprintf("unknown type %q", env.Type)}
	}

	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, &InvalidMessageError{Reason: fmt.Sprintf("malformed %s payload: %s", env.Type, err)}
	}

	if err := validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// validate enforces the per-variant structural invariants
func validate(msg Message) error {
	if msg.CorrelationID() == "" {
		return &InvalidMessageError{Reason: fmt.Sprintf("%s message missing id", msg.Type())}
	}

	switch m := msg.(type) {
	case *HTTPRequest:
		if m.Method == "" {
			return &InvalidMessageError{Reason: "http_request missing method"}
		}
		if m.Path == "" {
			return &InvalidMessageError{Reason: "http_request missing path"}
		}
	case *HTTPResponse:
		if m.Status < 100 || m.Status > 599 {
			return &InvalidMessageError{Reason: fmt.Sprintf("http_response status %d out of range", m.Status)}
		}
	case *ErrorMessage:
		if m.Message == "" {
			return &InvalidMessageError{Reason: "error message missing text"}
		}
	}
	return nil
}
