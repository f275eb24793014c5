package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	// Generate IDs and ensure they are unique
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()

		if len(id) != 36 {
			t.Errorf("Expected UUID length 36, got %d", len(id))
		}

		if ids[id] {
			t.Errorf("Duplicate ID generated: %s", id)
		}
		ids[id] = true
	}
}

func TestEncodeDecodeHTTPRequest(t *testing.T) {
	req := &HTTPRequest{
		ID:     NewID(),
		Method: "POST",
		Path:   "/api/generate?stream=true",
		Headers: map[string][]string{
			"Content-Type": {"application/json"},
		},
		Body: []byte(`{"model":"llama3","prompt":"hi"}`),
	}

	data, err := Encode(req)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got, ok := decoded.(*HTTPRequest)
	require.True(t, ok, "expected *HTTPRequest, got %T", decoded)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Method, got.Method)
	assert.Equal(t, req.Path, got.Path)
	assert.Equal(t, req.Headers, got.Headers)
	assert.Equal(t, req.Body, got.Body)
}

func TestEncodeDecodeHTTPResponse(t *testing.T) {
	resp := &HTTPResponse{
		ID:     "resp-1",
		Status: 200,
		Headers: map[string][]string{
			"Content-Type": {"application/json"},
		},
		Body: []byte(`{"models":[]}`),
	}

	data, err := Encode(resp)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got, ok := decoded.(*HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "resp-1", got.CorrelationID())
}

func TestEncodeDecodePingPong(t *testing.T) {
	ping := &Ping{ID: "hb-1", Timestamp: time.Now().UTC().Truncate(time.Millisecond)}

	data, err := Encode(ping)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.IsType(t, &Ping{}, decoded)
	assert.Equal(t, "hb-1", decoded.CorrelationID())

	pong := &Pong{ID: "hb-1", Timestamp: time.Now()}
	data, err = Encode(pong)
	require.NoError(t, err)

	decoded, err = Decode(data)
	require.NoError(t, err)
	require.IsType(t, &Pong{}, decoded)
}

func TestEncodeDecodeError(t *testing.T) {
	msg := &ErrorMessage{ID: "req-9", Message: "local server unreachable", Code: CodeBadGateway}

	data, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got, ok := decoded.(*ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, CodeBadGateway, got.Code)
	assert.Equal(t, "local server unreachable", got.Message)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"missing type", `{"payload":{"id":"x"}}`},
		{"missing payload", `{"type":"ping"}`},
		{"unknown type", `{"type":"shutdown","payload":{"id":"x"}}`},
		{"missing id", `{"type":"ping","payload":{"timestamp":"2026-01-01T00:00:00Z"}}`},
		{"request missing method", `{"type":"http_request","payload":{"id":"x","path":"/api"}}`},
		{"request missing path", `{"type":"http_request","payload":{"id":"x","method":"GET"}}`},
		{"response status out of range", `{"type":"http_response","payload":{"id":"x","status":42}}`},
		{"error missing text", `{"type":"error","payload":{"id":"x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)

			var invalidErr *InvalidMessageError
			assert.True(t, errors.As(err, &invalidErr), "expected InvalidMessageError, got %T", err)
		})
	}
}

func TestDecodeResponseStatusBounds(t *testing.T) {
	for _, status := range []int{100, 200, 404, 599} {
		resp := &HTTPResponse{ID: "x", Status: status}
		data, err := Encode(resp)
		require.NoError(t, err)

		_, err = Decode(data)
		assert.NoError(t, err, "status %d should be accepted", status)
	}
}
