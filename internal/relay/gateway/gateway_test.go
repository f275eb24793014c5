package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitProxyPath(t *testing.T) {
	tests := []struct {
		path      string
		userID    string
		remainder string
		ok        bool
	}{
		{"/tunnel/u1/api/tags", "u1", "/api/tags", true},
		{"/tunnel/u1/", "u1", "/", true},
		{"/tunnel/u1", "u1", "/", true},
		{"/tunnel/u1/api/generate", "u1", "/api/generate", true},
		{"/tunnel/", "", "", false},
		{"/tunnel//api/tags", "", "", false},
		{"/other/u1/api", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			userID, remainder, ok := splitProxyPath(tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.userID, userID)
				assert.Equal(t, tt.remainder, remainder)
			}
		})
	}
}

func TestForwardableHeadersStripsHopByHopAndCredential(t *testing.T) {
	header := http.Header{
		"Content-Type":      {"application/json"},
		"Accept":            {"application/json"},
		"Authorization":     {"Bearer secret"},
		"Connection":        {"keep-alive"},
		"Keep-Alive":        {"timeout=5"},
		"Transfer-Encoding": {"chunked"},
		"Upgrade":           {"websocket"},
	}

	result := forwardableHeaders(header)

	assert.Contains(t, result, "Content-Type")
	assert.Contains(t, result, "Accept")

	// The relay credential never crosses the tunnel
	assert.NotContains(t, result, "Authorization")

	assert.NotContains(t, result, "Connection")
	assert.NotContains(t, result, "Keep-Alive")
	assert.NotContains(t, result, "Transfer-Encoding")
	assert.NotContains(t, result, "Upgrade")
}

func TestIsHopByHopCaseInsensitive(t *testing.T) {
	assert.True(t, isHopByHop("connection"))
	assert.True(t, isHopByHop("CONNECTION"))
	assert.True(t, isHopByHop("transfer-encoding"))
	assert.False(t, isHopByHop("Content-Type"))
}
