package relayerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ErrAuthentication, http.StatusUnauthorized},
		{ErrAuthorization, http.StatusForbidden},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrNoActiveConnection, http.StatusServiceUnavailable},
		{ErrConnectionLost, http.StatusServiceUnavailable},
		{ErrShuttingDown, http.StatusServiceUnavailable},
		{ErrRequestTimeout, http.StatusGatewayTimeout},
		{errors.New("something else"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(tt.err), "error: %v", tt.err)
	}
}

func TestHTTPStatusUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("%w: token expired", ErrAuthentication)
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(wrapped))
}
