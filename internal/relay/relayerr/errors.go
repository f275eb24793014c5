// Package relayerr defines the relay failure taxonomy shared by the
// gateway, tunnel handler, and registries.
package relayerr

import (
	"errors"
	"net/http"
)

var (
	// ErrAuthentication indicates a bad or missing credential at connect or proxy time
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization indicates a cross-user access attempt
	ErrAuthorization = errors.New("caller identity does not match target user")

	// ErrNoActiveConnection indicates the target user has no live tunnel
	ErrNoActiveConnection = errors.New("no active tunnel connection")

	// ErrRequestTimeout indicates no response arrived within the request timeout
	ErrRequestTimeout = errors.New("request timed out")

	// ErrRateLimited indicates the caller exceeded a rate-limit window
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrConnectionLost indicates the tunnel closed while requests were in flight
	ErrConnectionLost = errors.New("tunnel connection lost")

	// ErrShuttingDown indicates the relay is draining and not admitting work
	ErrShuttingDown = errors.New("relay is shutting down")

	// ErrDuplicateID indicates a correlation id was registered twice
	ErrDuplicateID = errors.New("duplicate correlation id")
)

// HTTPStatus maps a taxonomy error to its gateway response status.
// Conditions covered by the taxonomy never surface as a generic 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNoActiveConnection), errors.Is(err, ErrConnectionLost), errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRequestTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
