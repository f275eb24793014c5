// Package forward executes proxied requests against the local model
// server on behalf of the tunnel client.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conduit/internal/shared/circuitbreaker"
	"conduit/internal/shared/logging"
	"conduit/internal/shared/protocol"
)

// maxResponseBody bounds local server response bodies (32 MiB),
// mirroring the relay-side request bound
const maxResponseBody = 32 << 20

// Executor forwards decoded tunnel requests to the local model server.
// A circuit breaker fails fast while the local server is down so the
// relay gets prompt error replies instead of piled-up timeouts.
type Executor struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *logging.Logger
}

// NewExecutor creates an executor targeting the local base URL
func NewExecutor(baseURL string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:  logging.NewLogger("forward-executor"),
	}
}

// Execute runs one proxied request against the local server and returns
// the response carrying the same correlation id
func (e *Executor) Execute(ctx context.Context, req *protocol.HTTPRequest) (*protocol.HTTPResponse, error) {
	var resp *protocol.HTTPResponse

	err := e.breaker.Execute(func() error {
		var execErr error
		resp, execErr = e.do(ctx, req)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (e *Executor) do(ctx context.Context, req *protocol.HTTPRequest) (*protocol.HTTPResponse, error) {
	url := e.baseURL + req.Path

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build local request: %w", err)
	}
	for name, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}

	start := time.Now()
	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local server unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read local response: %w", err)
	}

	e.logger.Debug("Local request completed",
		"id", req.ID, "method", req.Method, "path", req.Path,
		"status", httpResp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())

	return &protocol.HTTPResponse{
		ID:      req.ID,
		Status:  httpResp.StatusCode,
		Headers: httpResp.Header,
		Body:    body,
	}, nil
}

// BreakerState exposes the circuit state for status logging
func (e *Executor) BreakerState() circuitbreaker.State {
	return e.breaker.GetState()
}
