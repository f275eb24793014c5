// Package gateway is the public HTTP surface: it translates inbound
// requests into tunnel protocol messages and awaits correlated
// responses.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"conduit/internal/relay/auth"
	"conduit/internal/relay/conn"
	"conduit/internal/relay/health"
	"conduit/internal/relay/pending"
	"conduit/internal/relay/ratelimit"
	"conduit/internal/relay/relayerr"
	"conduit/internal/shared/logging"
	"conduit/internal/shared/protocol"
)

// maxRequestBody bounds proxied request bodies (32 MiB)
const maxRequestBody = 32 << 20

// hopByHopHeaders are connection-scoped and never forwarded either way
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// errorBody is the JSON error envelope returned for rejected requests
type errorBody struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Gateway proxies HTTP requests to a target user's tunnel connection
type Gateway struct {
	registry       *conn.Registry
	pendings       *pending.Registry
	limiter        *ratelimit.Limiter
	validator      *auth.Validator
	reporter       *health.Reporter
	metrics        *health.Metrics
	accepting      func() bool
	requestTimeout time.Duration
	logger         *logging.Logger
}

// NewGateway creates the proxy gateway. requestTimeout is the fixed
// per-request bound on awaiting a tunnel response.
func NewGateway(registry *conn.Registry, pendings *pending.Registry, limiter *ratelimit.Limiter,
	validator *auth.Validator, reporter *health.Reporter, metrics *health.Metrics,
	accepting func() bool, requestTimeout time.Duration) *Gateway {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Gateway{
		registry:       registry,
		pendings:       pendings,
		limiter:        limiter,
		validator:      validator,
		reporter:       reporter,
		metrics:        metrics,
		accepting:      accepting,
		requestTimeout: requestTimeout,
		logger:         logging.NewLogger("proxy-gateway"),
	}
}

// HandleProxy serves ALL /tunnel/{userId}/... requests
func (g *Gateway) HandleProxy(w http.ResponseWriter, r *http.Request) {
	if !g.accepting() {
		g.writeError(w, relayerr.ErrShuttingDown, "relay is shutting down")
		return
	}

	targetID, remainder, ok := splitProxyPath(r.URL.Path)
	if !ok {
		g.jsonError(w, http.StatusBadRequest, "target user required")
		return
	}

	callerID, err := g.validator.UserFromRequest(r)
	if err != nil {
		g.writeError(w, relayerr.ErrAuthentication, "missing or invalid credential")
		return
	}

	// Strict user isolation: no caller may proxy through another
	// user's tunnel
	if callerID != targetID {
		g.logger.Warn("Cross-user proxy attempt rejected",
			"caller", callerID, "target", targetID, "path", remainder)
		g.writeError(w, relayerr.ErrAuthorization, "cannot proxy through another user's tunnel")
		return
	}

	if !g.limiter.Admit(targetID) {
		if g.metrics != nil {
			g.metrics.RateLimited.Inc()
		}
		g.writeError(w, relayerr.ErrRateLimited, "rate limit exceeded, back off and retry")
		return
	}

	tunnelConn, connected := g.registry.Lookup(targetID)
	if !connected {
		g.writeError(w, relayerr.ErrNoActiveConnection, "no active tunnel connection for user")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		g.jsonError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	g.forward(w, r, tunnelConn, targetID, remainder, body)
}

// forward registers the pending entry, sends the protocol message, and
// awaits the completion handle. Every request gets exactly one terminal
// outcome: response, timeout, or connection loss.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, tunnelConn *conn.Conn,
	userID, path string, body []byte) {
	id := protocol.NewID()
	start := time.Now()

	handle, err := g.pendings.Register(userID, id, g.requestTimeout)
	if err != nil {
		// Duplicate id is fatal to this request only
		g.logger.Error("Failed to register pending request", err, "user", userID, "id", id)
		g.reporter.RecordError()
		g.jsonError(w, http.StatusBadGateway, "failed to register request")
		return
	}

	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	msg := &protocol.HTTPRequest{
		ID:      id,
		Method:  r.Method,
		Path:    path,
		Headers: forwardableHeaders(r.Header),
		Body:    body,
	}

	g.logger.Debug("Forwarding request", "user", userID, "id", id, "method", r.Method, "path", path)

	if err := tunnelConn.Send(msg); err != nil {
		// The entry resolves through the registry so the outcome
		// stays exactly-once even if the connection drains concurrently
		g.pendings.Resolve(userID, id, pending.Outcome{Err: relayerr.ErrConnectionLost})
	}

	outcome := <-handle.Done()
	g.writeOutcome(w, userID, id, outcome, time.Since(start))
}

// writeOutcome translates a terminal outcome into the HTTP response
func (g *Gateway) writeOutcome(w http.ResponseWriter, userID, id string, outcome pending.Outcome, elapsed time.Duration) {
	if outcome.Response != nil {
		resp := outcome.Response
		g.reporter.RecordSuccess(elapsed)
		g.logger.Debug("Proxied response", "user", userID, "id", id,
			"status", resp.Status, "elapsed_ms", elapsed.Milliseconds())

		headers := w.Header()
		for name, values := range resp.Headers {
			if isHopByHop(name) {
				continue
			}
			for _, value := range values {
				headers.Add(name, value)
			}
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
		return
	}

	err := outcome.Err
	switch {
	case errors.Is(err, relayerr.ErrRequestTimeout):
		g.reporter.RecordTimeout()
		g.logger.Warn("Request timed out", "user", userID, "id", id)
		g.writeError(w, err, "no response from tunnel client within timeout")

	case errors.Is(err, relayerr.ErrConnectionLost):
		g.reporter.RecordError()
		g.logger.Warn("Connection lost while request in flight", "user", userID, "id", id)
		g.writeError(w, err, "tunnel connection lost")

	default:
		g.reporter.RecordError()
		g.logger.Warn("Request failed", "user", userID, "id", id, "error", err.Error())
		g.jsonError(w, http.StatusBadGateway, err.Error())
	}
}

// writeError maps a taxonomy error to its HTTP status
func (g *Gateway) writeError(w http.ResponseWriter, err error, message string) {
	g.jsonError(w, relayerr.HTTPStatus(err), message)
}

func (g *Gateway) jsonError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// splitProxyPath extracts the target user and path remainder from
// /tunnel/{userId}/{remainder}
func splitProxyPath(urlPath string) (userID, remainder string, ok bool) {
	trimmed := strings.TrimPrefix(urlPath, "/tunnel/")
	if trimmed == urlPath || trimmed == "" {
		return "", "", false
	}

	parts := strings.SplitN(trimmed, "/", 2)
	userID = parts[0]
	if userID == "" {
		return "", "", false
	}

	remainder = "/"
	if len(parts) == 2 {
		remainder = "/" + parts[1]
	}
	return userID, remainder, true
}

// forwardableHeaders copies request headers, dropping hop-by-hop headers
// and the relay credential
func forwardableHeaders(header http.Header) map[string][]string {
	result := make(map[string][]string, len(header))
	for name, values := range header {
		if isHopByHop(name) || http.CanonicalHeaderKey(name) == "Authorization" {
			continue
		}
		result[name] = values
	}
	return result
}

func isHopByHop(name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	for _, h := range hopByHopHeaders {
		if canonical == h {
			return true
		}
	}
	return false
}
