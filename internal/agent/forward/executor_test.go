package forward

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/shared/circuitbreaker"
	"conduit/internal/shared/protocol"
)

func TestExecuteSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("stream"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"prompt":"hi"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"response":"hello"}`))
	}))
	defer ts.Close()

	e := NewExecutor(ts.URL, 5*time.Second)

	req := &protocol.HTTPRequest{
		ID:      "req-1",
		Method:  "POST",
		Path:    "/api/generate?stream=true",
		Headers: map[string][]string{"Content-Type": {"application/json"}},
		Body:    []byte(`{"prompt":"hi"}`),
	}

	resp, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, `{"response":"hello"}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Headers["Content-Type"][0])
}

func TestExecutePreservesErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer ts.Close()

	e := NewExecutor(ts.URL, 5*time.Second)

	resp, err := e.Execute(context.Background(), &protocol.HTTPRequest{
		ID: "req-1", Method: "GET", Path: "/api/tags",
	})
	require.NoError(t, err)

	// Local 4xx/5xx is still a response, not a tunnel error
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestExecuteUnreachableServer(t *testing.T) {
	e := NewExecutor("http://127.0.0.1:1", time.Second)

	_, err := e.Execute(context.Background(), &protocol.HTTPRequest{
		ID: "req-1", Method: "GET", Path: "/api/tags",
	})
	assert.Error(t, err)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	e := NewExecutor("http://127.0.0.1:1", time.Second)

	req := &protocol.HTTPRequest{ID: "x", Method: "GET", Path: "/"}
	for i := 0; i < 5; i++ {
		_, err := e.Execute(context.Background(), req)
		require.Error(t, err)
	}

	assert.Equal(t, circuitbreaker.StateOpen, e.BreakerState())

	// Subsequent calls fail fast without dialing
	_, err := e.Execute(context.Background(), req)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestBreakerRecoversAfterSuccess(t *testing.T) {
	var healthy bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			// Connection-level failure: hijack and drop
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	e := NewExecutor(ts.URL, time.Second)
	e.breaker = circuitbreaker.New(circuitbreaker.Config{
		MaxFailures:     2,
		ResetTimeout:    100 * time.Millisecond,
		MaxHalfOpenReqs: 1,
	})

	req := &protocol.HTTPRequest{ID: "x", Method: "GET", Path: "/"}
	for i := 0; i < 2; i++ {
		_, _ = e.Execute(context.Background(), req)
	}
	require.Equal(t, circuitbreaker.StateOpen, e.BreakerState())

	healthy = true
	time.Sleep(150 * time.Millisecond)

	resp, err := e.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, circuitbreaker.StateClosed, e.BreakerState())
}

func TestExecuteRespectsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	e := NewExecutor(ts.URL, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, &protocol.HTTPRequest{ID: "x", Method: "GET", Path: "/"})
	assert.Error(t, err)
}
