package pending

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/relay/relayerr"
	"conduit/internal/shared/protocol"
)

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()

	handle, err := r.Register("u1", "req-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count("u1"))
	assert.Equal(t, int64(1), r.Total())

	resp := &protocol.HTTPResponse{ID: "req-1", Status: 200}
	r.Resolve("u1", "req-1", Outcome{Response: resp})

	outcome := <-handle.Done()
	require.NotNil(t, outcome.Response)
	assert.Equal(t, 200, outcome.Response.Status)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, 0, r.Count("u1"))
	assert.Equal(t, int64(0), r.Total())
}

func TestRegisterDuplicateID(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register("u1", "req-1", time.Minute)
	require.NoError(t, err)

	// Same id again fails only the new registration
	_, err = r.Register("u1", "req-1", time.Minute)
	assert.ErrorIs(t, err, relayerr.ErrDuplicateID)
	assert.Equal(t, 1, r.Count("u1"))

	// The same id is fine under a different user partition
	_, err = r.Register("u2", "req-1", time.Minute)
	assert.NoError(t, err)
}

func TestTimeoutResolvesEntry(t *testing.T) {
	r := NewRegistry()

	handle, err := r.Register("u1", "req-1", 50*time.Millisecond)
	require.NoError(t, err)

	select {
	case outcome := <-handle.Done():
		assert.ErrorIs(t, outcome.Err, relayerr.ErrRequestTimeout)
		assert.Nil(t, outcome.Response)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed-out request never resolved")
	}

	assert.Equal(t, 0, r.Count("u1"))
}

func TestLateResponseAfterTimeoutIsDiscarded(t *testing.T) {
	r := NewRegistry()

	handle, err := r.Register("u1", "req-1", 20*time.Millisecond)
	require.NoError(t, err)

	outcome := <-handle.Done()
	require.ErrorIs(t, outcome.Err, relayerr.ErrRequestTimeout)

	// The real response arrives after the timeout already resolved the
	// entry; it must be dropped without blocking or panicking
	r.Resolve("u1", "req-1", Outcome{Response: &protocol.HTTPResponse{ID: "req-1", Status: 200}})

	select {
	case extra := <-handle.Done():
		t.Fatalf("Expected exactly one outcome, got a second: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResolveExactlyOnceUnderConcurrency(t *testing.T) {
	r := NewRegistry()

	handle, err := r.Register("u1", "req-1", time.Minute)
	require.NoError(t, err)

	// Race many resolutions; only one may deliver
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Resolve("u1", "req-1", Outcome{Response: &protocol.HTTPResponse{ID: "req-1", Status: 200 + n}})
		}(i)
	}
	wg.Wait()

	<-handle.Done()
	select {
	case extra := <-handle.Done():
		t.Fatalf("Expected exactly one outcome, got a second: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDrainUser(t *testing.T) {
	r := NewRegistry()

	handles := make([]*Handle, 0, 3)
	for _, id := range []string{"a", "b", "c"} {
		h, err := r.Register("u1", id, time.Minute)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	other, err := r.Register("u2", "d", time.Minute)
	require.NoError(t, err)

	r.DrainUser("u1", relayerr.ErrConnectionLost)

	for _, h := range handles {
		outcome := <-h.Done()
		assert.ErrorIs(t, outcome.Err, relayerr.ErrConnectionLost)
	}
	assert.Equal(t, 0, r.Count("u1"))

	// Other users are untouched
	assert.Equal(t, 1, r.Count("u2"))
	select {
	case <-other.Done():
		t.Fatal("Drain must not touch other users' requests")
	default:
	}
}

func TestDrainAll(t *testing.T) {
	r := NewRegistry()

	h1, _ := r.Register("u1", "a", time.Minute)
	h2, _ := r.Register("u2", "b", time.Minute)

	reason := errors.New("relay stopping")
	r.DrainAll(reason)

	assert.ErrorIs(t, (<-h1.Done()).Err, reason)
	assert.ErrorIs(t, (<-h2.Done()).Err, reason)
	assert.Equal(t, int64(0), r.Total())
}

func TestConcurrentRegistrationsAcrossUsers(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	users := []string{"u1", "u2", "u3", "u4"}
	perUser := 50

	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			for i := 0; i < perUser; i++ {
				_, err := r.Register(userID, protocol.NewID(), time.Minute)
				assert.NoError(t, err)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, int64(len(users)*perUser), r.Total())
	for _, u := range users {
		assert.Equal(t, perUser, r.Count(u))
	}
}
