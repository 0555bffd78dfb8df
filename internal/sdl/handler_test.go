package sdl

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, srv *httptest.Server, cfg HandlerConfig) (*QueryHandler, *Client) {
	t.Helper()
	c := newTestClient(t, srv)
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	h := NewQueryHandler(c, testAuthToken, nil, cfg)
	return h, c
}

// === Lifecycle ===

func TestQueryHandler_Lifecycle(t *testing.T) {
	t.Parallel()
	f, srv := newFakeSDL(t,
		pageJSON("q-1", 1, 3, ""),
		pageJSON("q-1", 2, 3, ""),
		pageJSON("q-1", 3, 3, ""),
	)
	h, c := newTestHandler(t, srv, HandlerConfig{})

	require.NoError(t, h.Submit(context.Background(), SubmitRequest{
		StartTime: "1h",
		EndTime:   "0",
		QueryType: QueryTypeLog,
	}))
	assert.Equal(t, "q-1", h.QueryID())
	assert.False(t, h.Completed(), "one of three steps seen")

	_, err := h.Ping(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Completed())

	_, err = h.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Completed())

	completed, total := h.Steps()
	assert.Equal(t, 3, completed)
	assert.Equal(t, 3, total)

	_, _, pings, deletes := f.counts()
	assert.Equal(t, 2, pings)
	assert.Equal(t, 1, deletes, "completion must release server state")
	assert.True(t, c.IsClosed(), "completion must close the transport")

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"1", "2"}, f.lastStepSeen, "each ping reports the last step seen")
}

func TestQueryHandler_CompletedAtSubmit(t *testing.T) {
	t.Parallel()
	f, srv := newFakeSDL(t, pageJSON("q-1", 3, 3, ""))
	h, c := newTestHandler(t, srv, HandlerConfig{})

	require.NoError(t, h.Submit(context.Background(), SubmitRequest{
		StartTime: "1h",
		EndTime:   "0",
		QueryType: QueryTypeLog,
	}))

	assert.True(t, h.Completed())
	_, _, pings, deletes := f.counts()
	assert.Zero(t, pings)
	assert.Equal(t, 1, deletes)
	assert.True(t, c.IsClosed())

	// Polling a completed query is a no-op, not an error.
	require.NoError(t, h.PollUntilComplete(context.Background()))
	_, _, pings, _ = f.counts()
	assert.Zero(t, pings)
}

// === Preconditions ===

func TestQueryHandler_SubmitTwice(t *testing.T) {
	t.Parallel()
	_, srv := newFakeSDL(t, pageJSON("q-1", 1, 3, ""))
	h, c := newTestHandler(t, srv, HandlerConfig{})

	require.NoError(t, h.Submit(context.Background(), SubmitRequest{
		StartTime: "1h",
		EndTime:   "0",
		QueryType: QueryTypeLog,
	}))

	err := h.Submit(context.Background(), SubmitRequest{
		StartTime: "1h",
		EndTime:   "0",
		QueryType: QueryTypeLog,
	})
	var preErr *PreconditionError
	require.ErrorAs(t, err, &preErr)
	assert.True(t, c.IsClosed(), "a lifecycle violation tears the client down")
}

func TestQueryHandler_PingBeforeSubmit(t *testing.T) {
	t.Parallel()
	f, srv := newFakeSDL(t, pageJSON("q-1", 1, 3, ""))
	h, c := newTestHandler(t, srv, HandlerConfig{})

	_, err := h.Ping(context.Background())
	var preErr *PreconditionError
	require.ErrorAs(t, err, &preErr)
	assert.True(t, c.IsClosed())

	_, _, pings, _ := f.counts()
	assert.Zero(t, pings)
}

func TestQueryHandler_PingAfterCompletion(t *testing.T) {
	t.Parallel()
	_, srv := newFakeSDL(t, pageJSON("q-1", 3, 3, ""))
	h, _ := newTestHandler(t, srv, HandlerConfig{})

	require.NoError(t, h.Submit(context.Background(), SubmitRequest{
		StartTime: "1h",
		EndTime:   "0",
		QueryType: QueryTypeLog,
	}))
	require.True(t, h.Completed())

	_, err := h.Ping(context.Background())
	var preErr *PreconditionError
	require.ErrorAs(t, err, &preErr)
}

func TestQueryHandler_DeleteBeforeSubmit(t *testing.T) {
	t.Parallel()
	_, srv := newFakeSDL(t, pageJSON("q-1", 1, 3, ""))
	h, c := newTestHandler(t, srv, HandlerConfig{})

	_, err := h.Delete(context.Background())
	var preErr *PreconditionError
	require.ErrorAs(t, err, &preErr)
	assert.True(t, c.IsClosed())
}

// === Polling ===

func TestQueryHandler_PollUntilComplete(t *testing.T) {
	t.Parallel()
	f, srv := newFakeSDL(t,
		pageJSON("q-1", 0, 3, ""),
		pageJSON("q-1", 1, 3, ""),
		pageJSON("q-1", 2, 3, ""),
		pageJSON("q-1", 3, 3, ""),
	)
	h, c := newTestHandler(t, srv, HandlerConfig{
		PollTimeout:  5 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})

	require.NoError(t, h.Submit(context.Background(), SubmitRequest{
		StartTime: "1h",
		EndTime:   "0",
		QueryType: QueryTypeLog,
	}))
	require.NoError(t, h.PollUntilComplete(context.Background()))

	assert.True(t, h.Completed())
	_, _, pings, deletes := f.counts()
	assert.Equal(t, 3, pings)
	assert.Equal(t, 1, deletes)
	assert.True(t, c.IsClosed())
}

func TestQueryHandler_PollTimeout(t *testing.T) {
	t.Parallel()
	f, srv := newFakeSDL(t,
		pageJSON("q-1", 0, 3, ""),
		pageJSON("q-1", 1, 3, ""), // repeats forever, never completing
	)
	h, c := newTestHandler(t, srv, HandlerConfig{
		PollTimeout:  200 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
	})

	require.NoError(t, h.Submit(context.Background(), SubmitRequest{
		StartTime: "1h",
		EndTime:   "0",
		QueryType: QueryTypeLog,
	}))

	start := time.Now()
	err := h.PollUntilComplete(context.Background())
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.GreaterOrEqual(t, timeoutErr.Elapsed, 200*time.Millisecond)
	assert.Contains(t, err.Error(), "seconds")

	// The budget is milliseconds: 200ms must not be read as 200s.
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	_, _, _, deletes := f.counts()
	assert.Equal(t, 1, deletes, "timeout teardown must release server state")
	assert.True(t, c.IsClosed())
}

func TestQueryHandler_PollCancellation(t *testing.T) {
	t.Parallel()
	_, srv := newFakeSDL(t,
		pageJSON("q-1", 0, 3, ""),
		pageJSON("q-1", 1, 3, ""),
	)
	h, _ := newTestHandler(t, srv, HandlerConfig{
		PollTimeout:  time.Minute,
		PollInterval: 20 * time.Millisecond,
	})

	require.NoError(t, h.Submit(context.Background(), SubmitRequest{
		StartTime: "1h",
		EndTime:   "0",
		QueryType: QueryTypeLog,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	err := h.PollUntilComplete(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// === Transport failures ===

func TestQueryHandler_SubmitTransportFailureClosesClient(t *testing.T) {
	t.Parallel()
	f, srv := newFakeSDL(t, pageJSON("q-1", 1, 3, ""))
	f.dropNext = 100
	h, c := newTestHandler(t, srv, HandlerConfig{})

	err := h.Submit(context.Background(), SubmitRequest{
		StartTime: "1h",
		EndTime:   "0",
		QueryType: QueryTypeLog,
	})

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, c.IsClosed())
	assert.False(t, h.Completed())
}

// === Explicit delete ===

func TestQueryHandler_Delete(t *testing.T) {
	t.Parallel()
	f, srv := newFakeSDL(t, pageJSON("q-1", 1, 3, ""))
	h, c := newTestHandler(t, srv, HandlerConfig{})

	require.NoError(t, h.Submit(context.Background(), SubmitRequest{
		StartTime: "1h",
		EndTime:   "0",
		QueryType: QueryTypeLog,
	}))

	ok, err := h.Delete(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, c.IsClosed(), "an explicit delete leaves the client usable")

	_, _, _, deletes := f.counts()
	assert.Equal(t, 1, deletes)
}
