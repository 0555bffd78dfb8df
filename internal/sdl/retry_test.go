package sdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPolicy shrinks the backoff so tests measure attempts, not wall
// clock.
func newTestPolicy(t *testing.T, maxRetries int) *RetryPolicy {
	t.Helper()
	p := NewRetryPolicy(maxRetries, rand.New(rand.NewPCG(1, 2)), discardLogger())
	p.initial = time.Millisecond
	p.max = 5 * time.Millisecond
	p.jitter = 0
	return p
}

// === Attempt counting ===

func TestRetryPolicy_AttemptCounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		maxRetries  int
		failures    int
		wantCalls   int
		wantSuccess bool
	}{
		{"zero retries means exactly one attempt", 0, 10, 1, false},
		{"permanent failure spends maxRetries plus one", 3, 10, 4, false},
		{"two failures then success", 3, 2, 3, true},
		{"immediate success", 3, 0, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newTestPolicy(t, tt.maxRetries)

			calls := 0
			err := p.Do(context.Background(), "op", func() error {
				calls++
				if calls <= tt.failures {
					return &TransportError{Op: "op", Err: fmt.Errorf("boom %d", calls)}
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantSuccess {
				assert.NoError(t, err)
			} else {
				var transportErr *TransportError
				require.ErrorAs(t, err, &transportErr)
			}
		})
	}
}

// === Terminal errors ===

func TestRetryPolicy_StatusErrorsAreTerminal(t *testing.T) {
	t.Parallel()
	p := newTestPolicy(t, 5)

	calls := 0
	err := p.Do(context.Background(), "op", func() error {
		calls++
		return &StatusError{Op: "op", StatusCode: 500}
	})

	assert.Equal(t, 1, calls)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 500, statusErr.StatusCode)
}

func TestRetryPolicy_WrappedTransportErrorStillRetries(t *testing.T) {
	t.Parallel()
	p := newTestPolicy(t, 2)

	calls := 0
	err := p.Do(context.Background(), "op", func() error {
		calls++
		return fmt.Errorf("attempt failed: %w", &TransportError{Op: "op", Err: errors.New("conn reset")})
	})

	assert.Equal(t, 3, calls)
	assert.Error(t, err)
}

// === Cancellation ===

func TestRetryPolicy_ContextCanceledBeforeFirstAttempt(t *testing.T) {
	p := newTestPolicy(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := p.Do(ctx, "op", func() error {
		calls++
		return nil
	})

	assert.Equal(t, 0, calls)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_CancellationInterruptsBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewRetryPolicy(3, rand.New(rand.NewPCG(1, 2)), discardLogger())
	p.initial = time.Hour
	p.jitter = 0

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "op", func() error {
			calls++
			return &TransportError{Op: "op", Err: errors.New("service down")}
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

// === Backoff shape ===

func TestRetryPolicy_BackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(10, rand.New(rand.NewPCG(7, 9)), discardLogger())

	for attempt := 1; attempt <= 10; attempt++ {
		d := p.backoff(attempt)
		base := defaultInitialBackoff << uint(attempt-1)
		if base > defaultMaxBackoff || base <= 0 {
			base = defaultMaxBackoff
		}
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.Less(t, d, base+defaultJitter, "attempt %d", attempt)
	}
}
