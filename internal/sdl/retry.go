package sdl

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Backoff defaults. The first retry waits defaultInitialBackoff, each
// later retry doubles the wait up to defaultMaxBackoff, and every wait
// adds a uniform random jitter below defaultJitter.
const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultJitter         = time.Second
)

// RetryPolicy retries transport failures with capped exponential
// backoff. HTTP status errors are terminal: the server answered, so
// re-sending the same request cannot help. Context cancellation always
// wins over a pending retry.
type RetryPolicy struct {
	maxRetries int
	initial    time.Duration
	max        time.Duration
	jitter     time.Duration
	rng        *rand.Rand
	logger     *slog.Logger
}

// NewRetryPolicy builds a policy that runs an operation at most
// maxRetries+1 times. A nil rng gets a randomly seeded source; tests
// inject a fixed seed for deterministic jitter.
func NewRetryPolicy(maxRetries int, rng *rand.Rand, logger *slog.Logger) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryPolicy{
		maxRetries: maxRetries,
		initial:    defaultInitialBackoff,
		max:        defaultMaxBackoff,
		jitter:     defaultJitter,
		rng:        rng,
		logger:     logger,
	}
}

// Do runs op until it succeeds, fails terminally, or the attempt budget
// is spent. Only transport failures are retried.
func (p *RetryPolicy) Do(ctx context.Context, name string, op func() error) error {
	var lastErr error
	maxAttempts := p.maxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			if err := sleepContext(ctx, p.backoff(attempt)); err != nil {
				return err
			}
			p.logger.Info("retrying request", "op", name, "attempt", attempt+1)
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		var transportErr *TransportError
		if !errors.As(lastErr, &transportErr) {
			return lastErr
		}
		p.logger.Warn("request attempt failed", "op", name, "attempt", attempt+1, "error", lastErr)
	}
	return lastErr
}

// backoff returns the wait before retry number attempt (1-based).
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	d := p.initial << uint(attempt-1)
	if d > p.max || d <= 0 {
		d = p.max
	}
	if p.jitter > 0 {
		d += time.Duration(p.rng.Int64N(int64(p.jitter)))
	}
	return d
}

// sleepContext pauses for d or until ctx is done, whichever comes
// first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
