package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	purgeEvery   = 5 * time.Minute
	clientMaxAge = 10 * time.Minute
)

// RateLimitConfig holds configuration for the rate limiter middleware.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate limit (tokens added per second).
	RequestsPerSecond float64
	// Burst is the maximum number of requests allowed in a burst.
	Burst int
}

// clientLimiter tracks a per-client rate limiter and when it was last seen
// (unix nanos, updated atomically).
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter enforces a per-client token-bucket rate limit keyed by remote
// IP. Stale client entries are purged inline during request handling, so no
// background goroutine is needed.
type RateLimiter struct {
	cfg       RateLimitConfig
	clients   sync.Map // map[string]*clientLimiter
	lastPurge atomic.Int64
}

// NewRateLimiter builds a rate limiter from the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{cfg: cfg}
	rl.lastPurge.Store(time.Now().UnixNano())
	return rl
}

// Middleware wraps next with the rate limit. When the limit is exceeded it
// responds with 429 Too Many Requests and sets standard rate-limit headers.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.maybePurge()

		limiter := rl.limiterFor(clientIP(r))

		reservation := limiter.Reserve()
		if !reservation.OK() {
			// Limiter cannot grant the request even with infinite wait.
			writeTooManyRequests(w, 0)
			return
		}

		delay := reservation.Delay()
		if delay > 0 {
			// Request exceeds the rate: cancel the reservation and reject.
			reservation.Cancel()
			retryAfter := int(delay.Seconds()) + 1
			writeTooManyRequests(w, retryAfter)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	if v, ok := rl.clients.Load(ip); ok {
		cl := v.(*clientLimiter)
		cl.lastSeen.Store(time.Now().UnixNano())
		return cl.limiter
	}
	cl := &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
	cl.lastSeen.Store(time.Now().UnixNano())
	if existing, loaded := rl.clients.LoadOrStore(ip, cl); loaded {
		return existing.(*clientLimiter).limiter
	}
	return cl.limiter
}

// maybePurge drops clients idle longer than clientMaxAge, at most once per
// purgeEvery. The CompareAndSwap ensures a single goroutine does the sweep.
func (rl *RateLimiter) maybePurge() {
	now := time.Now()
	last := rl.lastPurge.Load()
	if now.UnixNano()-last < int64(purgeEvery) {
		return
	}
	if !rl.lastPurge.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	rl.purgeStale(now, clientMaxAge)
}

func (rl *RateLimiter) purgeStale(now time.Time, maxAge time.Duration) int {
	purged := 0
	rl.clients.Range(func(key, value any) bool {
		cl := value.(*clientLimiter)
		if now.UnixNano()-cl.lastSeen.Load() > int64(maxAge) {
			rl.clients.Delete(key)
			purged++
		}
		return true
	})
	return purged
}

// clientIP returns the client address from RemoteAddr with the port
// stripped. X-Forwarded-For is client-controlled and never consulted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    429,
		"message": "rate limit exceeded",
	})
}
