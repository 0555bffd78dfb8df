package sdl

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// ForwardTagHeader carries the routing tag the query service issues at
// submit time. Every follow-up request for the same query must echo it
// so the load balancer reaches the node holding the query state.
const ForwardTagHeader = "X-Dataset-Query-Forward-Tag"

const queriesPath = "/v2/api/queries"

// ClientConfig configures a Client. Zero-value timeouts fall back to
// 30 seconds.
type ClientConfig struct {
	// BaseURL is the service root, e.g. "https://example.com/sdl".
	BaseURL string
	// HTTPTimeout bounds connection establishment.
	HTTPTimeout time.Duration
	// MaxTimeout bounds a whole request including the response body.
	MaxTimeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// SkipTLSVerify disables certificate verification. Rejected outside
	// development environments.
	SkipTLSVerify bool
	Environment   string
	UserAgent     string
	Logger        *slog.Logger
	// Rand seeds retry jitter; nil gets a random seed.
	Rand *rand.Rand
}

// Client speaks the asynchronous query wire protocol: submit a query,
// ping for incremental progress, delete the server-side state. It is
// safe for concurrent use until Close.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	retry         *RetryPolicy
	logger        *slog.Logger
	userAgent     string
	environment   string
	skipTLSVerify bool
	closed        atomic.Bool

	// cleanup releases transport resources; replaced in tests.
	cleanup func() error
}

// NewClient validates the TLS posture and builds a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, ErrPrecondition("base URL is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := validateTLSBypassClient(cfg.SkipTLSVerify, baseURL, cfg.Environment, logger); err != nil {
		return nil, err
	}

	httpTimeout := cfg.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = 30 * time.Second
	}
	maxTimeout := cfg.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "sdlq"
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: httpTimeout,
		}).DialContext,
		TLSHandshakeTimeout: httpTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.SkipTLSVerify, //nolint:gosec
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   maxTimeout,
		},
		retry:         NewRetryPolicy(cfg.MaxRetries, cfg.Rand, logger),
		logger:        logger,
		userAgent:     userAgent,
		environment:   cfg.Environment,
		skipTLSVerify: cfg.SkipTLSVerify,
	}
	c.cleanup = func() error {
		transport.CloseIdleConnections()
		return nil
	}
	return c, nil
}

// Submit starts a query and returns the first response page together
// with the routing tag for all follow-up requests.
func (c *Client) Submit(ctx context.Context, authToken string, req SubmitRequest) (*QueryResult, string, error) {
	if c.closed.Load() {
		return nil, "", ErrPrecondition("client is closed")
	}
	payload, err := json.Marshal(req.body())
	if err != nil {
		return nil, "", fmt.Errorf("encode submit request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", bearerValue(authToken))

	_, body, respHeader, err := c.doRequest(ctx, "submit", http.MethodPost, c.baseURL+queriesPath, payload, header)
	if err != nil {
		return nil, "", err
	}
	forwardTag := respHeader.Get(ForwardTagHeader)
	if forwardTag == "" {
		return nil, "", &MalformedResponseError{Op: "submit", Err: fmt.Errorf("response missing %s header", ForwardTagHeader)}
	}
	result, err := decodeQueryResult(body)
	if err != nil {
		return nil, "", &MalformedResponseError{Op: "submit", Err: err}
	}
	c.logger.Debug("query submitted",
		"query_id", result.ID,
		"steps_completed", result.StepsCompleted,
		"total_steps", result.TotalSteps)
	return result, forwardTag, nil
}

// Ping fetches the next page of progress for a running query.
func (c *Client) Ping(ctx context.Context, authToken, queryID, forwardTag string, lastStepSeen int) (*QueryResult, error) {
	if c.closed.Load() {
		return nil, ErrPrecondition("client is closed")
	}
	if forwardTag == "" {
		return nil, ErrPrecondition("forward tag is required to ping query %s", queryID)
	}

	header := http.Header{}
	header.Set("Authorization", bearerValue(authToken))
	header.Set(ForwardTagHeader, forwardTag)

	reqURL := fmt.Sprintf("%s%s/%s?lastStepSeen=%d", c.baseURL, queriesPath, url.PathEscape(queryID), lastStepSeen)
	_, body, _, err := c.doRequest(ctx, "ping", http.MethodGet, reqURL, nil, header)
	if err != nil {
		return nil, err
	}
	result, err := decodeQueryResult(body)
	if err != nil {
		return nil, &MalformedResponseError{Op: "ping", Err: err}
	}
	return result, nil
}

// Delete removes the server-side query state. Only a 204 counts as
// success; any other status is logged and reported as false without an
// error, since the ~30s server TTL reclaims the state anyway.
func (c *Client) Delete(ctx context.Context, authToken, queryID, forwardTag string) (bool, error) {
	if c.closed.Load() {
		return false, ErrPrecondition("client is closed")
	}
	if forwardTag == "" {
		return false, ErrPrecondition("forward tag is required to delete query %s", queryID)
	}

	header := http.Header{}
	header.Set("Authorization", bearerValue(authToken))
	header.Set(ForwardTagHeader, forwardTag)

	reqURL := fmt.Sprintf("%s%s/%s", c.baseURL, queriesPath, url.PathEscape(queryID))
	status, _, _, err := c.doRequest(ctx, "delete", http.MethodDelete, reqURL, nil, header)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			c.logger.Warn("query delete rejected", "query_id", queryID, "status", statusErr.StatusCode)
			return false, nil
		}
		return false, err
	}
	if status != http.StatusNoContent {
		c.logger.Warn("query delete returned unexpected status", "query_id", queryID, "status", status)
		return false, nil
	}
	c.logger.Debug("query deleted", "query_id", queryID)
	return true, nil
}

// Close releases transport resources. It is idempotent, and a context
// already canceled propagates before any state changes. Cleanup
// failures are logged; they surface as errors only in development
// environments.
func (c *Client) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.cleanup(); err != nil {
		c.logger.Error("client cleanup failed", "error", err)
		if IsDevelopmentEnvironment(c.environment) {
			return err
		}
	}
	return nil
}

// IsClosed reports whether Close has run.
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// doRequest sends one HTTP request under the retry policy. The whole
// exchange, body read included, happens inside each attempt so a
// connection dropped mid-body is retried like any other transport
// failure. Statuses >= 400 come back as a *StatusError.
func (c *Client) doRequest(ctx context.Context, op, method, rawURL string, body []byte, header http.Header) (int, []byte, http.Header, error) {
	var (
		status     int
		respBody   []byte
		respHeader http.Header
	)
	err := c.retry.Do(ctx, op, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return fmt.Errorf("build %s request: %w", op, err)
		}
		for key, values := range header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		req.Header.Set("User-Agent", c.userAgent)

		if c.skipTLSVerify {
			logTLSBypassRequest(c.logger, method, rawURL)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		defer resp.Body.Close() //nolint:errcheck

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		status = resp.StatusCode
		respBody = b
		respHeader = resp.Header
		if status >= http.StatusBadRequest {
			return &StatusError{Op: op, StatusCode: status}
		}
		return nil
	})
	if err != nil {
		return status, respBody, respHeader, err
	}
	return status, respBody, respHeader, nil
}

func bearerValue(token string) string {
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}
