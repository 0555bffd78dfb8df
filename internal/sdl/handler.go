package sdl

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ResultProcessor folds incremental response pages into a query-kind
// specific result. Implementations own the definition of "partial":
// the shared handler machinery has no idea what rows mean.
type ResultProcessor interface {
	ProcessPage(page *QueryResult) error
	IsResultPartial() (bool, error)
}

// HandlerConfig tunes polling for one query lifecycle.
type HandlerConfig struct {
	// PollTimeout is the wall-clock budget for PollUntilComplete.
	PollTimeout time.Duration
	// PollInterval is the pause between pings. The server holds query
	// state for roughly 30 seconds, so the interval must stay well
	// under that.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// queryState tracks progress of one in-flight query.
type queryState struct {
	queryID        string
	forwardTag     string
	totalSteps     int
	stepsCompleted int
	lastStepSeen   int
	submitted      bool
}

func (s *queryState) update(page *QueryResult) {
	s.totalSteps = page.TotalSteps
	s.stepsCompleted = page.StepsCompleted
}

// QueryHandler drives one query through submit, poll, and delete. It is
// single-use: after completion or failure the underlying client is
// closed and the handler is spent. Not safe for concurrent use.
type QueryHandler struct {
	client    *Client
	authToken string
	processor ResultProcessor
	logger    *slog.Logger

	pollTimeout  time.Duration
	pollInterval time.Duration

	state queryState
}

// NewQueryHandler wires a handler to an open client. The processor may
// be nil for callers that only care about progress.
func NewQueryHandler(client *Client, authToken string, processor ResultProcessor, cfg HandlerConfig) *QueryHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &QueryHandler{
		client:       client,
		authToken:    authToken,
		processor:    processor,
		logger:       logger,
		pollTimeout:  pollTimeout,
		pollInterval: pollInterval,
	}
}

// Submit launches the query. Submitting twice is a programmer error.
// The submit response is itself a result page and may already complete
// the query, in which case the server state is released immediately.
func (h *QueryHandler) Submit(ctx context.Context, req SubmitRequest) error {
	if err := h.ensureClientOpen(); err != nil {
		return err
	}
	if h.state.submitted {
		return h.failAndClose(ErrPrecondition("query already submitted"))
	}

	page, forwardTag, err := h.client.Submit(ctx, h.authToken, req)
	if err != nil {
		h.closeClient()
		return err
	}

	h.state.queryID = page.ID
	h.state.forwardTag = forwardTag
	h.state.submitted = true
	return h.consumePage(ctx, page)
}

// Ping fetches the next page. Forbidden before submit, without a
// forward tag, or once the query has completed.
func (h *QueryHandler) Ping(ctx context.Context) (*QueryResult, error) {
	if err := h.ensureClientOpen(); err != nil {
		return nil, err
	}
	if !h.state.submitted || h.state.queryID == "" {
		return nil, h.failAndClose(ErrPrecondition("query has not been submitted"))
	}
	if h.state.forwardTag == "" {
		return nil, h.failAndClose(ErrPrecondition("missing forward tag for query %s", h.state.queryID))
	}
	if h.Completed() {
		return nil, h.failAndClose(ErrPrecondition("query %s already completed, nothing to ping", h.state.queryID))
	}

	page, err := h.client.Ping(ctx, h.authToken, h.state.queryID, h.state.forwardTag, h.state.lastStepSeen)
	if err != nil {
		h.closeClient()
		return nil, fmt.Errorf("ping query %s: %w", h.state.queryID, err)
	}
	if err := h.consumePage(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// PollUntilComplete pings until the server reports every step seen,
// pausing pollInterval between pings. The wall-clock budget is checked
// after each pause; on expiry the query is torn down and a timeout
// error reports the elapsed time.
func (h *QueryHandler) PollUntilComplete(ctx context.Context) error {
	start := time.Now()
	for !h.Completed() {
		if _, err := h.Ping(ctx); err != nil {
			return err
		}
		if h.Completed() {
			break
		}
		if err := sleepContext(ctx, h.pollInterval); err != nil {
			return err
		}
		if elapsed := time.Since(start); elapsed > h.pollTimeout {
			h.teardown(ctx)
			return &TimeoutError{Elapsed: elapsed, Budget: h.pollTimeout}
		}
	}
	return nil
}

// Delete removes the query's server-side state. Same preconditions as
// Ping, minus the completion check.
func (h *QueryHandler) Delete(ctx context.Context) (bool, error) {
	if err := h.ensureClientOpen(); err != nil {
		return false, err
	}
	if !h.state.submitted || h.state.queryID == "" {
		return false, h.failAndClose(ErrPrecondition("query has not been submitted"))
	}
	if h.state.forwardTag == "" {
		return false, h.failAndClose(ErrPrecondition("missing forward tag for query %s", h.state.queryID))
	}

	ok, err := h.client.Delete(ctx, h.authToken, h.state.queryID, h.state.forwardTag)
	if err != nil {
		h.closeClient()
		return false, err
	}
	return ok, nil
}

// Completed reports whether every step the server announced has been
// seen. Always false before the first response.
func (h *QueryHandler) Completed() bool {
	return h.state.submitted && h.state.lastStepSeen == h.state.totalSteps
}

// QueryID returns the server-issued query identifier, empty before
// submission.
func (h *QueryHandler) QueryID() string {
	return h.state.queryID
}

// Steps returns the latest progress pair.
func (h *QueryHandler) Steps() (completed, total int) {
	return h.state.stepsCompleted, h.state.totalSteps
}

// IsResultPartial reports whether the accumulated result is missing
// server-side data, per the processor's indicators.
func (h *QueryHandler) IsResultPartial() (bool, error) {
	if h.processor == nil {
		return false, ErrPrecondition("no result processor configured")
	}
	return h.processor.IsResultPartial()
}

// consumePage folds one response page into the query state and hands it
// to the processor. Completion releases the server-side state eagerly
// instead of waiting out the TTL.
func (h *QueryHandler) consumePage(ctx context.Context, page *QueryResult) error {
	h.state.update(page)
	h.state.lastStepSeen = page.StepsCompleted
	h.logger.Debug("query progress",
		"query_id", h.state.queryID,
		"steps_completed", h.state.stepsCompleted,
		"total_steps", h.state.totalSteps)

	if h.processor != nil {
		if err := h.processor.ProcessPage(page); err != nil {
			h.closeClient()
			return err
		}
	}

	if h.Completed() {
		if _, err := h.client.Delete(ctx, h.authToken, h.state.queryID, h.state.forwardTag); err != nil {
			h.closeClient()
			return err
		}
		h.closeClient()
	}
	return nil
}

// teardown releases server-side state best-effort, then the transport.
func (h *QueryHandler) teardown(ctx context.Context) {
	if h.state.submitted && h.state.queryID != "" && h.state.forwardTag != "" && !h.client.IsClosed() {
		if _, err := h.client.Delete(ctx, h.authToken, h.state.queryID, h.state.forwardTag); err != nil {
			h.logger.Warn("deleting query during teardown failed",
				"query_id", h.state.queryID, "error", err)
		}
	}
	h.closeClient()
}

func (h *QueryHandler) ensureClientOpen() error {
	if h.client.IsClosed() {
		return ErrPrecondition("query client is closed")
	}
	return nil
}

// failAndClose tears down the transport before surfacing a handler
// error, so a broken lifecycle never leaks an open client.
func (h *QueryHandler) failAndClose(err error) error {
	h.closeClient()
	return err
}

// closeClient releases the transport outside the caller's context:
// cleanup must run even when the surrounding operation was canceled.
func (h *QueryHandler) closeClient() {
	if h.client.IsClosed() {
		return
	}
	if err := h.client.Close(context.Background()); err != nil {
		h.logger.Warn("closing query client failed", "error", err)
	}
}
