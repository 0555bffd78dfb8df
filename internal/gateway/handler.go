// Package gateway exposes the query client over a local HTTP facade:
// one endpoint runs the full submit/poll/accumulate lifecycle against
// the upstream service, the rest serve run history and health. It is
// separate from cmd/gateway so integration tests can spin up an
// in-process instance via httptest.NewServer.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sdlq/internal/config"
	"sdlq/internal/history"
	"sdlq/internal/middleware"
	"sdlq/internal/sdl"
	"sdlq/internal/useragent"
)

// Handler serves the gateway routes. Each run request builds its own
// single-use client and query handler; the handler itself is safe for
// concurrent use.
type Handler struct {
	settings  *config.Config
	store     *history.Store
	userAgent string
	logger    *slog.Logger
	startTime time.Time
}

// RunQueryRequest is the body of POST /v1/queries/run. Omitted times
// default to the last 24 hours ending now.
type RunQueryRequest struct {
	Query         string   `json:"query"`
	QueryType     string   `json:"queryType,omitempty"`
	StartTime     string   `json:"startTime,omitempty"`
	EndTime       string   `json:"endTime,omitempty"`
	Tenant        *bool    `json:"tenant,omitempty"`
	AccountIDs    []string `json:"accountIds,omitempty"`
	PollTimeoutMs int64    `json:"pollTimeoutMs,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

// RunQueryResponse carries the accumulated table for a completed run.
type RunQueryResponse struct {
	Columns        []sdl.Column `json:"columns"`
	Values         [][]any      `json:"values"`
	MatchingEvents float64      `json:"matchingEvents"`
	Warnings       []string     `json:"warnings"`
	Partial        bool         `json:"partial"`
	Truncated      bool         `json:"truncated"`
	ElapsedMs      int64        `json:"elapsedMs"`
	RunID          string       `json:"runId,omitempty"`
}

// HistoryRun is the API shape of one recorded run.
type HistoryRun struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	QueryType    string    `json:"queryType"`
	StartTime    string    `json:"startTime"`
	EndTime      string    `json:"endTime"`
	Status       string    `json:"status"`
	RowCount     int64     `json:"rowCount"`
	MatchCount   float64   `json:"matchCount"`
	Truncated    bool      `json:"truncated"`
	Partial      bool      `json:"partial"`
	ElapsedMs    int64     `json:"elapsedMs"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func historyRunToAPI(run *history.Run) HistoryRun {
	return HistoryRun{
		ID:           run.ID,
		Query:        run.Query,
		QueryType:    run.QueryType,
		StartTime:    run.StartTime,
		EndTime:      run.EndTime,
		Status:       run.Status,
		RowCount:     run.RowCount,
		MatchCount:   run.MatchCount,
		Truncated:    run.Truncated,
		Partial:      run.Partial,
		ElapsedMs:    run.ElapsedMS,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
	}
}

func (h *Handler) handleRunQuery(w http.ResponseWriter, r *http.Request) {
	var req RunQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusUnprocessableEntity, "query is required")
		return
	}
	queryType := req.QueryType
	if queryType == "" {
		queryType = "PQ"
	}
	if queryType != "PQ" {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("query type %q is not supported", req.QueryType))
		return
	}

	startParam := req.StartTime
	if startParam == "" {
		startParam = "24h"
	}
	start, err := sdl.NormalizeTimeParam(startParam)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	end := sdl.DurationParam(0)
	if req.EndTime != "" {
		end, err = sdl.NormalizeTimeParam(req.EndTime)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	// Per-request poll budget override, capped at the query TTL so one
	// request cannot hold a worker longer than server state would live.
	pollTimeout := h.settings.PollTimeout()
	if req.PollTimeoutMs > 0 {
		requested := time.Duration(req.PollTimeoutMs) * time.Millisecond
		if ttl := h.settings.QueryTTL(); requested > ttl {
			requested = ttl
		}
		pollTimeout = requested
	}

	limit := h.settings.MaxQueryResults
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}

	logger := h.logger.With("request_id", middleware.RequestIDFromContext(r.Context()))

	client, err := sdl.NewClient(h.settings.ClientConfig(h.userAgent, logger))
	if err != nil {
		h.respondError(w, logger, err)
		return
	}
	pq := sdl.NewPowerQueryHandler(client, h.settings.AuthToken, limit, sdl.HandlerConfig{
		PollTimeout:  pollTimeout,
		PollInterval: h.settings.PollInterval(),
		Logger:       logger,
	})

	startedAt := time.Now()
	runErr := pq.SubmitPowerQuery(r.Context(), sdl.PowerQueryRequest{
		StartTime:  start,
		EndTime:    end,
		Query:      req.Query,
		Tenant:     req.Tenant,
		AccountIDs: req.AccountIDs,
	})
	var result *sdl.TableResult
	if runErr == nil {
		result, runErr = pq.PollUntilComplete(r.Context())
	}
	elapsed := time.Since(startedAt)

	run := &history.Run{
		Query:     req.Query,
		QueryType: queryType,
		StartTime: start,
		EndTime:   end,
		ElapsedMS: elapsed.Milliseconds(),
	}

	if runErr != nil {
		run.Status = history.StatusFailed
		var timeoutErr *sdl.TimeoutError
		if errors.As(runErr, &timeoutErr) {
			run.Status = history.StatusTimeout
		}
		msg := runErr.Error()
		run.ErrorMessage = &msg
		h.recordRun(logger, run)
		h.respondError(w, logger, runErr)
		return
	}

	partial, _ := pq.IsResultPartial()

	run.Status = history.StatusSucceeded
	run.RowCount = int64(len(result.Values))
	run.MatchCount = result.MatchCount
	run.Truncated = result.TruncatedAtLimit
	run.Partial = partial
	recorded := h.recordRun(logger, run)

	resp := RunQueryResponse{
		Columns:        result.Columns,
		Values:         result.Values,
		MatchingEvents: result.MatchCount,
		Warnings:       result.Warnings,
		Partial:        partial,
		Truncated:      result.TruncatedAtLimit,
		ElapsedMs:      elapsed.Milliseconds(),
	}
	if resp.Columns == nil {
		resp.Columns = []sdl.Column{}
	}
	if resp.Values == nil {
		resp.Values = [][]any{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	if recorded != nil {
		resp.RunID = recorded.ID
	}

	logger.Info("query run completed",
		"rows", len(resp.Values),
		"matching_events", resp.MatchingEvents,
		"partial", resp.Partial,
		"truncated", resp.Truncated,
		"elapsed_ms", resp.ElapsedMs)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusInternalServerError, "history store is not configured")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.respondError(w, h.logger, err)
		return
	}
	out := make([]HistoryRun, len(runs))
	for i := range runs {
		out[i] = historyRunToAPI(&runs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusInternalServerError, "history store is not configured")
		return
	}
	run, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, historyRunToAPI(run))
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"version":        useragent.Version(),
	})
}

// recordRun persists a run outside the request context: history must
// survive a caller that hung up mid-poll.
func (h *Handler) recordRun(logger *slog.Logger, run *history.Run) *history.Run {
	if h.store == nil {
		return nil
	}
	recorded, err := h.store.Record(context.Background(), run)
	if err != nil {
		logger.Warn("recording query run failed", "error", err)
		return nil
	}
	return recorded
}

func (h *Handler) respondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := httpStatusFromError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request rejected", "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"code":    status,
		"message": message,
	})
}
