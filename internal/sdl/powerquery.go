package sdl

import (
	"context"
	"math"
)

// PowerQueryHandler runs power queries and accumulates their tabular
// pages into a single result set bounded by maxQueryResults.
type PowerQueryHandler struct {
	*QueryHandler

	maxQueryResults int
	results         *TableResult
}

// PowerQueryRequest describes one power query submission. Zero values
// for ResultType, Frequency, and Priority mean TABLE, LOW, and LOW.
type PowerQueryRequest struct {
	StartTime  string
	EndTime    string
	Query      string
	ResultType PQResultType
	Frequency  PQFrequency
	Priority   QueryPriority
	Tenant     *bool
	AccountIDs []string
}

// NewPowerQueryHandler builds a handler whose accumulated rows are
// capped at maxQueryResults.
func NewPowerQueryHandler(client *Client, authToken string, maxQueryResults int, cfg HandlerConfig) *PowerQueryHandler {
	if maxQueryResults <= 0 {
		maxQueryResults = 10000
	}
	pq := &PowerQueryHandler{
		maxQueryResults: maxQueryResults,
		results: &TableResult{
			Values:  [][]any{},
			Columns: []Column{},
		},
	}
	pq.QueryHandler = NewQueryHandler(client, authToken, pq, cfg)
	return pq
}

// SubmitPowerQuery validates the request and launches it. Only TABLE
// results are supported.
func (h *PowerQueryHandler) SubmitPowerQuery(ctx context.Context, req PowerQueryRequest) error {
	resultType := req.ResultType
	if resultType == "" {
		resultType = PQResultTable
	}
	if resultType != PQResultTable {
		return ErrPrecondition("power query result type %s is not supported", resultType)
	}
	frequency := req.Frequency
	if frequency == "" {
		frequency = FrequencyLow
	}
	return h.Submit(ctx, SubmitRequest{
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Priority:   req.Priority,
		Tenant:     req.Tenant,
		AccountIDs: req.AccountIDs,
		PQ: &PQAttributes{
			Query:      req.Query,
			ResultType: resultType,
			Frequency:  frequency,
		},
	})
}

// PollUntilComplete polls to completion and returns the final table.
func (h *PowerQueryHandler) PollUntilComplete(ctx context.Context) (*TableResult, error) {
	if err := h.QueryHandler.PollUntilComplete(ctx); err != nil {
		return nil, err
	}
	return h.Results()
}

// Results returns the accumulated table once the query has completed.
func (h *PowerQueryHandler) Results() (*TableResult, error) {
	if !h.state.submitted {
		return nil, ErrPrecondition("query has not been submitted, no results available")
	}
	if !h.Completed() {
		return nil, ErrPrecondition("query has not completed, results are not final")
	}
	return h.results, nil
}

// ProcessPage folds one page into the accumulated table. Column
// descriptors, warnings, and the match count are authoritative on every
// page and always overwritten, even after the row cap stops row
// accumulation; rows append only up to the cap.
func (h *PowerQueryHandler) ProcessPage(page *QueryResult) error {
	if page.Data == nil {
		return nil
	}

	h.results.Columns = page.Data.Columns
	h.results.Warnings = page.Data.Warnings
	h.results.MatchCount = page.Data.MatchCount

	if page.Data.KeyColumns != nil {
		h.results.KeyColumns = page.Data.KeyColumns
	}
	if page.Data.PartialResultsDueToTimeLimit != nil {
		h.results.PartialResultsDueToTimeLimit = page.Data.PartialResultsDueToTimeLimit
	}
	if page.Data.DiscardedArrayItems != nil {
		h.results.DiscardedArrayItems = page.Data.DiscardedArrayItems
	}
	if page.Data.OmittedEvents != nil {
		h.results.OmittedEvents = page.Data.OmittedEvents
	}

	currentCount := len(h.results.Values)
	newCount := len(page.Data.Values)

	if currentCount >= h.maxQueryResults {
		if !h.results.TruncatedAtLimit {
			h.logger.Warn("query result limit reached, skipping additional results",
				"current_count", currentCount,
				"limit", h.maxQueryResults)
			h.results.TruncatedAtLimit = true
		}
		return nil
	}

	if currentCount+newCount > h.maxQueryResults {
		remaining := h.maxQueryResults - currentCount
		h.logger.Warn("query result limit reached, truncating results",
			"current_count", currentCount,
			"new_count", newCount,
			"limit", h.maxQueryResults,
			"truncating_to", remaining)
		h.results.Values = append(h.results.Values, page.Data.Values[:remaining]...)
		h.results.TruncatedAtLimit = true
		return nil
	}

	h.results.Values = append(h.results.Values, page.Data.Values...)
	return nil
}

// IsResultPartial reports whether the server or the row cap withheld
// data. Callable only once the query has completed.
func (h *PowerQueryHandler) IsResultPartial() (bool, error) {
	if !h.Completed() {
		return false, ErrPrecondition("cannot check partial results before the query completes")
	}
	r := h.results
	switch {
	case r.PartialResultsDueToTimeLimit != nil && *r.PartialResultsDueToTimeLimit:
		return true, nil
	case r.DiscardedArrayItems != nil && *r.DiscardedArrayItems != 0:
		return true, nil
	case r.OmittedEvents != nil && math.Abs(*r.OmittedEvents) > 1e-9:
		return true, nil
	case r.TruncatedAtLimit:
		return true, nil
	}
	return false, nil
}
