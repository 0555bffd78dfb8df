package sdl

import (
	"encoding/json"
	"fmt"
)

// Column describes one column of a tabular result page. The wire format
// uses "cellType" for the column type, but some server versions emit
// "type" instead; both are accepted on decode.
type Column struct {
	Name          string       `json:"name"`
	Type          PQColumnType `json:"cellType"`
	DecimalPlaces *int         `json:"decimalPlaces,omitempty"`
}

// UnmarshalJSON accepts the column type under either key, preferring
// "cellType" when both are present.
func (c *Column) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name          string        `json:"name"`
		CellType      *PQColumnType `json:"cellType"`
		Type          *PQColumnType `json:"type"`
		DecimalPlaces *int          `json:"decimalPlaces"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Name = raw.Name
	c.DecimalPlaces = raw.DecimalPlaces
	switch {
	case raw.CellType != nil:
		c.Type = *raw.CellType
	case raw.Type != nil:
		c.Type = *raw.Type
	default:
		return fmt.Errorf("column %q: missing cellType", raw.Name)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("column %q: unknown cell type %q", c.Name, c.Type)
	}
	return nil
}

// TableResult is the tabular payload of one result page, and doubles as
// the accumulated result a power-query handler builds across pages.
// MatchCount is the server's authoritative total, independent of how many
// rows were actually returned or kept. TruncatedAtLimit is client-side
// bookkeeping: it is never sent by the server and once set it stays set.
type TableResult struct {
	MatchCount                   float64  `json:"matchCount"`
	Values                       [][]any  `json:"values"`
	Columns                      []Column `json:"columns"`
	KeyColumns                   *int     `json:"keyColumns,omitempty"`
	OmittedEvents                *float64 `json:"omittedEvents,omitempty"`
	PartialResultsDueToTimeLimit *bool    `json:"partialResultsDueToTimeLimit,omitempty"`
	DiscardedArrayItems          *int     `json:"discardedArrayItems,omitempty"`
	Warnings                     []string `json:"warnings,omitempty"`
	TruncatedAtLimit             bool     `json:"truncatedAtLimit,omitempty"`
}

// ColumnNames returns the column names in declaration order.
func (t *TableResult) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// ErrorObject is the server-reported error payload inside a query result.
type ErrorObject struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// TimeRange is the server-resolved absolute time range of a query.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// QueryResult is one submit or ping response body: progress counters plus
// an optional incremental result page.
type QueryResult struct {
	ID                string       `json:"id"`
	StepsCompleted    int          `json:"stepsCompleted"`
	TotalSteps        int          `json:"totalSteps"`
	ResolvedTimeRange *TimeRange   `json:"resolvedTimeRange,omitempty"`
	Error             *ErrorObject `json:"error,omitempty"`
	CPUUsage          int64        `json:"cpuUsage"`
	Data              *TableResult `json:"data,omitempty"`
}

// decodeQueryResult parses a submit/ping response body and validates the
// required progress fields are present.
func decodeQueryResult(body []byte) (*QueryResult, error) {
	var raw struct {
		ID                string       `json:"id"`
		StepsCompleted    *int         `json:"stepsCompleted"`
		TotalSteps        *int         `json:"totalSteps"`
		ResolvedTimeRange *TimeRange   `json:"resolvedTimeRange"`
		Error             *ErrorObject `json:"error"`
		CPUUsage          int64        `json:"cpuUsage"`
		Data              *TableResult `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw.StepsCompleted == nil {
		return nil, fmt.Errorf("missing required field stepsCompleted")
	}
	if raw.TotalSteps == nil {
		return nil, fmt.Errorf("missing required field totalSteps")
	}
	return &QueryResult{
		ID:                raw.ID,
		StepsCompleted:    *raw.StepsCompleted,
		TotalSteps:        *raw.TotalSteps,
		ResolvedTimeRange: raw.ResolvedTimeRange,
		Error:             raw.Error,
		CPUUsage:          raw.CPUUsage,
		Data:              raw.Data,
	}, nil
}

// PQAttributes carries the power-query payload of a submit request.
type PQAttributes struct {
	Query      string       `json:"query"`
	ResultType PQResultType `json:"resultType"`
	Frequency  PQFrequency  `json:"frequency"`
}

// SubmitRequest holds the caller-facing arguments of a submit call. Time
// bounds must already be normalized to wire form (a relative-duration
// literal or an absolute epoch string); see NormalizeTimeParam.
//
// Tenant controls query scope across accessible data and must be false
// when AccountIDs narrows the scope explicitly.
type SubmitRequest struct {
	StartTime  string
	EndTime    string
	QueryType  QueryType
	Priority   QueryPriority
	Tenant     *bool
	AccountIDs []string
	PQ         *PQAttributes
}

// body builds the JSON wire payload for a submit request.
func (r SubmitRequest) body() map[string]any {
	priority := r.Priority
	if priority == "" {
		priority = PriorityLow
	}
	queryType := r.QueryType
	if r.PQ != nil {
		queryType = QueryTypePQ
	}
	payload := map[string]any{
		"startTime":     r.StartTime,
		"endTime":       r.EndTime,
		"queryType":     queryType,
		"queryPriority": priority,
	}
	if r.Tenant != nil {
		payload["tenant"] = *r.Tenant
	}
	if r.AccountIDs != nil {
		payload["accountIds"] = r.AccountIDs
	}
	if r.PQ != nil {
		payload["pq"] = r.PQ
	}
	return payload
}
