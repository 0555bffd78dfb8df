package sdl

// QueryType discriminates the high-level query categories accepted by the
// queries endpoint.
type QueryType string

const (
	QueryTypeLog          QueryType = "LOG"
	QueryTypeTopFacets    QueryType = "TOP_FACETS"
	QueryTypeFacetValues  QueryType = "FACET_VALUES"
	QueryTypePlot         QueryType = "PLOT"
	QueryTypePQ           QueryType = "PQ"
	QueryTypeDistribution QueryType = "DISTRIBUTION"
)

// Valid reports whether t is a known query type.
func (t QueryType) Valid() bool {
	switch t {
	case QueryTypeLog, QueryTypeTopFacets, QueryTypeFacetValues,
		QueryTypePlot, QueryTypePQ, QueryTypeDistribution:
		return true
	}
	return false
}

// QueryPriority is the scheduler queue priority for a query. LOW-priority
// queries have more generous rate limits and suit background work.
type QueryPriority string

const (
	PriorityLow  QueryPriority = "LOW"
	PriorityHigh QueryPriority = "HIGH"
)

// Valid reports whether p is a known priority.
func (p QueryPriority) Valid() bool {
	return p == PriorityLow || p == PriorityHigh
}

// PQResultType is the output representation for a power query run.
type PQResultType string

const (
	PQResultTable PQResultType = "TABLE"
	PQResultPlot  PQResultType = "PLOT"
)

// Valid reports whether rt is a known result type.
func (rt PQResultType) Valid() bool {
	return rt == PQResultTable || rt == PQResultPlot
}

// PQFrequency controls aggregation granularity for a power query.
type PQFrequency string

const (
	FrequencyLow  PQFrequency = "LOW"
	FrequencyHigh PQFrequency = "HIGH"
)

// Valid reports whether f is a known frequency.
func (f PQFrequency) Valid() bool {
	return f == FrequencyLow || f == FrequencyHigh
}

// PQColumnType is the concrete value type of a column in a tabular result.
type PQColumnType string

const (
	ColumnNumber     PQColumnType = "NUMBER"
	ColumnPercentage PQColumnType = "PERCENTAGE"
	ColumnString     PQColumnType = "STRING"
	ColumnTimestamp  PQColumnType = "TIMESTAMP"
)

// Valid reports whether ct is a known column type.
func (ct PQColumnType) Valid() bool {
	switch ct {
	case ColumnNumber, ColumnPercentage, ColumnString, ColumnTimestamp:
		return true
	}
	return false
}
