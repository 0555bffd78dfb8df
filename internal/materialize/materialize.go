// Package materialize loads accumulated query results into DuckDB so
// they can be queried with SQL or handed to downstream tooling as a
// database file. Columns get DuckDB types derived from their reported
// cell types, and epoch-valued timestamp columns are converted to real
// timestamps.
package materialize

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"sdlq/internal/sdl"
)

// Materializer writes table results into a DuckDB database.
type Materializer struct {
	db *sql.DB
}

// New wraps an existing DuckDB handle.
func New(db *sql.DB) *Materializer {
	return &Materializer{db: db}
}

// Open opens a DuckDB database at path. An empty path opens an
// in-memory database.
func Open(path string) (*Materializer, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Materializer{db: db}, nil
}

// Close closes the underlying handle.
func (m *Materializer) Close() error {
	return m.db.Close()
}

// Rows materializes the result into a randomly named table and returns
// *sql.Rows over it. A result without columns yields an empty row set.
func (m *Materializer) Rows(ctx context.Context, result *sdl.TableResult) (*sql.Rows, error) {
	if result == nil || len(result.Columns) == 0 {
		return m.db.QueryContext(ctx, "SELECT 1 WHERE false")
	}

	tableName := "_query_result_" + randomSuffix()
	if err := m.IntoTable(ctx, tableName, result); err != nil {
		return nil, err
	}

	selectSQL := fmt.Sprintf("SELECT * FROM %q", tableName) //nolint:gosec // tableName is generated internally, not user input
	rows, err := m.db.QueryContext(ctx, selectSQL)
	if err != nil {
		return nil, fmt.Errorf("select materialized rows: %w", err)
	}
	return rows, nil
}

// IntoTable creates tableName with one typed column per result column
// and inserts every accumulated row. DDL and inserts run on a pinned
// connection so the batch cannot leak pool connections.
func (m *Materializer) IntoTable(ctx context.Context, tableName string, result *sdl.TableResult) error {
	if tableName == "" {
		return fmt.Errorf("table name is required")
	}
	if result == nil || len(result.Columns) == 0 {
		return fmt.Errorf("result has no columns to materialize")
	}

	plans := planColumns(result)

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("pin connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	if err := createResultTable(ctx, conn, tableName, result.Columns, plans); err != nil {
		return err
	}
	return insertResultRows(ctx, conn, tableName, result.Values, plans)
}

func createResultTable(ctx context.Context, conn *sql.Conn, tableName string, columns []sdl.Column, plans []columnPlan) error {
	colDefs := make([]string, 0, len(columns))
	for i, col := range columns {
		colDefs = append(colDefs, fmt.Sprintf("%q %s", col.Name, plans[i].ddlType))
	}
	createSQL := fmt.Sprintf("CREATE TABLE %q (%s)", tableName, strings.Join(colDefs, ", "))
	if _, err := conn.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create result table: %w", err)
	}
	return nil
}

func insertResultRows(ctx context.Context, conn *sql.Conn, tableName string, rows [][]any, plans []columnPlan) error {
	if len(rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(plans))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertSQL := fmt.Sprintf("INSERT INTO %q VALUES (%s)", tableName, strings.Join(placeholders, ", ")) //nolint:gosec // tableName is generated internally

	for _, row := range rows {
		args := make([]any, len(plans))
		for i, plan := range plans {
			if i < len(row) {
				args[i] = plan.convert(row[i])
			} else {
				args[i] = nil
			}
		}
		if _, err := conn.ExecContext(ctx, insertSQL, args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return nil
}

// columnPlan is the DuckDB type for one column plus the epoch unit when
// its values need timestamp conversion.
type columnPlan struct {
	ddlType string
	epoch   time.Duration
}

func (p columnPlan) convert(v any) any {
	if v == nil {
		return nil
	}
	switch p.ddlType {
	case "DOUBLE":
		f, ok := asFloat64(v)
		if !ok {
			return nil
		}
		return f
	case "TIMESTAMP":
		n, ok := asInt64(v)
		if !ok {
			return nil
		}
		return epochToTime(n, p.epoch)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func planColumns(result *sdl.TableResult) []columnPlan {
	plans := make([]columnPlan, len(result.Columns))
	for i, col := range result.Columns {
		switch col.Type {
		case sdl.ColumnNumber, sdl.ColumnPercentage:
			plans[i] = columnPlan{ddlType: "DOUBLE"}
		case sdl.ColumnTimestamp:
			if unit, ok := detectEpochUnit(result.Values, i); ok {
				plans[i] = columnPlan{ddlType: "TIMESTAMP", epoch: unit}
			} else {
				plans[i] = columnPlan{ddlType: "VARCHAR"}
			}
		default:
			plans[i] = columnPlan{ddlType: "VARCHAR"}
		}
	}
	return plans
}

// epochUnits maps the digit count of an epoch value to its unit.
var epochUnits = map[int]time.Duration{
	19: time.Nanosecond,
	16: time.Microsecond,
	13: time.Millisecond,
	10: time.Second,
}

// detectEpochUnit classifies a timestamp column by the widest digit
// count across its non-null values. Columns holding anything
// non-numeric stay unconverted.
func detectEpochUnit(rows [][]any, col int) (time.Duration, bool) {
	maxDigits := 0
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		n, ok := asInt64(row[col])
		if !ok {
			return 0, false
		}
		if d := digitCount(n); d > maxDigits {
			maxDigits = d
		}
	}
	unit, ok := epochUnits[maxDigits]
	return unit, ok
}

func digitCount(n int64) int {
	if n < 0 {
		n = -n
	}
	return len(strconv.FormatInt(n, 10))
}

func epochToTime(n int64, unit time.Duration) time.Time {
	switch unit {
	case time.Second:
		return time.Unix(n, 0).UTC()
	case time.Millisecond:
		return time.UnixMilli(n).UTC()
	case time.Microsecond:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n >= float64(math.MaxInt64) || n <= float64(math.MinInt64) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// randomSuffix generates a cryptographically random hex suffix for
// result table names.
func randomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "fallback"
	}
	return hex.EncodeToString(b)
}
