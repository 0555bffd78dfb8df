package materialize

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdlq/internal/sdl"
)

func openTestMaterializer(t *testing.T) *Materializer {
	t.Helper()
	m, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Close()
	})
	return m
}

func col(name string, typ sdl.PQColumnType) sdl.Column {
	return sdl.Column{Name: name, Type: typ}
}

func TestMaterializer_RowsTypedColumns(t *testing.T) {
	m := openTestMaterializer(t)
	ctx := context.Background()

	result := &sdl.TableResult{
		Columns: []sdl.Column{
			col("host", sdl.ColumnString),
			col("cpu", sdl.ColumnNumber),
			col("usage", sdl.ColumnPercentage),
			col("seen_at", sdl.ColumnTimestamp),
		},
		Values: [][]any{
			{"web-1", float64(4), float64(72.5), float64(1714564800000)},
			{"web-2", float64(8), float64(13.25), float64(1714564860000)},
		},
	}

	rows, err := m.Rows(ctx, result)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"host", "cpu", "usage", "seen_at"}, cols)

	type scanned struct {
		host   string
		cpu    float64
		usage  float64
		seenAt time.Time
	}
	var got []scanned
	for rows.Next() {
		var s scanned
		require.NoError(t, rows.Scan(&s.host, &s.cpu, &s.usage, &s.seenAt))
		got = append(got, s)
	}
	require.NoError(t, rows.Err())

	require.Len(t, got, 2)
	assert.Equal(t, "web-1", got[0].host)
	assert.Equal(t, float64(4), got[0].cpu)
	assert.Equal(t, 72.5, got[0].usage)
	assert.True(t, got[0].seenAt.Equal(time.UnixMilli(1714564800000)),
		"seen_at = %v", got[0].seenAt)
	assert.Equal(t, "web-2", got[1].host)
	assert.True(t, got[1].seenAt.Equal(time.UnixMilli(1714564860000)))
}

func TestMaterializer_RowsEmptyResult(t *testing.T) {
	m := openTestMaterializer(t)
	ctx := context.Background()

	for _, result := range []*sdl.TableResult{nil, {}} {
		rows, err := m.Rows(ctx, result)
		require.NoError(t, err)
		assert.False(t, rows.Next())
		require.NoError(t, rows.Err())
		_ = rows.Close()
	}
}

func TestMaterializer_IntoTableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.duckdb")
	m, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Close()
	})

	result := &sdl.TableResult{
		Columns: []sdl.Column{col("event type", sdl.ColumnString), col("count", sdl.ColumnNumber)},
		Values: [][]any{
			{"process_start", float64(10)},
			{"file_write", float64(3)},
		},
	}
	require.NoError(t, m.IntoTable(context.Background(), "results", result))

	var n int
	require.NoError(t, m.db.QueryRow(`SELECT count(*) FROM "results"`).Scan(&n))
	assert.Equal(t, 2, n)

	var total float64
	require.NoError(t, m.db.QueryRow(`SELECT sum("count") FROM "results"`).Scan(&total))
	assert.Equal(t, float64(13), total)
}

func TestMaterializer_IntoTableValidation(t *testing.T) {
	m := openTestMaterializer(t)
	ctx := context.Background()

	err := m.IntoTable(ctx, "", &sdl.TableResult{Columns: []sdl.Column{col("a", sdl.ColumnString)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table name")

	err = m.IntoTable(ctx, "results", &sdl.TableResult{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")
}

func TestMaterializer_TimestampUnits(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value float64
	}{
		{"seconds", 1714564800},
		{"milliseconds", 1714564800000},
		{"microseconds", 1714564800000000},
		{"nanoseconds", 1714564800000000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := openTestMaterializer(t)

			result := &sdl.TableResult{
				Columns: []sdl.Column{col("ts", sdl.ColumnTimestamp)},
				Values:  [][]any{{tt.value}},
			}
			rows, err := m.Rows(context.Background(), result)
			require.NoError(t, err)
			defer rows.Close() //nolint:errcheck

			require.True(t, rows.Next())
			var got time.Time
			require.NoError(t, rows.Scan(&got))
			assert.True(t, got.Equal(want), "got %v want %v", got, want)
		})
	}
}

func TestMaterializer_TimestampUnitIsColumnWide(t *testing.T) {
	m := openTestMaterializer(t)

	// The widest value (13 digits) decides the unit for the whole column.
	result := &sdl.TableResult{
		Columns: []sdl.Column{col("ts", sdl.ColumnTimestamp)},
		Values: [][]any{
			{nil},
			{float64(1714564800)},
			{float64(1714564800000)},
		},
	}
	rows, err := m.Rows(context.Background(), result)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	var got []sql.NullTime
	for rows.Next() {
		var v sql.NullTime
		require.NoError(t, rows.Scan(&v))
		got = append(got, v)
	}
	require.NoError(t, rows.Err())

	require.Len(t, got, 3)
	assert.False(t, got[0].Valid)
	require.True(t, got[1].Valid)
	assert.True(t, got[1].Time.Equal(time.UnixMilli(1714564800)))
	require.True(t, got[2].Valid)
	assert.True(t, got[2].Time.Equal(time.UnixMilli(1714564800000)))
}

func TestMaterializer_TimestampNonNumericFallsBack(t *testing.T) {
	m := openTestMaterializer(t)

	result := &sdl.TableResult{
		Columns: []sdl.Column{col("ts", sdl.ColumnTimestamp)},
		Values: [][]any{
			{"2024-05-01T12:00:00Z"},
			{float64(1714564800000)},
		},
	}
	rows, err := m.Rows(context.Background(), result)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	var got []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		got = append(got, v)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"2024-05-01T12:00:00Z", "1.7145648e+12"}, got)
}

func TestMaterializer_NumberCoercion(t *testing.T) {
	m := openTestMaterializer(t)

	result := &sdl.TableResult{
		Columns: []sdl.Column{col("n", sdl.ColumnNumber)},
		Values: [][]any{
			{"42.5"},
			{"not a number"},
			{nil},
		},
	}
	rows, err := m.Rows(context.Background(), result)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	var got []sql.NullFloat64
	for rows.Next() {
		var v sql.NullFloat64
		require.NoError(t, rows.Scan(&v))
		got = append(got, v)
	}
	require.NoError(t, rows.Err())

	require.Len(t, got, 3)
	require.True(t, got[0].Valid)
	assert.Equal(t, 42.5, got[0].Float64)
	assert.False(t, got[1].Valid)
	assert.False(t, got[2].Valid)
}

func TestMaterializer_RaggedRowsPadded(t *testing.T) {
	m := openTestMaterializer(t)

	result := &sdl.TableResult{
		Columns: []sdl.Column{col("a", sdl.ColumnString), col("b", sdl.ColumnString)},
		Values:  [][]any{{"only-a"}},
	}
	rows, err := m.Rows(context.Background(), result)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	require.True(t, rows.Next())
	var a string
	var b sql.NullString
	require.NoError(t, rows.Scan(&a, &b))
	assert.Equal(t, "only-a", a)
	assert.False(t, b.Valid)
}

func TestMaterializer_RowsTwiceUsesDistinctTables(t *testing.T) {
	m := openTestMaterializer(t)
	ctx := context.Background()

	result := &sdl.TableResult{
		Columns: []sdl.Column{col("a", sdl.ColumnString)},
		Values:  [][]any{{"x"}},
	}

	first, err := m.Rows(ctx, result)
	require.NoError(t, err)
	_ = first.Close()

	second, err := m.Rows(ctx, result)
	require.NoError(t, err)
	defer second.Close() //nolint:errcheck

	require.True(t, second.Next())
	var v string
	require.NoError(t, second.Scan(&v))
	assert.Equal(t, "x", v)
}
