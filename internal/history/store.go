package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Final status of a recorded run.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

const timeFormat = "2006-01-02 15:04:05"

// Run is one recorded query execution.
type Run struct {
	ID           string
	Query        string
	QueryType    string
	StartTime    string
	EndTime      string
	Status       string
	RowCount     int64
	MatchCount   float64
	Truncated    bool
	Partial      bool
	ElapsedMS    int64
	ErrorMessage *string
	CreatedAt    time.Time
}

// NotFoundError marks a run id with no stored row.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("query run %s not found", e.ID)
}

// ConflictError marks an insert that collided with an existing row.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("query run %s already recorded", e.ID)
}

// Store persists query runs. It keeps a single-connection write pool and
// a wider read pool over the same SQLite file.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// Open opens the history database at path, creating and migrating it as
// needed.
func Open(path string) (*Store, error) {
	writeDB, err := openPool(path, true, 0)
	if err != nil {
		return nil, err
	}
	readDB, err := openPool(path, false, 0)
	if err != nil {
		_ = writeDB.Close()
		return nil, err
	}

	if err := runMigrations(writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	return &Store{writeDB: writeDB, readDB: readDB}, nil
}

// Close releases both pools.
func (s *Store) Close() error {
	return errors.Join(s.readDB.Close(), s.writeDB.Close())
}

const runColumns = `id, query, query_type, start_time, end_time, status,
	row_count, match_count, truncated, partial, elapsed_ms, error_message, created_at`

// Record inserts a run. A missing ID gets a fresh time-ordered UUID and
// a zero CreatedAt gets the current time; the stored run is returned.
func (s *Store) Record(ctx context.Context, run *Run) (*Run, error) {
	switch run.Status {
	case StatusSucceeded, StatusFailed, StatusTimeout:
	default:
		return nil, fmt.Errorf("invalid run status %q", run.Status)
	}
	if run.ID == "" {
		run.ID = newRunID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO query_runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Query, run.QueryType, run.StartTime, run.EndTime, run.Status,
		run.RowCount, run.MatchCount, boolToInt(run.Truncated), boolToInt(run.Partial),
		run.ElapsedMS, nullStrFromPtr(run.ErrorMessage), run.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return nil, mapDBError(err, run.ID)
	}
	return run, nil
}

// GetByID returns a run by its id.
func (s *Store) GetByID(ctx context.Context, id string) (*Run, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM query_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, mapDBError(err, id)
	}
	return run, nil
}

// ListRecent returns the newest runs, most recent first. limit <= 0
// falls back to 20.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM query_runs
		 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// PurgeOlderThan deletes runs recorded before now-age and reports how
// many were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age).Format(timeFormat)
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM query_runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRun(sc interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run                Run
		truncated, partial int64
		errMsg             sql.NullString
		createdAt          string
	)
	if err := sc.Scan(&run.ID, &run.Query, &run.QueryType, &run.StartTime, &run.EndTime,
		&run.Status, &run.RowCount, &run.MatchCount, &truncated, &partial,
		&run.ElapsedMS, &errMsg, &createdAt); err != nil {
		return nil, err
	}
	run.Truncated = truncated != 0
	run.Partial = partial != 0
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	t, _ := time.Parse(timeFormat, createdAt)
	run.CreatedAt = t
	return &run, nil
}

// newRunID returns a time-ordered UUID so lexical id order matches
// insertion order. Falls back to a random UUID if v7 generation fails.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func mapDBError(err error, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{ID: id}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &ConflictError{ID: id}
	}
	return err
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullStrFromPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
