package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tbury/scatter/internal/model"

	_ "modernc.org/sqlite"
)

const createQueryRunsTable = `
CREATE TABLE IF NOT EXISTS query_runs (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    term        TEXT NOT NULL,
    branches    TEXT,
    deadline_ms INTEGER,
    successes   INTEGER,
    error       TEXT,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createResultsTable = `
CREATE TABLE IF NOT EXISTS results (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    query_id   TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    branch     TEXT NOT NULL,
    outcome    TEXT NOT NULL,
    value      BLOB,
    error      TEXT,
    replica    INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (query_id, seq)
)`

// ErrNotFound is returned when a query run is not found.
var ErrNotFound = errors.New("query run not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createQueryRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create query_runs table: %w", err)
	}

	if _, err := db.Exec(createResultsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create results table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateQueryRun inserts a new query run record.
func (s *SQLiteStore) CreateQueryRun(ctx context.Context, q *model.QueryRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_runs (
			id, status, term, branches, deadline_ms, successes,
			error, duration_ms, created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Status, q.Term, joinBranches(q.Branches), q.DeadlineMS, q.Successes,
		q.Error, q.DurationMS, q.CreatedAt, q.StartedAt, q.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert query run: %w", err)
	}
	return nil
}

// GetQueryRun retrieves a query run by ID.
func (s *SQLiteStore) GetQueryRun(ctx context.Context, id string) (*model.QueryRun, error) {
	q, err := scanQueryRun(s.db.QueryRowContext(ctx,
		`SELECT id, status, term, branches, deadline_ms, successes,
			error, duration_ms, created_at, started_at, finished_at
		FROM query_runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get query run: %w", err)
	}
	return q, nil
}

// ListQueryRuns returns a paginated list of query runs ordered by created_at
// DESC, along with the total count of all runs.
func (s *SQLiteStore) ListQueryRuns(ctx context.Context, limit, offset int) ([]*model.QueryRun, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count query runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, status, term, branches, deadline_ms, successes,
			error, duration_ms, created_at, started_at, finished_at
		FROM query_runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list query runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.QueryRun
	for rows.Next() {
		q, err := scanQueryRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan query run: %w", err)
		}
		runs = append(runs, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate query runs: %w", err)
	}

	return runs, total, nil
}

// UpdateQueryRunStatus transitions a query run to the given status, enforcing
// the model's transition table. It stamps started_at when the run enters
// running and finished_at when it reaches a terminal status.
func (s *SQLiteStore) UpdateQueryRunStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM query_runs WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read current status: %w", err)
	}

	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE query_runs SET status = ?, started_at = ? WHERE id = ?",
			status, now, id,
		)
	case model.TerminalStatus(status):
		_, err = tx.ExecContext(ctx,
			"UPDATE query_runs SET status = ?, finished_at = ? WHERE id = ?",
			status, now, id,
		)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE query_runs SET status = ? WHERE id = ?",
			status, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update query run status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}
	return nil
}

// UpdateQueryRun updates the mutable fields of a query run after execution.
func (s *SQLiteStore) UpdateQueryRun(ctx context.Context, q *model.QueryRun) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE query_runs SET
			status = ?, successes = ?, error = ?, duration_ms = ?,
			started_at = COALESCE(?, started_at), finished_at = ?
		WHERE id = ?`,
		q.Status, q.Successes, q.Error, q.DurationMS,
		q.StartedAt, q.FinishedAt, q.ID,
	)
	if err != nil {
		return fmt.Errorf("update query run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetQueryStats aggregates counts and average duration over all query runs,
// plus branch outcome counts over all persisted results.
func (s *SQLiteStore) GetQueryStats(ctx context.Context) (*QueryStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &QueryStats{
		CountByStatus:  make(map[string]int),
		CountByOutcome: make(map[string]int),
	}

	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM query_runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM results GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("count by outcome: %w", err)
	}
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		stats.CountByOutcome[outcome] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	rows.Close()

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM query_runs WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// InsertResult appends a branch result row for a query run.
func (s *SQLiteStore) InsertResult(ctx context.Context, e *model.ResultEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (query_id, seq, branch, outcome, value, error, replica, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.QueryID, e.Seq, e.Branch, e.Outcome, e.Value, e.Error, e.Replica, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResults returns the persisted branch results for a query run in arrival
// order.
func (s *SQLiteStore) GetResults(ctx context.Context, queryID string) ([]model.ResultEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query_id, seq, branch, outcome, value, error, replica, created_at
		FROM results WHERE query_id = ? ORDER BY seq ASC`, queryID,
	)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	var entries []model.ResultEntry
	for rows.Next() {
		var e model.ResultEntry
		if err := rows.Scan(
			&e.ID, &e.QueryID, &e.Seq, &e.Branch, &e.Outcome, &e.Value, &e.Error, &e.Replica, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	return entries, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueryRun(r rowScanner) (*model.QueryRun, error) {
	q := &model.QueryRun{}
	var branches sql.NullString
	if err := r.Scan(
		&q.ID, &q.Status, &q.Term, &branches, &q.DeadlineMS, &q.Successes,
		&q.Error, &q.DurationMS, &q.CreatedAt, &q.StartedAt, &q.FinishedAt,
	); err != nil {
		return nil, err
	}
	if branches.Valid {
		q.Branches = splitBranches(branches.String)
	}
	return q, nil
}

// Branch name lists are stored as a comma-joined TEXT column. Branch names
// are registry keys and may not contain commas.
func joinBranches(branches []string) string {
	return strings.Join(branches, ",")
}

func splitBranches(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
