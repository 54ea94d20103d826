// Package history persists run results to SQLite so past runs can be
// inspected after the process exits, e.g. through the status API.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vk/stagehand/internal/runmodel"
)

// ErrNotFound is returned when no run exists for the requested ID.
var ErrNotFound = errors.New("run not found")

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		pipeline TEXT NOT NULL,
		trigger_desc TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS run_jobs (
		run_id TEXT NOT NULL REFERENCES runs(id),
		name TEXT NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		log_path TEXT,
		error TEXT,
		ord INTEGER NOT NULL,
		PRIMARY KEY (run_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// SaveResult stores a finished run and its per-job breakdown.
func (s *Store) SaveResult(ctx context.Context, res *runmodel.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, trigger_desc, status, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Pipeline, res.Trigger, string(res.Status), res.StartedAt, res.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	for i, jr := range res.Jobs {
		var started, finished sql.NullTime
		if !jr.StartedAt.IsZero() {
			started = sql.NullTime{Time: jr.StartedAt, Valid: true}
		}
		if !jr.FinishedAt.IsZero() {
			finished = sql.NullTime{Time: jr.FinishedAt, Valid: true}
		}
		var jobErr sql.NullString
		if jr.Error != "" {
			jobErr = sql.NullString{String: jr.Error, Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_jobs (run_id, name, stage, status, started_at, finished_at, log_path, error, ord)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, jr.Name, jr.Stage, string(jr.Status), started, finished, jr.LogPath, jobErr, i)
		if err != nil {
			return fmt.Errorf("failed to save job %q: %w", jr.Name, err)
		}
	}
	return tx.Commit()
}

// GetRun loads a run with its per-job breakdown.
func (s *Store) GetRun(ctx context.Context, id string) (*runmodel.Result, error) {
	res := &runmodel.Result{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline, trigger_desc, status, started_at, finished_at FROM runs WHERE id = ?`, id).
		Scan(&res.RunID, &res.Pipeline, &res.Trigger, &status, &res.StartedAt, &res.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	res.Status = runmodel.RunStatus(status)

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, stage, status, started_at, finished_at, log_path, error FROM run_jobs WHERE run_id = ? ORDER BY ord`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var jr runmodel.JobResult
		var jobStatus string
		var started, finished sql.NullTime
		var jobErr sql.NullString
		if err := rows.Scan(&jr.Name, &jr.Stage, &jobStatus, &started, &finished, &jr.LogPath, &jobErr); err != nil {
			return nil, err
		}
		jr.Status = runmodel.Status(jobStatus)
		if started.Valid {
			jr.StartedAt = started.Time
		}
		if finished.Valid {
			jr.FinishedAt = finished.Time
		}
		if jobErr.Valid {
			jr.Error = jobErr.String
		}
		res.Jobs = append(res.Jobs, jr)
	}
	return res, rows.Err()
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID      string             `json:"run_id"`
	Pipeline   string             `json:"pipeline"`
	Trigger    string             `json:"trigger"`
	Status     runmodel.RunStatus `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline, trigger_desc, status, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var status string
		if err := rows.Scan(&rs.RunID, &rs.Pipeline, &rs.Trigger, &status, &rs.StartedAt, &rs.FinishedAt); err != nil {
			return nil, err
		}
		rs.Status = runmodel.RunStatus(status)
		out = append(out, rs)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
