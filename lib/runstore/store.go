// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package runstore persists run history in SQLite. Each run's full
// summary is stored as a JSON column for lossless round-trips, next
// to the status and timing columns queries filter on. Job records and
// artifact refs additionally land in their own tables so the control
// surface can answer per-job questions without parsing summaries.
//
// The store is a system of record for FINISHED state: the engine
// writes a run at admission and again at completion, and in-memory
// state never depends on a write having succeeded.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/conveyor-ci/conveyor/lib/run"
	"github.com/conveyor-ci/conveyor/lib/sqlitepool"
)

// ErrNotFound reports that no run with the requested id exists.
var ErrNotFound = errors.New("runstore: run not found")

// schema is applied on open. All statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    workflow     TEXT NOT NULL,
    status       TEXT NOT NULL,
    group_key    TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL,
    completed_at TEXT NOT NULL DEFAULT '',
    summary      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_by_workflow ON runs (workflow, created_at DESC);
CREATE INDEX IF NOT EXISTS runs_by_status   ON runs (status, created_at DESC);

CREATE TABLE IF NOT EXISTS job_runs (
    id     TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    name   TEXT NOT NULL,
    label  TEXT NOT NULL,
    status TEXT NOT NULL,
    record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS job_runs_by_run ON job_runs (run_id);

CREATE TABLE IF NOT EXISTS artifacts (
    run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    matrix_identity TEXT NOT NULL DEFAULT '',
    name            TEXT NOT NULL,
    ref             TEXT NOT NULL,
    size            INTEGER NOT NULL,
    PRIMARY KEY (run_id, matrix_identity, name)
);
`

// Store is the SQLite-backed run history.
//
// Store is safe for concurrent use; every method takes its own pooled
// connection.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Config holds the parameters for opening a run store.
type Config struct {
	// Path is the SQLite database file. Required. ":memory:" with
	// PoolSize 1 gives tests an ephemeral store.
	Path string

	// PoolSize is the connection pool size. Zero uses the pool's
	// default.
	PoolSize int

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger
}

// Open opens (creating if necessary) the run store at cfg.Path and
// applies the schema.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("runstore: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the underlying pool, blocking until borrowed
// connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// SaveRun upserts the run's row. Used at admission (pending or
// refused-cancelled records, before any jobs exist) and at the
// pending-to-running transition; SaveSummary replaces the row once
// job records exist.
func (s *Store) SaveRun(ctx context.Context, record run.Run) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("runstore: save run: %w", err)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return s.upsertRun(conn, run.Summary{Run: record})
}

// SaveSummary upserts the complete run record: the runs row plus the
// per-job and per-artifact rows, in one transaction.
func (s *Store) SaveSummary(ctx context.Context, summary run.Summary) (err error) {
	if err := summary.Validate(); err != nil {
		return fmt.Errorf("runstore: save summary: %w", err)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("runstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err := s.upsertRun(conn, summary); err != nil {
		return err
	}

	// Job and artifact rows are replaced wholesale: a summary is the
	// complete truth about its run.
	for _, table := range []string{"job_runs", "artifacts"} {
		err := sqlitex.Execute(conn, "DELETE FROM "+table+" WHERE run_id = ?", &sqlitex.ExecOptions{
			Args: []any{summary.ID},
		})
		if err != nil {
			return fmt.Errorf("runstore: clearing %s for %s: %w", table, summary.ID, err)
		}
	}

	for i := range summary.Jobs {
		if err := insertJob(conn, &summary.Jobs[i]); err != nil {
			return err
		}
	}
	for identity, refs := range summary.Artifacts {
		for _, ref := range refs {
			err := sqlitex.Execute(conn, `INSERT INTO artifacts
				(run_id, matrix_identity, name, ref, size)
				VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
				Args: []any{summary.ID, identity, ref.Name, ref.Ref, ref.Size},
			})
			if err != nil {
				return fmt.Errorf("runstore: inserting artifact %q for %s: %w", ref.Name, summary.ID, err)
			}
		}
	}
	return nil
}

func (s *Store) upsertRun(conn *sqlite.Conn, summary run.Summary) error {
	encoded, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("runstore: marshal summary %s: %w", summary.ID, err)
	}
	err = sqlitex.Execute(conn, `INSERT INTO runs
		(id, workflow, status, group_key, created_at, completed_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			summary = excluded.summary`, &sqlitex.ExecOptions{
		Args: []any{
			summary.ID,
			summary.Workflow,
			string(summary.Status),
			summary.GroupKey,
			summary.CreatedAt,
			summary.CompletedAt,
			string(encoded),
		},
	})
	if err != nil {
		return fmt.Errorf("runstore: upserting run %s: %w", summary.ID, err)
	}
	return nil
}

func insertJob(conn *sqlite.Conn, job *run.Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("runstore: marshal job %s: %w", job.ID, err)
	}
	err = sqlitex.Execute(conn, `INSERT INTO job_runs
		(id, run_id, name, label, status, record)
		VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{job.ID, job.RunID, job.Name, job.Label, string(job.Status), string(encoded)},
	})
	if err != nil {
		return fmt.Errorf("runstore: inserting job %s: %w", job.ID, err)
	}
	return nil
}

// GetSummary returns the stored summary for a run id, or ErrNotFound.
func (s *Store) GetSummary(ctx context.Context, runID string) (run.Summary, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return run.Summary{}, err
	}
	defer s.pool.Put(conn)

	var encoded string
	found := false
	err = sqlitex.Execute(conn, "SELECT summary FROM runs WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{runID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			encoded = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return run.Summary{}, fmt.Errorf("runstore: reading run %s: %w", runID, err)
	}
	if !found {
		return run.Summary{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}

	var summary run.Summary
	if err := json.Unmarshal([]byte(encoded), &summary); err != nil {
		return run.Summary{}, fmt.Errorf("runstore: decoding summary %s: %w", runID, err)
	}
	return summary, nil
}

// Filter narrows a List query. Zero values mean no constraint.
type Filter struct {
	// Workflow restricts to runs of one workflow.
	Workflow string

	// Status restricts to runs in one state.
	Status run.Status

	// Limit caps the result count. Zero means 50.
	Limit int
}

// List returns summaries matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]run.Summary, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := "SELECT summary FROM runs WHERE 1=1"
	var args []any
	if filter.Workflow != "" {
		query += " AND workflow = ?"
		args = append(args, filter.Workflow)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	var summaries []run.Summary
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var summary run.Summary
			if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &summary); err != nil {
				return fmt.Errorf("decoding summary: %w", err)
			}
			summaries = append(summaries, summary)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("runstore: listing runs: %w", err)
	}
	return summaries, nil
}

// Delete removes a run and, through the schema's cascades, its job
// and artifact rows. Deleting an absent run returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, runID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM runs WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{runID},
	})
	if err != nil {
		return fmt.Errorf("runstore: deleting run %s: %w", runID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

// LiveArtifactRefs returns the set of artifact refs referenced by any
// stored run, for artifact store garbage collection.
func (s *Store) LiveArtifactRefs(ctx context.Context) (map[string]bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	live := make(map[string]bool)
	err = sqlitex.Execute(conn, "SELECT DISTINCT ref FROM artifacts", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			live[stmt.ColumnText(0)] = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("runstore: collecting live refs: %w", err)
	}
	return live, nil
}
