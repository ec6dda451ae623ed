package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/devimpact/devimpact-cli/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// DB is the local sync journal. It records which runs happened and what they
// pushed, never the pull request payloads themselves.
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		window_start TEXT NOT NULL DEFAULT '',
		window_end TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS repo_syncs (
		run_id TEXT NOT NULL,
		repository TEXT NOT NULL,
		pull_count INTEGER NOT NULL,
		batch_count INTEGER NOT NULL,
		completed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, repository),
		FOREIGN KEY (run_id) REFERENCES sync_runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// StartRun records the beginning of a sync run
func (db *DB) StartRun(runID string, startedAt time.Time) error {
	query := `
	INSERT INTO sync_runs (id, started_at, status)
	VALUES (?, ?, ?)
	`

	_, err := db.Exec(query, runID, startedAt.UTC(), RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	return nil
}

// RecordWindow stores the sync window once the backend has provided it
func (db *DB) RecordWindow(runID string, window models.SyncWindow) error {
	query := `UPDATE sync_runs SET window_start = ?, window_end = ? WHERE id = ?`

	_, err := db.Exec(query, window.StartISO, window.EndISO, runID)
	if err != nil {
		return fmt.Errorf("failed to record window: %w", err)
	}

	return nil
}

// RecordRepository stores how much was pushed for one repository
func (db *DB) RecordRepository(runID string, rec models.RepoSyncRecord) error {
	query := `
	INSERT INTO repo_syncs (run_id, repository, pull_count, batch_count, completed_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(run_id, repository) DO UPDATE SET
		pull_count = excluded.pull_count,
		batch_count = excluded.batch_count,
		completed_at = excluded.completed_at
	`

	_, err := db.Exec(query, runID, rec.Repository, rec.PullCount, rec.BatchCount, rec.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record repository: %w", err)
	}

	return nil
}

// FinishRun marks a run as done. A non-nil runErr marks it failed.
func (db *DB) FinishRun(runID string, finishedAt time.Time, runErr error) error {
	status := RunStatusSucceeded
	msg := ""
	if runErr != nil {
		status = RunStatusFailed
		msg = runErr.Error()
	}

	query := `UPDATE sync_runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`

	_, err := db.Exec(query, finishedAt.UTC(), status, msg, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	return nil
}

// RecentRuns returns the latest runs, newest first, with their repositories
func (db *DB) RecentRuns(limit int) ([]models.RunRecord, error) {
	query := `
	SELECT id, started_at, finished_at, window_start, window_end, status, error
	FROM sync_runs
	ORDER BY started_at DESC
	LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var run models.RunRecord
		var finishedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.StartedAt, &finishedAt, &run.WindowStart, &run.WindowEnd, &run.Status, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	for i := range runs {
		repos, err := db.repositoriesForRun(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Repos = repos
	}

	return runs, nil
}

func (db *DB) repositoriesForRun(runID string) ([]models.RepoSyncRecord, error) {
	query := `
	SELECT repository, pull_count, batch_count, completed_at
	FROM repo_syncs
	WHERE run_id = ?
	ORDER BY completed_at ASC
	`

	rows, err := db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories for run %s: %w", runID, err)
	}
	defer rows.Close()

	var repos []models.RepoSyncRecord
	for rows.Next() {
		var rec models.RepoSyncRecord
		if err := rows.Scan(&rec.Repository, &rec.PullCount, &rec.BatchCount, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, rec)
	}

	return repos, rows.Err()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
