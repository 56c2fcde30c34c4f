package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/regradar/regradar-backend/internal/domain/crawl"
	"github.com/regradar/regradar-backend/internal/errors"
)

// CrawlRunRepository owns the crawl_runs lifecycle rows and enforces
// the single-flight invariant.
type CrawlRunRepository struct {
	db DBTX
}

func NewCrawlRunRepository(db DBTX) *CrawlRunRepository {
	return &CrawlRunRepository{db: db}
}

// Start creates a new running row. It refuses with a conflict error
// when a run is already in progress. The existence check and the
// insert are one statement, so concurrent triggers cannot interleave
// between them and at most one running row can ever exist.
func (r *CrawlRunRepository) Start(ctx context.Context) (*crawl.Run, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO crawl_runs (started_at, status)
		SELECT ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM crawl_runs WHERE status = ?)`,
		formatTime(now), string(crawl.StatusRunning), string(crawl.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("starting crawl run: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("starting crawl run: %w", err)
	}
	if inserted == 0 {
		return nil, errors.NewConflictError("CRAWL_IN_PROGRESS",
			"a crawl run is already in progress")
	}
	id, _ := res.LastInsertId()
	return &crawl.Run{ID: id, StartedAt: now, Status: crawl.StatusRunning}, nil
}

// Complete writes the terminal success state with its counts.
func (r *CrawlRunRepository) Complete(ctx context.Context, id int64, found, created, updated int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE crawl_runs SET status = ?, completed_at = ?,
			items_found = ?, items_new = ?, items_updated = ?
		WHERE id = ?`,
		string(crawl.StatusCompleted), formatTime(time.Now().UTC()),
		found, created, updated, id)
	if err != nil {
		return fmt.Errorf("completing crawl run %d: %w", id, err)
	}
	return nil
}

// Fail writes the terminal failure state with the orchestrator error.
func (r *CrawlRunRepository) Fail(ctx context.Context, id int64, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE crawl_runs SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?`,
		string(crawl.StatusFailed), formatTime(time.Now().UTC()), message, id)
	if err != nil {
		return fmt.Errorf("failing crawl run %d: %w", id, err)
	}
	return nil
}

// Latest returns the most recent run, or a not-found error when no run
// has ever happened (the status endpoint maps that to "never_run").
func (r *CrawlRunRepository) Latest(ctx context.Context) (*crawl.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, status,
			items_found, items_new, items_updated, COALESCE(error_message, '')
		FROM crawl_runs ORDER BY id DESC LIMIT 1`)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("NO_CRAWL_RUNS", "no crawl has ever run")
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest run: %w", err)
	}
	return run, nil
}

// ReconcileInterrupted marks any run left in "running" by a process
// crash as failed. Called once at startup, before the API accepts
// triggers.
func (r *CrawlRunRepository) ReconcileInterrupted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE crawl_runs SET status = ?, completed_at = ?, error_message = ?
		WHERE status = ?`,
		string(crawl.StatusFailed), formatTime(time.Now().UTC()),
		"interrupted by restart", string(crawl.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("reconciling interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// RunningCount reports how many rows are currently in the running
// state. The single-flight invariant keeps this at most 1.
func (r *CrawlRunRepository) RunningCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM crawl_runs WHERE status = ?`,
		string(crawl.StatusRunning)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting running runs: %w", err)
	}
	return n, nil
}

func scanRun(row rowScanner) (*crawl.Run, error) {
	var (
		run         crawl.Run
		startedAt   string
		completedAt sql.NullString
		status      string
	)
	err := row.Scan(&run.ID, &startedAt, &completedAt, &status,
		&run.ItemsFound, &run.ItemsNew, &run.ItemsUpdated, &run.ErrorMessage)
	if err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		run.CompletedAt = &t
	}
	run.Status = crawl.RunStatus(status)
	return &run, nil
}
