package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/chapter-crawler/internal/store"
)

// ProgressStore implements store.ProgressRepository on the download_runs table.
type ProgressStore struct {
	pool Pool
}

// NewProgressStore wraps an existing pool.
func NewProgressStore(pool Pool) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// EnsureSchema creates download_runs when missing.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS download_runs (
	id            uuid PRIMARY KEY,
	work_id       bigint NOT NULL,
	started_at    timestamptz NOT NULL,
	last_update   timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text NOT NULL,
	error_message text,
	fetched       bigint NOT NULL DEFAULT 0,
	failed        bigint NOT NULL DEFAULT 0,
	checkpoints   bigint NOT NULL DEFAULT 0,
	renewals      bigint NOT NULL DEFAULT 0,
	chars         bigint NOT NULL DEFAULT 0
)`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create download_runs: %w", err)
	}
	return nil
}

// StartRun inserts a running row; an existing row is left alone.
func (s *ProgressStore) StartRun(ctx context.Context, runID uuid.UUID, workID int64, startedAt time.Time) error {
	query := `
		INSERT INTO download_runs (id, work_id, started_at, last_update, status)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, workID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// AddCounts applies counter deltas.
func (s *ProgressStore) AddCounts(ctx context.Context, runID uuid.UUID, delta store.Counts, at time.Time) error {
	query := `
		UPDATE download_runs SET
			fetched = fetched + $1,
			failed = failed + $2,
			checkpoints = checkpoints + $3,
			renewals = renewals + $4,
			chars = chars + $5,
			last_update = $6
		WHERE id = $7;
	`
	res, err := s.pool.Exec(ctx, query,
		delta.Fetched, delta.Failed, delta.Checkpoints, delta.Renewals, delta.Chars, at, runID)
	if err != nil {
		return fmt.Errorf("failed to add counts: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional error message.
func (s *ProgressStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE download_runs
		SET finished_at = $1, last_update = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

const runColumns = `id, work_id, started_at, last_update, finished_at, status, error_message,
	fetched, failed, checkpoints, renewals, chars`

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.ID,
		&run.WorkID,
		&run.StartedAt,
		&run.LastUpdate,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
		&run.Fetched,
		&run.Failed,
		&run.Checkpoints,
		&run.Renewals,
		&run.Chars,
	)
	return run, err
}

// GetRun retrieves a single run by ID.
func (s *ProgressStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM download_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first with optional status filtering.
func (s *ProgressStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM download_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	var statusArg any
	if status != nil {
		statusArg = string(*status)
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

var _ store.ProgressRepository = (*ProgressStore)(nil)
