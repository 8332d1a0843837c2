package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/store"
)

// DefaultRegistryTable holds tracked works.
const DefaultRegistryTable = "tracked_works"

// Registry implements crawler.Registry and crawler.SummaryStore on one table.
type Registry struct {
	pool  Pool
	table string
}

// NewRegistry wraps an existing pool.
func NewRegistry(pool Pool, table string) (*Registry, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultRegistryTable)
	if err != nil {
		return nil, err
	}
	return &Registry{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (r *Registry) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// EnsureSchema creates the table when missing.
func (r *Registry) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	work_id      bigint PRIMARY KEY,
	title        text NOT NULL DEFAULT '',
	status       text NOT NULL DEFAULT '',
	last_run_at  timestamptz,
	completed    boolean NOT NULL DEFAULT false,
	last_summary jsonb
)`, r.table)
	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", r.table, err)
	}
	return nil
}

// Track adds workID; tracking twice is a no-op.
func (r *Registry) Track(ctx context.Context, workID int64) error {
	query := fmt.Sprintf(`INSERT INTO %s (work_id) VALUES ($1) ON CONFLICT (work_id) DO NOTHING`, r.table)
	if _, err := r.pool.Exec(ctx, query, workID); err != nil {
		return fmt.Errorf("track work %d: %w", workID, err)
	}
	return nil
}

// Untrack removes workID.
func (r *Registry) Untrack(ctx context.Context, workID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE work_id = $1`, r.table)
	if _, err := r.pool.Exec(ctx, query, workID); err != nil {
		return fmt.Errorf("untrack work %d: %w", workID, err)
	}
	return nil
}

// List returns tracked IDs in ascending order.
func (r *Registry) List(ctx context.Context) ([]int64, error) {
	query := fmt.Sprintf(`SELECT work_id FROM %s ORDER BY work_id`, r.table)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tracked works: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tracked work: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tracked works: %w", err)
	}
	return ids, nil
}

// RecordRun stores the outcome of the latest run for the work.
func (r *Registry) RecordRun(ctx context.Context, summary crawler.Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (work_id, title, status, last_run_at, completed, last_summary)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (work_id) DO UPDATE SET
	title = EXCLUDED.title,
	status = EXCLUDED.status,
	last_run_at = EXCLUDED.last_run_at,
	completed = EXCLUDED.completed,
	last_summary = EXCLUDED.last_summary`, r.table)
	completed := crawler.Work{Status: summary.Status}.IsCompleted()
	_, err = r.pool.Exec(ctx, query, summary.WorkID, summary.Title, summary.Status, summary.FinishedAt, completed, payload)
	if err != nil {
		return fmt.Errorf("record run for work %d: %w", summary.WorkID, err)
	}
	return nil
}

// PutSummary is RecordRun under the crawler.SummaryStore name.
func (r *Registry) PutSummary(ctx context.Context, summary crawler.Summary) error {
	return r.RecordRun(ctx, summary)
}

// GetSummary returns the last recorded summary or store.ErrNotFound.
func (r *Registry) GetSummary(ctx context.Context, workID int64) (crawler.Summary, error) {
	query := fmt.Sprintf(`SELECT last_summary FROM %s WHERE work_id = $1 AND last_summary IS NOT NULL`, r.table)
	var payload []byte
	if err := r.pool.QueryRow(ctx, query, workID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Summary{}, fmt.Errorf("summary for work %d: %w", workID, store.ErrNotFound)
		}
		return crawler.Summary{}, fmt.Errorf("get summary for work %d: %w", workID, err)
	}
	var summary crawler.Summary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return crawler.Summary{}, fmt.Errorf("decode summary for work %d: %w", workID, err)
	}
	return summary, nil
}

var (
	_ crawler.Registry     = (*Registry)(nil)
	_ crawler.SummaryStore = (*Registry)(nil)
)
