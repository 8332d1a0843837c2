package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// RunStatus mirrors the download_runs status column.
type RunStatus string

// Run statuses persisted in download_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ParseRunStatus validates a textual status filter.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunRunning, RunSuccess, RunError:
		return RunStatus(s), nil
	default:
		return "", errors.New("invalid status filter")
	}
}

// Counts are additive progress counters for one run.
type Counts struct {
	Fetched     int64 `json:"fetched"`
	Failed      int64 `json:"failed"`
	Checkpoints int64 `json:"checkpoints"`
	Renewals    int64 `json:"renewals"`
	Chars       int64 `json:"chars"`
}

// IsZero reports whether no counter moved.
func (c Counts) IsZero() bool {
	return c == Counts{}
}

// Run models one row of download_runs.
type Run struct {
	// ID is the run identifier shared with progress events.
	ID uuid.UUID `json:"id"`
	// WorkID is the work being downloaded.
	WorkID int64 `json:"work_id"`
	// StartedAt captures when the run began.
	StartedAt time.Time `json:"started_at"`
	// LastUpdate is the timestamp of the most recent counter change.
	LastUpdate time.Time `json:"last_update"`
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Status is running/success/error.
	Status RunStatus `json:"status"`
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string `json:"error_message,omitempty"`
	Counts
}

// ProgressRepository persists incremental run progress.
type ProgressRepository interface {
	// StartRun inserts the run in running state; repeated calls are idempotent.
	StartRun(ctx context.Context, runID uuid.UUID, workID int64, startedAt time.Time) error
	// AddCounts applies counter deltas to a run.
	AddCounts(ctx context.Context, runID uuid.UUID, delta Counts, at time.Time) error
	// CompleteRun marks the run finished with status and optional error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
