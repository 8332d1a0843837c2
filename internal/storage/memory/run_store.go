package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/store"
)

// RunStore implements store.ProgressRepository and crawler.SummaryStore for
// development and tests.
type RunStore struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]store.Run
	summaries map[int64]crawler.Summary
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:      make(map[uuid.UUID]store.Run),
		summaries: make(map[int64]crawler.Summary),
	}
}

// StartRun records a running run. A second call for the same ID is ignored.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, workID int64, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; exists {
		return nil
	}
	s.runs[runID] = store.Run{
		ID:         runID,
		WorkID:     workID,
		StartedAt:  startedAt,
		LastUpdate: startedAt,
		Status:     store.RunRunning,
	}
	return nil
}

// AddCounts adds delta to the run's counters.
func (s *RunStore) AddCounts(_ context.Context, runID uuid.UUID, delta store.Counts, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	run.Fetched += delta.Fetched
	run.Failed += delta.Failed
	run.Checkpoints += delta.Checkpoints
	run.Renewals += delta.Renewals
	run.Chars += delta.Chars
	run.LastUpdate = at
	s.runs[runID] = run
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	run.LastUpdate = finishedAt
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// PutSummary replaces the latest summary for the work.
func (s *RunStore) PutSummary(_ context.Context, summary crawler.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summary.WorkID] = summary
	return nil
}

// GetSummary returns the latest summary for workID.
func (s *RunStore) GetSummary(_ context.Context, workID int64) (crawler.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[workID]
	if !ok {
		return crawler.Summary{}, fmt.Errorf("summary for work %d: %w", workID, store.ErrNotFound)
	}
	return summary, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

var (
	_ store.ProgressRepository = (*RunStore)(nil)
	_ crawler.SummaryStore     = (*RunStore)(nil)
)
