package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/progress"
	"github.com/JakeFAU/chapter-crawler/internal/store"
)

// StoreSink persists run progress via a store.ProgressRepository. Counter
// deltas are collapsed per run within a batch to reduce writes.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type runDelta struct {
	counts store.Counts
	at     time.Time
}

// Consume forwards lifecycle events and collapsed counter deltas. Starts are
// written first and completions last so a batch spanning a whole run lands in
// order.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*runDelta)
	var finals []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageWorkStart:
			if err := s.repo.StartRun(ctx, runID, evt.WorkID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageWorkDone, progress.StageWorkError:
			finals = append(finals, evt)
		default:
			d := deltas[runID]
			if d == nil {
				d = &runDelta{}
				deltas[runID] = d
			}
			applyDelta(d, evt)
		}
	}

	for runID, d := range deltas {
		if d.counts.IsZero() {
			continue
		}
		if err := s.repo.AddCounts(ctx, runID, d.counts, d.at); err != nil {
			return fmt.Errorf("add run counts: %w", err)
		}
	}

	for _, evt := range finals {
		status := store.RunSuccess
		var note *string
		if evt.Stage == progress.StageWorkError {
			status = store.RunError
			if evt.Note != "" {
				msg := evt.Note
				note = &msg
			}
		}
		if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func applyDelta(d *runDelta, evt progress.Event) {
	switch evt.Stage {
	case progress.StageChapterDone:
		d.counts.Fetched++
		d.counts.Chars += evt.Chars
	case progress.StageChapterFailed:
		d.counts.Failed++
	case progress.StageCheckpoint:
		d.counts.Checkpoints++
	case progress.StageSessionRenew:
		d.counts.Renewals++
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
