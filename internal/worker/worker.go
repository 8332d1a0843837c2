// Package worker runs queued work downloads and records their outcome.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/metrics"
	"github.com/JakeFAU/chapter-crawler/internal/queue/memory"
)

// Downloader downloads one work. *crawler.Engine satisfies it.
type Downloader interface {
	DownloadWork(ctx context.Context, workID int64) (crawler.Summary, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a Notification per finished run; empty disables publishing.
	Topic string
	// UntrackCompleted drops works the host reports as finished.
	UntrackCompleted bool
}

// Notification is the payload published after each run.
type Notification struct {
	RunID     string `json:"run_id"`
	WorkID    int64  `json:"work_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Fetched   int64  `json:"fetched"`
	Failed    int64  `json:"failed"`
	Pending   int    `json:"pending"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Worker consumes queue items and runs the download pipeline.
type Worker struct {
	queue      crawler.Queue
	downloader Downloader
	registry   crawler.Registry
	summaries  crawler.SummaryStore
	publisher  crawler.Publisher
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker. registry, summaries and publisher may be nil.
func New(
	queue crawler.Queue,
	downloader Downloader,
	registry crawler.Registry,
	summaries crawler.SummaryStore,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      queue,
		downloader: downloader,
		registry:   registry,
		summaries:  summaries,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued work", zap.String("run_id", item.RunID), zap.Int64("work_id", item.WorkID))
		_, _ = w.Process(ctx, item)
	}
}

// Process downloads one work, then tracks, records and publishes the result.
// The download error is returned unchanged; bookkeeping failures are logged.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) (crawler.Summary, error) {
	logger := w.logger.With(zap.String("run_id", item.RunID), zap.Int64("work_id", item.WorkID))
	if item.RunID != "" {
		ctx = crawler.WithRunID(ctx, item.RunID)
	}

	metrics.IncActiveWorks()
	summary, err := w.downloader.DownloadWork(ctx, item.WorkID)
	metrics.DecActiveWorks()
	if errors.Is(err, crawler.ErrWorkInFlight) {
		metrics.ObserveWork("in_flight")
		logger.Info("work already downloading, skipped")
		return summary, err
	}

	// Bookkeeping continues after cancellation so the outcome is not lost.
	bookCtx := context.WithoutCancel(ctx)
	outcome := classify(err)
	metrics.ObserveWork(outcome)

	switch {
	case errors.Is(err, crawler.ErrWorkNotFound):
		logger.Warn("work not found")
		w.untrack(bookCtx, item.WorkID, logger)
	default:
		w.track(bookCtx, summary, logger)
		if w.cfg.UntrackCompleted && err == nil && (crawler.Work{Status: summary.Status}).IsCompleted() {
			logger.Info("work completed, no longer tracked", zap.String("title", summary.Title))
			w.untrack(bookCtx, item.WorkID, logger)
		}
	}

	if w.summaries != nil {
		if putErr := w.summaries.PutSummary(bookCtx, summary); putErr != nil {
			logger.Error("store summary failed", zap.Error(putErr))
		}
	}
	w.publish(bookCtx, summary, logger)

	fields := []zap.Field{
		zap.String("title", summary.Title),
		zap.String("status", summary.Status),
		zap.String("outcome", outcome),
		zap.Int64("fetched", summary.Fetched),
		zap.Int("reused", summary.Reused),
		zap.Int("pending", summary.Pending()),
	}
	if err != nil {
		logger.Warn("download finished with errors", append(fields, zap.Error(err))...)
	} else {
		logger.Info("download finished", fields...)
	}
	return summary, err
}

func (w *Worker) track(ctx context.Context, summary crawler.Summary, logger *zap.Logger) {
	if w.registry == nil {
		return
	}
	if err := w.registry.Track(ctx, summary.WorkID); err != nil {
		logger.Error("track work failed", zap.Error(err))
		return
	}
	if err := w.registry.RecordRun(ctx, summary); err != nil {
		logger.Error("record run failed", zap.Error(err))
	}
}

func (w *Worker) untrack(ctx context.Context, workID int64, logger *zap.Logger) {
	if w.registry == nil {
		return
	}
	if err := w.registry.Untrack(ctx, workID); err != nil {
		logger.Error("untrack work failed", zap.Error(err))
	}
}

func (w *Worker) publish(ctx context.Context, summary crawler.Summary, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := Notification{
		RunID:     summary.RunID,
		WorkID:    summary.WorkID,
		Title:     summary.Title,
		Status:    summary.Status,
		Fetched:   summary.Fetched,
		Failed:    summary.Failed,
		Pending:   summary.Pending(),
		Error:     summary.Error,
		Timestamp: w.now().Format(time.RFC3339),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		logger.Error("publish notification failed", zap.Error(err))
		return
	}
	logger.Debug("notification published", zap.String("message_id", id))
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}

func classify(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, crawler.ErrWorkNotFound):
		return "not_found"
	case errors.Is(err, crawler.ErrSessionExhausted):
		return "session_exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, crawler.ErrIncomplete):
		return "incomplete"
	default:
		return "error"
	}
}
