package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/clock/system"
	"github.com/JakeFAU/chapter-crawler/internal/metrics"
	"github.com/JakeFAU/chapter-crawler/internal/progress"
	"github.com/JakeFAU/chapter-crawler/internal/queue/memory"
)

// EngineConfig tunes a download run.
type EngineConfig struct {
	// Concurrency bounds the worker pool; 1 fetches chapters sequentially.
	Concurrency int
	// Delay is the randomized pause each worker takes after a fetch.
	Delay DelayRange
	// FlushEvery writes a checkpoint after this many resolved chapters.
	FlushEvery int
	// RenewAfterDegraded renews the session once degraded fetches since the
	// last renewal exceed this count.
	RenewAfterDegraded int
	// ChapterTimeout caps one chapter fetch including its retries.
	ChapterTimeout time.Duration
}

// EngineDeps holds the collaborators used by Engine.
type EngineDeps struct {
	Enumerator  Enumerator
	Fetcher     ChapterFetcher
	Checkpoints CheckpointStore
	Session     SessionSource
	Pauser      Pauser
	Clock       Clock
	IDGen       IDGenerator
	// Emitter receives progress events; nil disables them.
	Emitter progress.Emitter
}

// Engine downloads works chapter by chapter with resumable checkpoints.
type Engine struct {
	deps   EngineDeps
	cfg    EngineConfig
	logger *zap.Logger

	// active holds the works with a download in progress.
	activeMu sync.Mutex
	active   map[int64]struct{}
}

// NewEngine applies defaults and returns an Engine.
func NewEngine(deps EngineDeps, cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 5
	}
	if cfg.RenewAfterDegraded <= 0 {
		cfg.RenewAfterDegraded = 7
	}
	if cfg.ChapterTimeout <= 0 {
		cfg.ChapterTimeout = 2 * time.Minute
	}
	if deps.Pauser == nil {
		deps.Pauser = TimerPauser{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, cfg: cfg, logger: logger, active: make(map[int64]struct{})}
}

// Busy reports whether workID is being downloaded right now.
func (e *Engine) Busy(workID int64) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	_, ok := e.active[workID]
	return ok
}

func (e *Engine) claim(workID int64) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if _, ok := e.active[workID]; ok {
		return false
	}
	e.active[workID] = struct{}{}
	return true
}

func (e *Engine) release(workID int64) {
	e.activeMu.Lock()
	delete(e.active, workID)
	e.activeMu.Unlock()
}

type runIDKey struct{}

// WithRunID attaches a caller-chosen run ID to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run ID attached by WithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

type chapterTask struct {
	title string
	id    string
}

// runState is the per-run context shared by the worker goroutines.
type runState struct {
	runID    string
	eventID  [16]byte
	work     Work
	chapters *ChapterMap
	cancel   context.CancelCauseFunc

	fetched            atomic.Int64
	failed             atomic.Int64
	degraded           atomic.Int64
	degradedSinceRenew atomic.Int64
	resolved           atomic.Int64
	flushes            atomic.Int64
	renewals           atomic.Int64

	flushMu sync.Mutex

	errMu       sync.Mutex
	chapterErrs error
	flushErr    error
}

func (rs *runState) recordChapterErr(err error) {
	rs.errMu.Lock()
	defer rs.errMu.Unlock()
	rs.chapterErrs = multierr.Append(rs.chapterErrs, err)
}

func (rs *runState) recordFlushErr(err error) {
	rs.errMu.Lock()
	defer rs.errMu.Unlock()
	rs.flushErr = multierr.Append(rs.flushErr, err)
}

// DownloadWork enumerates workID, reuses resolved chapters from the last
// checkpoint, fetches the rest and writes a final checkpoint. The summary is
// returned even when err is non-nil; ErrWorkNotFound leaves storage untouched.
// A second call for a work that is still downloading fails with
// ErrWorkInFlight without touching the host or the checkpoint.
func (e *Engine) DownloadWork(ctx context.Context, workID int64) (Summary, error) {
	started := e.deps.Clock.Now()
	if !e.claim(workID) {
		return Summary{WorkID: workID, StartedAt: started}, fmt.Errorf("download work %d: %w", workID, ErrWorkInFlight)
	}
	defer e.release(workID)
	runID, err := e.resolveRunID(ctx)
	if err != nil {
		return Summary{WorkID: workID, StartedAt: started}, err
	}
	summary := Summary{RunID: runID, WorkID: workID, StartedAt: started}
	eventID := progress.ParseRunID(runID)
	logger := e.logger.With(zap.String("run_id", runID), zap.Int64("work_id", workID))

	e.emit(progress.Event{RunID: eventID, Stage: progress.StageWorkStart, WorkID: workID})

	work, err := e.deps.Enumerator.ListChapters(ctx, workID)
	if err != nil {
		logger.Warn("chapter enumeration failed", zap.Error(err))
		return e.finish(summary, eventID, fmt.Errorf("enumerate work %d: %w", workID, err))
	}
	summary.Title = work.Title
	summary.Status = work.Status

	baseline, err := e.deps.Checkpoints.Load(ctx, workID)
	if err != nil {
		return e.finish(summary, eventID, fmt.Errorf("load checkpoint for %d: %w", workID, err))
	}
	if baseline == nil {
		baseline = NewChapterMap()
	}

	chapters, tasks := planRun(work, baseline)
	summary.Total = chapters.Len()
	summary.Reused = summary.Total - len(tasks)
	logger.Info("download planned",
		zap.String("title", work.Title),
		zap.String("status", work.Status),
		zap.Int("chapters", summary.Total),
		zap.Int("reused", summary.Reused),
		zap.Int("to_fetch", len(tasks)),
	)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	rs := &runState{
		runID:    runID,
		eventID:  eventID,
		work:     work,
		chapters: chapters,
		cancel:   cancel,
	}

	e.runPool(runCtx, rs, tasks, logger)

	// The final checkpoint is written even when the caller canceled.
	e.flush(context.WithoutCancel(ctx), rs, logger)

	summary.Fetched = rs.fetched.Load()
	summary.Failed = rs.failed.Load()
	summary.Degraded = rs.degraded.Load()
	summary.Flushes = rs.flushes.Load()
	summary.SessionRenewals = rs.renewals.Load()
	summary.Chars = int64(chapters.ResolvedChars())

	var runErr error
	if pending := summary.Pending(); pending > 0 {
		incomplete := fmt.Errorf("%w: %d of %d chapters pending", ErrIncomplete, pending, summary.Total)
		if rs.chapterErrs != nil {
			incomplete = fmt.Errorf("%w: %w", incomplete, rs.chapterErrs)
		}
		runErr = multierr.Append(runErr, incomplete)
	}
	runErr = multierr.Append(runErr, rs.flushErr)
	if cause := context.Cause(runCtx); cause != nil && errors.Is(cause, ErrSessionExhausted) {
		runErr = multierr.Append(runErr, cause)
	} else if ctx.Err() != nil {
		runErr = multierr.Append(runErr, ctx.Err())
	}
	return e.finish(summary, eventID, runErr)
}

// planRun builds the run's chapter map in listing order and returns the
// chapters that still need fetching. Repeated titles keep their first
// position and the last listed ID.
func planRun(work Work, baseline *ChapterMap) (*ChapterMap, []chapterTask) {
	chapters := NewChapterMap()
	for _, ref := range work.Chapters {
		if prior, ok := baseline.Get(ref.Title); ok && prior.IsResolved() {
			chapters.Set(ref.Title, prior)
			continue
		}
		chapters.Set(ref.Title, Pending(ref.ID))
	}
	tasks := make([]chapterTask, 0, chapters.Len())
	chapters.Each(func(title string, rec ChapterRecord) bool {
		if !rec.IsResolved() {
			tasks = append(tasks, chapterTask{title: title, id: rec.ChapterID})
		}
		return true
	})
	return chapters, tasks
}

func (e *Engine) runPool(ctx context.Context, rs *runState, tasks []chapterTask, logger *zap.Logger) {
	if len(tasks) == 0 {
		return
	}
	queue := memory.NewQueue[chapterTask](len(tasks))
	for _, task := range tasks {
		if err := queue.Enqueue(ctx, task); err != nil {
			logger.Warn("enqueue chapter failed", zap.String("chapter", task.title), zap.Error(err))
			break
		}
	}
	queue.Close()

	workers := min(e.cfg.Concurrency, len(tasks))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := queue.Dequeue(ctx)
				if err != nil {
					return
				}
				e.runTask(ctx, rs, task, logger)
			}
		}()
	}
	wg.Wait()
}

func (e *Engine) runTask(ctx context.Context, rs *runState, task chapterTask, logger *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	metrics.IncActiveChapterWorkers()
	defer metrics.DecActiveChapterWorkers()

	start := e.deps.Clock.Now()
	taskCtx, cancel := context.WithTimeout(ctx, e.cfg.ChapterTimeout)
	res, err := e.deps.Fetcher.FetchChapter(taskCtx, task.id, e.deps.Session.Token(), FetchNormal)
	cancel()
	elapsed := e.deps.Clock.Now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	if err != nil {
		rs.failed.Add(1)
		rs.recordChapterErr(fmt.Errorf("chapter %q (%s): %w", task.title, task.id, err))
		metrics.ObserveChapterFetch(string(res.Strategy), "error", res.Attempts)
		logger.Warn("chapter fetch failed",
			zap.String("chapter", task.title),
			zap.String("chapter_id", task.id),
			zap.Int("attempts", res.Attempts),
			zap.Error(err),
		)
		e.emit(progress.Event{
			RunID:    rs.eventID,
			Stage:    progress.StageChapterFailed,
			WorkID:   rs.work.ID,
			Chapter:  task.title,
			Strategy: string(res.Strategy),
			Attempts: res.Attempts,
			Dur:      elapsed,
			Note:     err.Error(),
		})
	} else {
		rs.chapters.Set(task.title, Resolved(task.id, res.Body))
		rs.fetched.Add(1)
		metrics.ObserveChapterFetch(string(res.Strategy), "success", res.Attempts)
		logger.Debug("chapter fetched",
			zap.String("chapter", task.title),
			zap.String("strategy", string(res.Strategy)),
			zap.Int("attempts", res.Attempts),
		)
		e.emit(progress.Event{
			RunID:    rs.eventID,
			Stage:    progress.StageChapterDone,
			WorkID:   rs.work.ID,
			Chapter:  task.title,
			Strategy: string(res.Strategy),
			Attempts: res.Attempts,
			Chars:    int64(len([]rune(res.Body))),
			Dur:      elapsed,
		})
	}

	e.deps.Pauser.Pause(ctx, e.cfg.Delay.Next())

	if res.Degraded {
		rs.degraded.Add(1)
		e.maybeRenew(ctx, rs, logger)
	}
	if err == nil && rs.resolved.Add(1)%int64(e.cfg.FlushEvery) == 0 {
		e.flush(ctx, rs, logger)
	}
}

// maybeRenew replaces the session once the degraded streak passes the
// threshold. Only the goroutine that resets the counter renews.
func (e *Engine) maybeRenew(ctx context.Context, rs *runState, logger *zap.Logger) {
	n := rs.degradedSinceRenew.Add(1)
	if n <= int64(e.cfg.RenewAfterDegraded) || !rs.degradedSinceRenew.CompareAndSwap(n, 0) {
		return
	}
	stale := e.deps.Session.Token()
	start := e.deps.Clock.Now()
	fresh, err := e.deps.Session.Renew(ctx, stale)
	if err != nil {
		if errors.Is(err, ErrSessionExhausted) {
			logger.Error("session renewal exhausted, stopping run", zap.Error(err))
			rs.cancel(err)
			return
		}
		logger.Warn("session renewal failed", zap.Error(err))
		return
	}
	rs.renewals.Add(1)
	logger.Info("session renewed", zap.Int64("degraded_streak", n), zap.Bool("changed", fresh != stale))
	e.emit(progress.Event{
		RunID:  rs.eventID,
		Stage:  progress.StageSessionRenew,
		WorkID: rs.work.ID,
		Dur:    e.deps.Clock.Now().Sub(start),
	})
}

func (e *Engine) flush(ctx context.Context, rs *runState, logger *zap.Logger) {
	rs.flushMu.Lock()
	defer rs.flushMu.Unlock()

	err := e.deps.Checkpoints.Save(ctx, rs.work, rs.chapters.Snapshot())
	metrics.ObserveCheckpointFlush(err)
	if err != nil {
		logger.Error("checkpoint flush failed", zap.Error(err))
		rs.recordFlushErr(fmt.Errorf("save checkpoint: %w", err))
		return
	}
	rs.flushes.Add(1)
	pending, resolved := rs.chapters.Counts()
	logger.Debug("checkpoint written", zap.Int("resolved", resolved), zap.Int("pending", pending))
	e.emit(progress.Event{
		RunID:  rs.eventID,
		Stage:  progress.StageCheckpoint,
		WorkID: rs.work.ID,
		Note:   fmt.Sprintf("%d/%d resolved", resolved, resolved+pending),
	})
}

func (e *Engine) finish(summary Summary, eventID [16]byte, err error) (Summary, error) {
	summary.FinishedAt = e.deps.Clock.Now()
	stage := progress.StageWorkDone
	note := summary.Status
	if err != nil {
		summary.Error = err.Error()
		stage = progress.StageWorkError
		note = err.Error()
	}
	e.emit(progress.Event{
		RunID:  eventID,
		Stage:  stage,
		WorkID: summary.WorkID,
		Dur:    summary.FinishedAt.Sub(summary.StartedAt),
		Note:   note,
	})
	return summary, err
}

func (e *Engine) resolveRunID(ctx context.Context) (string, error) {
	if id, ok := RunIDFromContext(ctx); ok {
		return id, nil
	}
	if e.deps.IDGen == nil {
		return "", errors.New("no run id in context and no id generator configured")
	}
	id, err := e.deps.IDGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

func (e *Engine) emit(evt progress.Event) {
	if e.deps.Emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = e.deps.Clock.Now().UTC()
	}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	e.deps.Emitter.Emit(evt)
}
