// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/api"
	"github.com/JakeFAU/chapter-crawler/internal/checkpoint"
	"github.com/JakeFAU/chapter-crawler/internal/clock/system"
	"github.com/JakeFAU/chapter-crawler/internal/config"
	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/chapter-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/chapter-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/chapter-crawler/internal/id/uuid"
	"github.com/JakeFAU/chapter-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/chapter-crawler/internal/progress"
	"github.com/JakeFAU/chapter-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/chapter-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/chapter-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/chapter-crawler/internal/queue/memory"
	"github.com/JakeFAU/chapter-crawler/internal/registry"
	"github.com/JakeFAU/chapter-crawler/internal/session"
	gcsstore "github.com/JakeFAU/chapter-crawler/internal/storage/gcs"
	"github.com/JakeFAU/chapter-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/chapter-crawler/internal/storage/memory"
	"github.com/JakeFAU/chapter-crawler/internal/storage/postgres"
	"github.com/JakeFAU/chapter-crawler/internal/store"
	"github.com/JakeFAU/chapter-crawler/internal/worker"
)

// LockFile is created inside storage.base_dir while a process owns it.
const LockFile = ".chaptercrawler.lock"

const shutdownTimeout = 10 * time.Second

// Options overrides pieces of the wiring. The zero value builds everything
// from config.
type Options struct {
	// Registerer receives the progress collectors; nil uses the default registry.
	Registerer prometheus.Registerer
	// Blobs replaces the configured blob backend.
	Blobs store.BlobStore
}

// App holds the shared services built from one Config.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	blobs       store.BlobStore
	checkpoints *checkpoint.Store
	fetcher     *collyfetcher.Fetcher
	session     *session.Acquirer
	engine      *crawler.Engine
	downloader  worker.Downloader
	registry    crawler.Registry
	summaries   crawler.SummaryStore
	progress    store.ProgressRepository
	publisher   crawler.Publisher
	hub         *progress.Hub
	clock       crawler.Clock
	idGen       crawler.IDGenerator

	lock    *flock.Flock
	closers []func() error
}

// New builds every service named by cfg. On failure, anything already opened
// is released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		idGen:  uuid.New(),
	}
	steps := []func() error{
		func() error { return a.initBlobs(ctx, opts.Blobs) },
		func() error { return a.initRegistry(ctx) },
		func() error { return a.initPublisher(ctx) },
		func() error { return a.initHub(opts.Registerer) },
		a.initEngine,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, multierr.Append(err, a.Close(context.Background()))
		}
	}
	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("registry", cfg.Registry.Provider),
		zap.Bool("headless", cfg.Headless.Enabled),
	)
	return a, nil
}

func (a *App) initBlobs(ctx context.Context, override store.BlobStore) error {
	if override != nil {
		a.blobs = override
		return nil
	}
	switch a.cfg.Storage.Provider {
	case config.ProviderLocal:
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		lockPath := filepath.Join(blobs.BaseDir(), LockFile)
		lock := flock.New(lockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire data dir lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("data dir %s is in use by another process (lock %s)", blobs.BaseDir(), lockPath)
		}
		a.lock = lock
		a.blobs = blobs
	case config.ProviderGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		blobs, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.blobs = blobs
	case config.ProviderMemory:
		a.blobs = memoryStorage.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage provider %q", a.cfg.Storage.Provider)
	}
	return nil
}

func (a *App) initRegistry(ctx context.Context) error {
	switch a.cfg.Registry.Provider {
	case config.ProviderPostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		reg, err := postgres.NewRegistry(pool, a.cfg.DB.Table)
		if err != nil {
			return fmt.Errorf("init registry: %w", err)
		}
		if err := reg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure registry schema: %w", err)
		}
		runs, err := postgres.NewProgressStore(pool)
		if err != nil {
			return fmt.Errorf("init progress store: %w", err)
		}
		if err := runs.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure progress schema: %w", err)
		}
		a.registry = reg
		a.summaries = reg
		a.progress = runs
	default:
		runs := memoryStorage.NewRunStore()
		a.registry = registry.NewFile(a.blobs)
		a.summaries = runs
		a.progress = runs
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	a.closers = append(a.closers, func() error {
		pub.Close()
		return client.Close()
	})
	a.publisher = pub
	return nil
}

func (a *App) initHub(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	a.hub = progress.NewHub(
		progress.Config{Logger: a.logger.Named("progress")},
		sinks.NewLogSink(a.logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(a.progress, a.logger.Named("progress")),
	)
	return nil
}

func (a *App) initEngine() error {
	fetchCfg := collyfetcher.Config{
		BaseURL:    a.cfg.Host.BaseURL,
		CookieName: a.cfg.Session.CookieName,
		UserAgents: a.cfg.Host.UserAgents,
		Timeout:    a.cfg.RequestTimeout(),
		Retry:      a.cfg.RetryPolicy(),
	}
	if a.cfg.RateLimit.RPS > 0 {
		fetchCfg.Limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.RPS,
			DefaultBurst: a.cfg.RateLimit.Burst,
		})
	}
	if a.cfg.Headless.Enabled {
		ua := ""
		if len(a.cfg.Host.UserAgents) > 0 {
			ua = a.cfg.Host.UserAgents[0]
		}
		renderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         ua,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("init headless renderer: %w", err)
		}
		a.closers = append(a.closers, func() error { renderer.Close(); return nil })
		fetchCfg.Renderer = renderer
	}
	a.fetcher = collyfetcher.New(fetchCfg, a.logger.Named("fetcher"))

	a.checkpoints = checkpoint.New(a.blobs, a.logger.Named("checkpoint"),
		checkpoint.WithPrefix(a.cfg.Storage.Prefix),
		checkpoint.WithClock(a.clock),
	)
	a.session = session.New(session.Config{
		SeedWorkID:    a.cfg.Session.SeedWorkID,
		SeedChapterID: a.cfg.Session.SeedChapterID,
		MaxAttempts:   a.cfg.Session.MaxAttempts,
		MinBodyChars:  a.cfg.Session.MinBodyChars,
		ProbeDelay:    a.cfg.ProbeDelay(),
	}, session.Deps{
		Fetcher:    a.fetcher,
		Enumerator: a.fetcher,
		Store:      checkpoint.NewSessionFile(a.blobs, a.cfg.Session.CookieName),
	}, a.logger.Named("session"))

	a.engine = crawler.NewEngine(crawler.EngineDeps{
		Enumerator:  a.fetcher,
		Fetcher:     a.fetcher,
		Checkpoints: a.checkpoints,
		Session:     a.session,
		Clock:       a.clock,
		IDGen:       a.idGen,
		Emitter:     a.hub,
	}, crawler.EngineConfig{
		Concurrency:        a.cfg.Crawler.Concurrency,
		Delay:              a.cfg.ChapterDelay(),
		FlushEvery:         a.cfg.Crawler.FlushEvery,
		RenewAfterDegraded: a.cfg.Crawler.RenewAfterDegraded,
		ChapterTimeout:     a.cfg.ChapterTimeout(),
	}, a.logger.Named("engine"))
	a.downloader = a.engine
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry exposes the tracked-work registry.
func (a *App) Registry() crawler.Registry {
	return a.registry
}

// Bootstrap loads and validates the persisted session, acquiring a new one
// when it no longer works.
func (a *App) Bootstrap(ctx context.Context) (string, error) {
	token, err := a.session.Bootstrap(ctx)
	if err != nil {
		return "", fmt.Errorf("bootstrap session: %w", err)
	}
	return token, nil
}

// Result pairs a finished run with its error.
type Result struct {
	Summary crawler.Summary
	Err     error
}

// recorder captures each download outcome as workers finish them.
type recorder struct {
	worker.Downloader
	mu      sync.Mutex
	results map[int64]Result
}

func (r *recorder) DownloadWork(ctx context.Context, workID int64) (crawler.Summary, error) {
	summary, err := r.Downloader.DownloadWork(ctx, workID)
	if summary.WorkID == 0 {
		summary.WorkID = workID
	}
	r.mu.Lock()
	r.results[workID] = Result{Summary: summary, Err: err}
	r.mu.Unlock()
	return summary, err
}

// Download queues workIDs, fans them out to crawler.workers workers and
// returns one Result per work in input order. untrackCompleted drops works
// the host reports as finished.
func (a *App) Download(ctx context.Context, workIDs []int64, untrackCompleted bool) ([]Result, error) {
	if len(workIDs) == 0 {
		return nil, nil
	}
	if _, err := a.Bootstrap(ctx); err != nil {
		return nil, err
	}

	unique := make([]int64, 0, len(workIDs))
	seen := make(map[int64]struct{}, len(workIDs))
	for _, id := range workIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	q := queueMemory.NewQueue[crawler.QueueItem](len(unique))
	rec := &recorder{Downloader: a.downloader, results: make(map[int64]Result, len(unique))}
	d := dispatcher.New(q, a.workers(q, rec, untrackCompleted))
	for _, id := range unique {
		runID, err := a.idGen.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		item := crawler.QueueItem{RunID: runID, WorkID: id, Attempt: 1, Submitted: a.clock.Now().Unix()}
		if err := d.Enqueue(ctx, item); err != nil {
			return nil, err
		}
	}
	q.Close()
	d.Run(ctx)

	out := make([]Result, 0, len(unique))
	for _, id := range unique {
		res, ok := rec.results[id]
		if !ok {
			cause := context.Cause(ctx)
			if cause == nil {
				cause = context.Canceled
			}
			res = Result{Summary: crawler.Summary{WorkID: id}, Err: fmt.Errorf("work %d not started: %w", id, cause)}
		}
		out = append(out, res)
	}
	return out, nil
}

// Update re-downloads every tracked work, dropping completed and missing ones.
func (a *App) Update(ctx context.Context) ([]Result, error) {
	ids, err := a.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracked works: %w", err)
	}
	a.logger.Info("updating tracked works", zap.Int("works", len(ids)))
	return a.Download(ctx, ids, true)
}

func (a *App) workers(q crawler.Queue, downloader worker.Downloader, untrackCompleted bool) []*worker.Worker {
	n := max(a.cfg.Crawler.Workers, 1)
	workers := make([]*worker.Worker, 0, n)
	for i := range n {
		workers = append(workers, worker.New(
			q,
			downloader,
			a.registry,
			a.summaries,
			a.publisher,
			a.clock,
			worker.Config{Topic: a.cfg.PubSub.TopicName, UntrackCompleted: untrackCompleted},
			a.logger.Named("worker").With(zap.Int("worker", i)),
		))
	}
	return workers
}

// Serve runs the HTTP control plane and its download workers until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	if _, err := a.Bootstrap(ctx); err != nil {
		return err
	}
	depth := max(a.cfg.Crawler.QueueDepth, 1)
	q := queueMemory.NewQueue[crawler.QueueItem](depth)
	d := dispatcher.New(q, a.workers(q, a.downloader, false), dispatcher.WithBusyCheck(a.engine.Busy))
	server := api.NewServer(a.summaries, a.progress, d, a.idGen, a.clock, a.cfg, a.logger.Named("api"))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		d.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("shutdown http server: %w", shutdownErr))
	}
	q.Close()
	<-workersDone
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Close flushes progress sinks and releases clients and the data dir lock.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.hub != nil {
		closeCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		err = multierr.Append(err, a.hub.Close(closeCtx))
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	if a.lock != nil {
		if unlockErr := a.lock.Unlock(); unlockErr != nil {
			err = multierr.Append(err, fmt.Errorf("release data dir lock: %w", unlockErr))
		}
		a.lock = nil
	}
	return err
}
