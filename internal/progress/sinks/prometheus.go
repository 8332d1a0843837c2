package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/chapter-crawler/internal/progress"
)

// PrometheusSink exports download progress via Prometheus. It owns the
// collectors for works started/completed/running and per-chapter outcomes.
type PrometheusSink struct {
	worksStarted   prometheus.Counter
	worksCompleted *prometheus.CounterVec
	worksRunning   prometheus.Gauge
	workRuntime    *prometheus.HistogramVec

	chapters        *prometheus.CounterVec
	chapterChars    prometheus.Counter
	chapterDuration *prometheus.HistogramVec
	checkpoints     prometheus.Counter
	renewals        prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		worksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chapter_crawler_works_started_total",
			Help: "Total work downloads that have started.",
		}),
		worksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapter_crawler_works_completed_total",
			Help: "Total work downloads completed partitioned by result.",
		}, []string{"result"}),
		worksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chapter_crawler_works_running",
			Help: "Current number of running work downloads.",
		}),
		workRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chapter_crawler_work_runtime_seconds",
			Help:    "Wall time per completed work download.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		chapters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapter_crawler_chapters_total",
			Help: "Chapter fetch outcomes partitioned by result and strategy.",
		}, []string{"result", "strategy"}),
		chapterChars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chapter_crawler_chapter_chars_total",
			Help: "Decoded characters downloaded.",
		}),
		chapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chapter_crawler_chapter_duration_seconds",
			Help:    "Chapter fetch duration including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"result"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chapter_crawler_checkpoints_total",
			Help: "Checkpoint flushes written.",
		}),
		renewals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chapter_crawler_session_renewals_total",
			Help: "Session re-acquisitions triggered by degraded fetches.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.worksStarted,
		s.worksCompleted,
		s.worksRunning,
		s.workRuntime,
		s.chapters,
		s.chapterChars,
		s.chapterDuration,
		s.checkpoints,
		s.renewals,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageWorkStart:
		s.worksStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.worksRunning.Inc()
		}
	case progress.StageWorkDone:
		s.finishWork(evt, "success")
	case progress.StageWorkError:
		s.finishWork(evt, "error")
	case progress.StageChapterDone:
		s.chapters.WithLabelValues("success", strategyLabel(evt.Strategy)).Inc()
		if evt.Chars > 0 {
			s.chapterChars.Add(float64(evt.Chars))
		}
		s.observeChapter(evt, "success")
	case progress.StageChapterFailed:
		s.chapters.WithLabelValues("error", strategyLabel(evt.Strategy)).Inc()
		s.observeChapter(evt, "error")
	case progress.StageCheckpoint:
		s.checkpoints.Inc()
	case progress.StageSessionRenew:
		s.renewals.Inc()
	}
}

func (s *PrometheusSink) finishWork(evt progress.Event, result string) {
	s.worksCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.workRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.worksRunning.Dec()
	}
}

func (s *PrometheusSink) observeChapter(evt progress.Event, result string) {
	if evt.Dur > 0 {
		s.chapterDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func strategyLabel(strategy string) string {
	if strategy == "" {
		return "none"
	}
	return strategy
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
