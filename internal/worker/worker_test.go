package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/chapter-crawler/internal/publisher/memory"
	"github.com/JakeFAU/chapter-crawler/internal/queue/memory"
	storemem "github.com/JakeFAU/chapter-crawler/internal/storage/memory"
)

type fakeDownloader struct {
	mu      sync.Mutex
	results map[int64]crawler.Summary
	errs    map[int64]error
	runIDs  []string
}

func (d *fakeDownloader) DownloadWork(ctx context.Context, workID int64) (crawler.Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	runID, _ := crawler.RunIDFromContext(ctx)
	d.runIDs = append(d.runIDs, runID)
	summary := d.results[workID]
	summary.WorkID = workID
	summary.RunID = runID
	return summary, d.errs[workID]
}

type fakeRegistry struct {
	mu      sync.Mutex
	tracked map[int64]bool
	runs    []crawler.Summary
	err     error
}

func newFakeRegistry(ids ...int64) *fakeRegistry {
	r := &fakeRegistry{tracked: map[int64]bool{}}
	for _, id := range ids {
		r.tracked[id] = true
	}
	return r
}

func (r *fakeRegistry) Track(_ context.Context, workID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tracked[workID] = true
	return nil
}

func (r *fakeRegistry) Untrack(_ context.Context, workID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracked, workID)
	return nil
}

func (r *fakeRegistry) List(context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for id := range r.tracked {
		out = append(out, id)
	}
	return out, nil
}

func (r *fakeRegistry) RecordRun(_ context.Context, summary crawler.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, summary)
	return nil
}

func (r *fakeRegistry) isTracked(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracked[id]
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("pub failure")
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func TestProcessSuccessTracksRecordsAndPublishes(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{results: map[int64]crawler.Summary{
		42: {Title: "书", Status: "连载中", Total: 3, Fetched: 3},
	}}
	reg := newFakeRegistry()
	summaries := storemem.NewRunStore()
	pub := pubmemory.New()
	w := New(nil, dl, reg, summaries, pub, fakeClock{time.Unix(100, 0).UTC()}, Config{Topic: "works"}, zap.NewNop())

	summary, err := w.Process(context.Background(), crawler.QueueItem{RunID: "run-1", WorkID: 42})
	require.NoError(t, err)
	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, []string{"run-1"}, dl.runIDs)
	require.True(t, reg.isTracked(42))
	require.Len(t, reg.runs, 1)

	stored, err := summaries.GetSummary(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, int64(3), stored.Fetched)

	payloads := pub.Payloads("works")
	require.Len(t, payloads, 1)
	note, ok := payloads[0].(Notification)
	require.True(t, ok)
	require.Equal(t, Notification{
		RunID:     "run-1",
		WorkID:    42,
		Title:     "书",
		Status:    "连载中",
		Fetched:   3,
		Timestamp: "1970-01-01T00:01:40Z",
	}, note)
}

func TestProcessNotFoundUntracks(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{errs: map[int64]error{7: fmt.Errorf("enumerate work 7: %w", crawler.ErrWorkNotFound)}}
	reg := newFakeRegistry(7)
	w := New(nil, dl, reg, nil, nil, nil, Config{}, zap.NewNop())

	_, err := w.Process(context.Background(), crawler.QueueItem{WorkID: 7})
	require.ErrorIs(t, err, crawler.ErrWorkNotFound)
	require.False(t, reg.isTracked(7))
	require.Empty(t, reg.runs)
}

func TestProcessUntrackCompleted(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{
		results: map[int64]crawler.Summary{
			1: {Status: crawler.CompletedStatus, Total: 2, Fetched: 2},
			2: {Status: crawler.CompletedStatus, Total: 2, Fetched: 1},
			3: {Status: "连载中", Total: 1, Fetched: 1},
		},
		errs: map[int64]error{2: crawler.ErrIncomplete},
	}
	reg := newFakeRegistry(1, 2, 3)
	w := New(nil, dl, reg, nil, nil, nil, Config{UntrackCompleted: true}, zap.NewNop())

	for _, id := range []int64{1, 2, 3} {
		_, _ = w.Process(context.Background(), crawler.QueueItem{WorkID: id})
	}
	require.False(t, reg.isTracked(1), "completed work stays tracked")
	require.True(t, reg.isTracked(2), "incomplete download must be retried on the next update")
	require.True(t, reg.isTracked(3))
}

func TestProcessKeepsCompletedWithoutUntrackFlag(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{results: map[int64]crawler.Summary{1: {Status: crawler.CompletedStatus}}}
	reg := newFakeRegistry()
	w := New(nil, dl, reg, nil, nil, nil, Config{}, zap.NewNop())

	_, err := w.Process(context.Background(), crawler.QueueItem{WorkID: 1})
	require.NoError(t, err)
	require.True(t, reg.isTracked(1))
}

func TestProcessBookkeepingFailuresDoNotMaskResult(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{results: map[int64]crawler.Summary{5: {Total: 1, Fetched: 1}}}
	reg := newFakeRegistry()
	reg.err = errors.New("registry down")
	w := New(nil, dl, reg, nil, failingPublisher{}, nil, Config{Topic: "works"}, zap.NewNop())

	summary, err := w.Process(context.Background(), crawler.QueueItem{WorkID: 5})
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Fetched)
	require.Empty(t, reg.runs)
}

func TestProcessSkipsWorkAlreadyDownloading(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{errs: map[int64]error{9: fmt.Errorf("download work 9: %w", crawler.ErrWorkInFlight)}}
	reg := newFakeRegistry(9)
	summaries := storemem.NewRunStore()
	pub := pubmemory.New()
	w := New(nil, dl, reg, summaries, pub, nil, Config{Topic: "works", UntrackCompleted: true}, zap.NewNop())

	_, err := w.Process(context.Background(), crawler.QueueItem{WorkID: 9})
	require.ErrorIs(t, err, crawler.ErrWorkInFlight)
	require.True(t, reg.isTracked(9))
	require.Empty(t, reg.runs)
	require.Empty(t, pub.Payloads("works"))
	_, err = summaries.GetSummary(context.Background(), 9)
	require.Error(t, err)
}

func TestRunDrainsQueueUntilClosed(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[crawler.QueueItem](4)
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{RunID: fmt.Sprintf("run-%d", id), WorkID: id}))
	}
	q.Close()

	summaries := storemem.NewRunStore()
	dl := &fakeDownloader{}
	w := New(q, dl, nil, summaries, nil, nil, Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue drained")
	}
	require.Equal(t, []string{"run-1", "run-2", "run-3"}, dl.runIDs)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[crawler.QueueItem](1)
	w := New(q, &fakeDownloader{}, nil, nil, nil, nil, Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"success":           nil,
		"not_found":         fmt.Errorf("x: %w", crawler.ErrWorkNotFound),
		"session_exhausted": errors.Join(crawler.ErrIncomplete, crawler.ErrSessionExhausted),
		"canceled":          errors.Join(crawler.ErrIncomplete, context.Canceled),
		"incomplete":        crawler.ErrIncomplete,
		"error":             errors.New("disk full"),
	}
	for want, err := range cases {
		require.Equal(t, want, classify(err))
	}
}
