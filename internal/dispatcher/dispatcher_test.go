package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/queue/memory"
	"github.com/JakeFAU/chapter-crawler/internal/worker"
)

type countingDownloader struct {
	mu   sync.Mutex
	seen map[int64]int
}

func (d *countingDownloader) DownloadWork(_ context.Context, workID int64) (crawler.Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[workID]++
	return crawler.Summary{WorkID: workID}, nil
}

func newWorkers(n int, q crawler.Queue, dl worker.Downloader) []*worker.Worker {
	out := make([]*worker.Worker, n)
	for i := range out {
		out[i] = worker.New(q, dl, nil, nil, nil, nil, worker.Config{}, zap.NewNop())
	}
	return out
}

func TestDispatcherDrainsClosedQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[crawler.QueueItem](16)
	dl := &countingDownloader{seen: map[int64]int{}}
	dispatch := New(q, newWorkers(3, q, dl))

	for id := int64(1); id <= 10; id++ {
		require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{WorkID: id}))
	}
	q.Close()

	done := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not return after queue drained")
	}

	require.Len(t, dl.seen, 10)
	for id, n := range dl.seen {
		require.Equal(t, 1, n, "work %d processed more than once", id)
	}
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[crawler.QueueItem](1)
	dispatch := New(q, newWorkers(2, q, &countingDownloader{seen: map[int64]int{}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[crawler.QueueItem](1)
	q.Close()
	dispatch := New(q, nil)

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{WorkID: 1})
	require.True(t, errors.Is(err, memory.ErrClosed))
	require.ErrorContains(t, err, "queue enqueue")
}

func TestDispatcherEnqueueRefusesBusyWork(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue[crawler.QueueItem](4)
	busy := func(workID int64) bool { return workID == 7 }
	dispatch := New(q, nil, WithBusyCheck(busy))

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{WorkID: 7})
	require.ErrorIs(t, err, crawler.ErrWorkInFlight)
	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{WorkID: 8}))
	require.Equal(t, 1, q.Len())
}
