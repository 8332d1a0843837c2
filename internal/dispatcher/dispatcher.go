// Package dispatcher fans queued work downloads out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	busy    func(workID int64) bool
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithBusyCheck makes Enqueue refuse works for which busy reports true.
func WithBusyCheck(busy func(workID int64) bool) Option {
	return func(d *Dispatcher) {
		d.busy = busy
	}
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:   queue,
		workers: workers,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts all workers and blocks until every one has returned, either
// because ctx finished or because the queue was closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue. A work that is already
// downloading is refused with crawler.ErrWorkInFlight.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if d.busy != nil && d.busy(item.WorkID) {
		return fmt.Errorf("queue enqueue: work %d: %w", item.WorkID, crawler.ErrWorkInFlight)
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
