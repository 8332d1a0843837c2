package crawler

import (
	"context"
	"time"
)

// ChapterFetcher retrieves and decodes one chapter body.
type ChapterFetcher interface {
	FetchChapter(ctx context.Context, chapterID, token string, mode FetchMode) (FetchResult, error)
}

// Enumerator lists a work's chapters. It returns ErrWorkNotFound when the
// host reports no such work.
type Enumerator interface {
	ListChapters(ctx context.Context, workID int64) (Work, error)
}

// CheckpointStore persists per-work chapter maps. Load returns an empty map
// when no checkpoint exists.
type CheckpointStore interface {
	Load(ctx context.Context, workID int64) (*ChapterMap, error)
	Save(ctx context.Context, work Work, chapters *ChapterMap) error
}

// SessionSource hands out the shared session token and replaces it on demand.
// Renew is a no-op returning the current token when stale has already been
// replaced by another caller.
type SessionSource interface {
	Token() string
	Renew(ctx context.Context, stale string) (string, error)
}

// RetryPolicy decides whether and when a failed fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Pauser sleeps for a duration or until ctx ends.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Registry tracks works to revisit on update runs.
type Registry interface {
	Track(ctx context.Context, workID int64) error
	Untrack(ctx context.Context, workID int64) error
	List(ctx context.Context) ([]int64, error)
	RecordRun(ctx context.Context, summary Summary) error
}

// SummaryStore keeps the latest summary per work.
type SummaryStore interface {
	PutSummary(ctx context.Context, summary Summary) error
	GetSummary(ctx context.Context, workID int64) (Summary, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for work downloads.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
