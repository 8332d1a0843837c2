// Core types shared across subsystems.
package crawler

import "time"

// CompletedStatus is the host's status label for a finished work.
const CompletedStatus = "已完结"

// ChapterRef is one entry of a work's chapter listing.
type ChapterRef struct {
	Title string `json:"title"`
	ID    string `json:"chapter_id"`
}

// Work is the metadata scraped from a work's landing page.
type Work struct {
	ID       int64        `json:"work_id"`
	Title    string       `json:"title"`
	Status   string       `json:"status"`
	Chapters []ChapterRef `json:"chapters"`
}

// IsCompleted reports whether the host marks the work as finished.
func (w Work) IsCompleted() bool {
	return w.Status == CompletedStatus
}

// RecordState is the lifecycle state of one chapter slot.
type RecordState string

// Chapter slot states persisted in checkpoints.
const (
	StatePending  RecordState = "pending"
	StateResolved RecordState = "resolved"
)

// ChapterRecord is either Pending (carrying the chapter ID still to fetch) or
// Resolved (carrying the decoded body).
type ChapterRecord struct {
	State     RecordState
	ChapterID string
	Body      string
}

// Pending builds an unresolved record.
func Pending(chapterID string) ChapterRecord {
	return ChapterRecord{State: StatePending, ChapterID: chapterID}
}

// Resolved builds a record holding fetched text.
func Resolved(chapterID, body string) ChapterRecord {
	return ChapterRecord{State: StateResolved, ChapterID: chapterID, Body: body}
}

// IsResolved reports whether the slot holds fetched text.
func (r ChapterRecord) IsResolved() bool {
	return r.State == StateResolved
}

// FetchMode selects retry behaviour for a chapter fetch.
type FetchMode int

// Fetch modes.
const (
	// FetchNormal retries transient failures with backoff.
	FetchNormal FetchMode = iota
	// FetchProbe makes one attempt and fails fast. Used to validate session tokens.
	FetchProbe
)

// Strategy names the extraction path that produced a chapter body.
type Strategy string

// Extraction strategies, tried in this order.
const (
	StrategyReader   Strategy = "reader"
	StrategyLegacy   Strategy = "legacy_api"
	StrategyHeadless Strategy = "headless"
)

// FetchResult is returned by a ChapterFetcher.
type FetchResult struct {
	Body string
	// Degraded is set when the fetch needed at least one retry.
	Degraded bool
	Attempts int
	Strategy Strategy
}

// Summary describes one DownloadWork run.
type Summary struct {
	RunID           string    `json:"run_id"`
	WorkID          int64     `json:"work_id"`
	Title           string    `json:"title"`
	Status          string    `json:"status"`
	Total           int       `json:"total"`
	Fetched         int64     `json:"fetched"`
	Reused          int       `json:"reused"`
	Failed          int64     `json:"failed"`
	Chars           int64     `json:"chars"`
	Degraded        int64     `json:"degraded"`
	Flushes         int64     `json:"flushes"`
	SessionRenewals int64     `json:"session_renewals"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Error           string    `json:"error,omitempty"`
}

// Pending reports how many chapters remain unresolved after the run.
func (s Summary) Pending() int {
	left := s.Total - s.Reused - int(s.Fetched)
	if left < 0 {
		return 0
	}
	return left
}

// QueueItem wraps a work download waiting for a worker.
type QueueItem struct {
	RunID     string
	WorkID    int64
	Attempt   int
	Submitted int64
}
