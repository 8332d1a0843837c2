// Package crawler implements the chapter retrieval engine: it enumerates a
// work's chapters, diffs them against the last checkpoint, fetches what is
// missing through a bounded worker pool, renews the shared session when too
// many fetches degrade, and flushes progress incrementally so an interrupted
// download resumes where it stopped.
package crawler
