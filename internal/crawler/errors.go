package crawler

import "errors"

// Error classes surfaced by fetchers, the session acquirer and the engine.
var (
	// ErrTransport covers connection failures, timeouts, bad status codes and
	// malformed responses.
	ErrTransport = errors.New("transport error")
	// ErrWorkNotFound means the host has no work with the requested ID.
	ErrWorkNotFound = errors.New("work not found")
	// ErrAuth means the host rejected the session token.
	ErrAuth = errors.New("session rejected")
	// ErrDecodeAmbiguity means no extraction strategy found any paragraphs.
	ErrDecodeAmbiguity = errors.New("no paragraphs in chapter markup")
	// ErrSessionExhausted means acquisition ran out of candidate attempts.
	ErrSessionExhausted = errors.New("session acquisition exhausted")
	// ErrIncomplete means one or more chapters are still pending after a run.
	ErrIncomplete = errors.New("download incomplete")
	// ErrWorkInFlight means another run is already downloading the work.
	ErrWorkInFlight = errors.New("work already downloading")
	// ErrInvalidWorkRef means a work reference could not be parsed.
	ErrInvalidWorkRef = errors.New("invalid work reference")
)
