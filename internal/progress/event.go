// Package progress defines the event structures emitted during work downloads.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageWorkStart     Stage = "WORK_START"
	StageWorkDone      Stage = "WORK_DONE"
	StageWorkError     Stage = "WORK_ERROR"
	StageChapterDone   Stage = "CHAPTER_DONE"
	StageChapterFailed Stage = "CHAPTER_FAILED"
	StageCheckpoint    Stage = "CHECKPOINT"
	StageSessionRenew  Stage = "SESSION_RENEW"
)

// Event captures a single component of download progress.
type Event struct {
	// RunID uniquely identifies a download run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// WorkID is the host's identifier of the work being downloaded.
	WorkID int64
	// Chapter is the chapter title for chapter stages.
	Chapter string
	// Strategy names the extraction path for CHAPTER_DONE.
	Strategy string
	// Attempts counts fetch attempts spent on the chapter.
	Attempts int
	// Chars is the decoded body length in characters.
	Chars int64
	// Dur captures fetch latency for chapters and wall time for works.
	Dur time.Duration
	// Note lets emitters attach low-volume context (status label, error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.WorkID <= 0 {
		return errors.New("work id is required")
	}
	switch e.Stage {
	case StageWorkStart, StageWorkDone, StageWorkError, StageCheckpoint, StageSessionRenew:
	case StageChapterDone, StageChapterFailed:
		if e.Chapter == "" {
			return fmt.Errorf("%s requires chapter", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID converts a textual run ID. Unparseable input yields the zero
// value, which Validate rejects.
func ParseRunID(s string) [16]byte {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(id)
}
