package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
)

// FormatVersion is written into every checkpoint document.
const FormatVersion = 1

// ErrCorrupt means a stored checkpoint could not be decoded.
var ErrCorrupt = errors.New("corrupt checkpoint")

type document struct {
	Version   int          `json:"version"`
	WorkID    int64        `json:"work_id"`
	Title     string       `json:"title"`
	Status    string       `json:"status"`
	UpdatedAt time.Time    `json:"updated_at"`
	Chapters  []chapterDoc `json:"chapters"`
}

type chapterDoc struct {
	Title     string              `json:"title"`
	ChapterID string              `json:"chapter_id"`
	State     crawler.RecordState `json:"state"`
	Body      string              `json:"body,omitempty"`
}

// Encode renders chapters in insertion order.
func Encode(work crawler.Work, chapters *crawler.ChapterMap, now time.Time) ([]byte, error) {
	doc := document{
		Version:   FormatVersion,
		WorkID:    work.ID,
		Title:     work.Title,
		Status:    work.Status,
		UpdatedAt: now.UTC(),
		Chapters:  make([]chapterDoc, 0, chapters.Len()),
	}
	chapters.Each(func(title string, rec crawler.ChapterRecord) bool {
		entry := chapterDoc{Title: title, ChapterID: rec.ChapterID, State: rec.State}
		if rec.IsResolved() {
			entry.Body = rec.Body
		}
		doc.Chapters = append(doc.Chapters, entry)
		return true
	})

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses either the versioned document or the legacy flat
// {"title": "body-or-id"} object.
func Decode(data []byte) (*crawler.ChapterMap, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrCorrupt)
	}
	if isVersioned(data) {
		return decodeVersioned(data)
	}
	return decodeLegacy(data)
}

func isVersioned(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	raw, ok := probe["version"]
	if !ok {
		return false
	}
	if _, ok := probe["chapters"]; !ok {
		return false
	}
	var v int
	return json.Unmarshal(raw, &v) == nil
}

func decodeVersioned(data []byte) (*crawler.ChapterMap, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, doc.Version)
	}
	out := crawler.NewChapterMap()
	for i, ch := range doc.Chapters {
		switch ch.State {
		case crawler.StateResolved:
			out.Set(ch.Title, crawler.Resolved(ch.ChapterID, ch.Body))
		case crawler.StatePending:
			out.Set(ch.Title, crawler.Pending(ch.ChapterID))
		default:
			return nil, fmt.Errorf("%w: chapter %d has state %q", ErrCorrupt, i, ch.State)
		}
	}
	return out, nil
}

// decodeLegacy streams tokens so key order survives. Integer values, bare or
// quoted, are chapter IDs still to fetch.
func decodeLegacy(data []byte) (*crawler.ChapterMap, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: expected object", ErrCorrupt)
	}

	out := crawler.NewChapterMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		title, _ := keyTok.(string)
		valTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		switch v := valTok.(type) {
		case json.Number:
			if _, err := strconv.ParseInt(v.String(), 10, 64); err != nil {
				return nil, fmt.Errorf("%w: chapter %q has non-integer number %s", ErrCorrupt, title, v)
			}
			out.Set(title, crawler.Pending(v.String()))
		case string:
			if isChapterID(v) {
				out.Set(title, crawler.Pending(v))
			} else {
				out.Set(title, crawler.Resolved("", v))
			}
		default:
			return nil, fmt.Errorf("%w: chapter %q has unsupported value", ErrCorrupt, title)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}
	return out, nil
}

func isChapterID(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
