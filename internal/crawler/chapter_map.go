package crawler

import (
	"sync"
	"unicode/utf8"
)

// ChapterMap is an insertion-ordered title -> record mapping safe for
// concurrent use. Re-setting an existing title keeps its first position.
type ChapterMap struct {
	mu     sync.RWMutex
	order  []string
	values map[string]ChapterRecord
}

// NewChapterMap returns an empty map.
func NewChapterMap() *ChapterMap {
	return &ChapterMap{values: make(map[string]ChapterRecord)}
}

// Set stores rec under title.
func (m *ChapterMap) Set(title string, rec ChapterRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[title]; !ok {
		m.order = append(m.order, title)
	}
	m.values[title] = rec
}

// Get returns the record for title.
func (m *ChapterMap) Get(title string) (ChapterRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.values[title]
	return rec, ok
}

// Len returns the number of titles.
func (m *ChapterMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Titles returns the titles in insertion order.
func (m *ChapterMap) Titles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Each calls fn for every entry in order over a consistent snapshot.
// Iteration stops when fn returns false.
func (m *ChapterMap) Each(fn func(title string, rec ChapterRecord) bool) {
	snap := m.Snapshot()
	for _, title := range snap.order {
		if !fn(title, snap.values[title]) {
			return
		}
	}
}

// Snapshot returns an independent copy.
func (m *ChapterMap) Snapshot() *ChapterMap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := &ChapterMap{
		order:  append([]string(nil), m.order...),
		values: make(map[string]ChapterRecord, len(m.values)),
	}
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// ResolvedChars sums the rune counts of resolved bodies.
func (m *ChapterMap) ResolvedChars() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.values {
		if rec.IsResolved() {
			n += utf8.RuneCountInString(rec.Body)
		}
	}
	return n
}

// Counts returns the number of pending and resolved entries.
func (m *ChapterMap) Counts() (pending, resolved int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.values {
		if rec.IsResolved() {
			resolved++
		} else {
			pending++
		}
	}
	return pending, resolved
}
