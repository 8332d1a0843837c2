// Package glyph reverses the host's private-use glyph substitution.
//
// The host renders chapter text with a custom font that maps a contiguous
// band of private-use codepoints to ordinary characters. Each Mode names one
// such band. Decoding is total and fail-open: characters outside the band, or
// inside it but without a known mapping, pass through unchanged.
package glyph

import (
	"strings"
	"sync"
)

// Mode selects a substitution table.
type Mode int

// Known substitution modes.
const (
	Mode0 Mode = iota
	Mode1
)

// Unmapped marks a table slot with no known real character.
const Unmapped = '?'

// Table is a contiguous codepoint band and its replacement characters.
type Table struct {
	Base    rune
	entries []rune

	reverseOnce sync.Once
	reverse     map[rune]rune
}

var tables = [...]*Table{
	Mode0: {Base: 0xE3E8, entries: []rune(mode0Entries)},
	Mode1: {Base: 0xE3E9, entries: []rune(mode1Entries)},
}

// For returns the table for mode, or nil when the mode is unknown.
func For(mode Mode) *Table {
	if mode < 0 || int(mode) >= len(tables) {
		return nil
	}
	return tables[mode]
}

// Len reports the band width.
func (t *Table) Len() int {
	return len(t.entries)
}

// Last returns the final codepoint of the band.
func (t *Table) Last() rune {
	return t.Base + rune(len(t.entries)) - 1
}

// Contains reports whether r falls inside the band.
func (t *Table) Contains(r rune) bool {
	return r >= t.Base && r <= t.Last()
}

// Lookup returns the real character for r, or r itself when it is outside the
// band or its slot is unmapped.
func (t *Table) Lookup(r rune) rune {
	if !t.Contains(r) {
		return r
	}
	ch := t.entries[r-t.Base]
	if ch == Unmapped {
		return r
	}
	return ch
}

// Decode maps every in-band character of raw through the table for mode.
// An unknown mode leaves the input untouched.
func Decode(raw string, mode Mode) string {
	t := For(mode)
	if t == nil || raw == "" {
		return raw
	}
	return strings.Map(t.Lookup, raw)
}

// Encode is the inverse of Decode for mapped characters: each character that
// some slot maps to is replaced by the first such codepoint. It exists to
// build obfuscated fixtures.
func Encode(text string, mode Mode) string {
	t := For(mode)
	if t == nil || text == "" {
		return text
	}
	t.reverseOnce.Do(t.buildReverse)
	return strings.Map(func(r rune) rune {
		if cp, ok := t.reverse[r]; ok {
			return cp
		}
		return r
	}, text)
}

func (t *Table) buildReverse() {
	t.reverse = make(map[rune]rune, len(t.entries))
	for i, ch := range t.entries {
		if ch == Unmapped {
			continue
		}
		if _, seen := t.reverse[ch]; !seen {
			t.reverse[ch] = t.Base + rune(i)
		}
	}
}
