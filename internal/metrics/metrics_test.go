package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://fanqienovel.com/page/1", "fanqienovel.com"},
		{"standard https", "https://FanqieNovel.com/reader/2", "fanqienovel.com"},
		{"no scheme", "fanqienovel.com/page/1", "fanqienovel.com"},
		{"just host", "fanqienovel.com", "fanqienovel.com"},
		{"host with port", "127.0.0.1:8080", "127.0.0.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestHelpersInitialize(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	before := testutil.ToFloat64(chapterFetchTotal.WithLabelValues("reader", "success"))
	ObserveChapterFetch("reader", "success", 1)
	if got := testutil.ToFloat64(chapterFetchTotal.WithLabelValues("reader", "success")); got != before+1 {
		t.Errorf("expected chapter fetch counter %f, got %f", before+1, got)
	}

	errBefore := testutil.ToFloat64(checkpointFlushesTotal.WithLabelValues("error"))
	ObserveCheckpointFlush(errors.New("disk full"))
	if got := testutil.ToFloat64(checkpointFlushesTotal.WithLabelValues("error")); got != errBefore+1 {
		t.Errorf("expected checkpoint error counter %f, got %f", errBefore+1, got)
	}

	ObserveChapterFetch("", "error", 0)
	if got := testutil.ToFloat64(chapterFetchTotal.WithLabelValues("none", "error")); got < 1 {
		t.Errorf("expected empty strategy to be labeled none, got %f", got)
	}
}

func TestActiveGaugesAreSeparate(t *testing.T) {
	Init()

	works := testutil.ToFloat64(activeWorks)
	chapters := testutil.ToFloat64(activeChapterWorkers)

	IncActiveWorks()
	IncActiveChapterWorkers()
	IncActiveChapterWorkers()
	if got := testutil.ToFloat64(activeWorks); got != works+1 {
		t.Errorf("expected active works %f, got %f", works+1, got)
	}
	if got := testutil.ToFloat64(activeChapterWorkers); got != chapters+2 {
		t.Errorf("expected active chapter workers %f, got %f", chapters+2, got)
	}

	DecActiveWorks()
	DecActiveChapterWorkers()
	DecActiveChapterWorkers()
	if got := testutil.ToFloat64(activeWorks); got != works {
		t.Errorf("expected active works back to %f, got %f", works, got)
	}
	if got := testutil.ToFloat64(activeChapterWorkers); got != chapters {
		t.Errorf("expected active chapter workers back to %f, got %f", chapters, got)
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://fanqienovel.com", "https://example.org", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeHost(orig)
		if sanitized == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
