package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	renderer, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer renderer.Close()
	if cap(renderer.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(renderer.limiter))
	}
}

func TestRendererNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	renderer := &Renderer{}
	if got := renderer.navTimeout(); got != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	renderer.cfg.NavigationTimeout = time.Second
	if got := renderer.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	renderer := &Renderer{limiter: make(chan struct{}, 1)}
	if err := renderer.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := renderer.acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	renderer.release()
	if err := renderer.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestToNetworkHeadersSkipsEmpty(t *testing.T) {
	t.Parallel()

	headers := toNetworkHeaders(map[string]string{"Cookie": "novel_web_id=1", "X-Empty": ""})
	if headers["Cookie"] != "novel_web_id=1" {
		t.Fatalf("expected cookie header, got %v", headers)
	}
	if _, ok := headers["X-Empty"]; ok {
		t.Fatal("empty header should be skipped")
	}
}

func TestDocumentStatusCapture(t *testing.T) {
	t.Parallel()

	meta := &documentStatus{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500},
	})
	if meta.get() != 0 {
		t.Fatalf("non-document responses must be ignored, got %d", meta.get())
	}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 403},
	})
	if meta.get() != 403 {
		t.Fatalf("expected 403, got %d", meta.get())
	}
}
