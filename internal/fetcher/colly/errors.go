package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
)

// classifyResponseError maps a failed colly response onto the crawler error
// taxonomy. Rejected sessions surface as ErrAuth, everything else is transport.
func classifyResponseError(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", crawler.ErrAuth, status)
	case status >= 400:
		return fmt.Errorf("%w: status %d", crawler.ErrTransport, status)
	case isTimeout(err):
		return fmt.Errorf("%w: timeout: %v", crawler.ErrTransport, err)
	case err != nil:
		return fmt.Errorf("%w: %v", crawler.ErrTransport, err)
	default:
		return nil
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout exceeded")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
