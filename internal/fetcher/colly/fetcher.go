// Package collyfetcher retrieves chapter text and work listings from the
// content host using gocolly, with goquery for embedded markup.
package collyfetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/glyph"
)

// DefaultBaseURL is the content host root.
const DefaultBaseURL = "https://fanqienovel.com"

// DefaultCookieName is the cookie carrying the session token.
const DefaultCookieName = "novel_web_id"

// Selectors for the host's markup.
const (
	selectReaderParagraphs = "div.muye-reader-content.noselect p"
	selectWorkTitle        = "h1"
	selectWorkStatus       = "span.info-label-yellow"
	selectChapterAnchors   = "div.chapter > div > a"
)

// DefaultUserAgents rotates between desktop browsers.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/93.0.4577.63 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:91.0) Gecko/20100101 Firefox/91.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/93.0.4577.63 Safari/537.36 Edg/93.0.961.47",
}

// Waiter throttles outgoing requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Renderer extracts reader paragraphs from a browser-rendered page.
type Renderer interface {
	Paragraphs(ctx context.Context, pageURL string, headers map[string]string) ([]string, error)
}

// Config controls collector behavior.
type Config struct {
	BaseURL    string
	CookieName string
	UserAgents []string
	Timeout    time.Duration
	Retry      crawler.RetryPolicy
	// Limiter is optional.
	Limiter Waiter
	// Renderer is the last extraction strategy; nil skips it.
	Renderer Renderer
}

// Fetcher implements crawler.ChapterFetcher and crawler.Enumerator.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = crawler.NewExponentialRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	// The session travels in an explicit header; a jar would leak it across works.
	c.DisableCookies()

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// ReaderURL returns the reader page for a chapter.
func (f *Fetcher) ReaderURL(chapterID string) string {
	return f.cfg.BaseURL + "/reader/" + chapterID
}

// WorkURL returns the landing page for a work.
func (f *Fetcher) WorkURL(workID int64) string {
	return f.cfg.BaseURL + "/page/" + strconv.FormatInt(workID, 10)
}

func (f *Fetcher) legacyURL(chapterID string) string {
	return f.cfg.BaseURL + "/api/reader/full?itemId=" + chapterID
}

// FetchChapter downloads and decodes one chapter. Normal mode retries per the
// retry policy; probe mode makes exactly one attempt against the reader page
// with no fallback strategies. Attempts and Degraded are populated on failure
// too.
func (f *Fetcher) FetchChapter(
	ctx context.Context,
	chapterID, token string,
	mode crawler.FetchMode,
) (crawler.FetchResult, error) {
	var res crawler.FetchResult
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		res.Degraded = attempt > 1
		body, strategy, err := f.extractChapter(ctx, chapterID, token, mode, attempt)
		res.Strategy = strategy
		if err == nil {
			res.Body = body
			return res, nil
		}
		if mode == crawler.FetchProbe || !f.cfg.Retry.ShouldRetry(err, attempt) {
			return res, fmt.Errorf("fetch chapter %s: %w", chapterID, err)
		}
		f.logger.Debug("chapter fetch retry",
			zap.String("chapter_id", chapterID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if sleepErr := sleepWithContext(ctx, f.cfg.Retry.Backoff(attempt)); sleepErr != nil {
			return res, fmt.Errorf("fetch chapter %s: %w", chapterID, sleepErr)
		}
	}
}

// extractChapter tries the reader page, then the legacy API, then the
// headless renderer, stopping at the first that yields paragraphs. Probe mode
// only queries the reader page.
func (f *Fetcher) extractChapter(
	ctx context.Context,
	chapterID, token string,
	mode crawler.FetchMode,
	attempt int,
) (string, crawler.Strategy, error) {
	paragraphs, err := f.readerParagraphs(ctx, chapterID, token, attempt)
	if err != nil {
		return "", crawler.StrategyReader, err
	}
	if len(paragraphs) > 0 {
		return glyph.Decode(strings.Join(paragraphs, "\n"), glyph.Mode0), crawler.StrategyReader, nil
	}
	if mode == crawler.FetchProbe {
		return "", crawler.StrategyReader, fmt.Errorf("%w: chapter %s", crawler.ErrDecodeAmbiguity, chapterID)
	}

	paragraphs, err = f.legacyParagraphs(ctx, chapterID, token, attempt)
	if err != nil {
		f.logger.Debug("legacy extraction failed", zap.String("chapter_id", chapterID), zap.Error(err))
	}
	if len(paragraphs) > 0 {
		return strings.Join(paragraphs, "\n"), crawler.StrategyLegacy, nil
	}

	if f.cfg.Renderer != nil {
		headers := map[string]string{"Cookie": f.cookieValue(token)}
		paragraphs, err = f.cfg.Renderer.Paragraphs(ctx, f.ReaderURL(chapterID), headers)
		if err != nil {
			f.logger.Debug("headless extraction failed", zap.String("chapter_id", chapterID), zap.Error(err))
		}
		if len(paragraphs) > 0 {
			return glyph.Decode(strings.Join(paragraphs, "\n"), glyph.Mode0), crawler.StrategyHeadless, nil
		}
	}
	return "", "", fmt.Errorf("%w: chapter %s", crawler.ErrDecodeAmbiguity, chapterID)
}

func (f *Fetcher) readerParagraphs(ctx context.Context, chapterID, token string, attempt int) ([]string, error) {
	var paragraphs []string
	err := f.visit(ctx, f.ReaderURL(chapterID), token, attempt, func(hooks collectorHooks) {
		hooks.OnHTML(selectReaderParagraphs, func(e *colly.HTMLElement) {
			paragraphs = append(paragraphs, e.Text)
		})
	})
	if err != nil {
		return nil, err
	}
	return paragraphs, nil
}

type legacyPayload struct {
	Data struct {
		ChapterData struct {
			Content string `json:"content"`
		} `json:"chapterData"`
	} `json:"data"`
}

// legacyParagraphs reads the older API whose JSON embeds encoded HTML.
func (f *Fetcher) legacyParagraphs(ctx context.Context, chapterID, token string, attempt int) ([]string, error) {
	var (
		paragraphs []string
		parseErr   error
	)
	err := f.visit(ctx, f.legacyURL(chapterID), token, attempt, func(hooks collectorHooks) {
		hooks.OnResponse(func(r *colly.Response) {
			paragraphs, parseErr = parseLegacy(r.Body)
		})
	})
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", crawler.ErrTransport, parseErr)
	}
	return paragraphs, nil
}

func parseLegacy(body []byte) ([]string, error) {
	var payload legacyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode legacy payload: %w", err)
	}
	content := glyph.Decode(payload.Data.ChapterData.Content, glyph.Mode0)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse legacy content: %w", err)
	}
	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		paragraphs = append(paragraphs, s.Text())
	})
	return paragraphs, nil
}

// ListChapters reads a work's landing page. An empty title means the host has
// no such work and is returned as ErrWorkNotFound without retrying.
func (f *Fetcher) ListChapters(ctx context.Context, workID int64) (crawler.Work, error) {
	for attempt := 1; ; attempt++ {
		work, err := f.listOnce(ctx, workID, attempt)
		if err == nil {
			return work, nil
		}
		if !f.cfg.Retry.ShouldRetry(err, attempt) {
			return crawler.Work{}, err
		}
		f.logger.Debug("work listing retry", zap.Int64("work_id", workID), zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := sleepWithContext(ctx, f.cfg.Retry.Backoff(attempt)); sleepErr != nil {
			return crawler.Work{}, sleepErr
		}
	}
}

func (f *Fetcher) listOnce(ctx context.Context, workID int64, attempt int) (crawler.Work, error) {
	work := crawler.Work{ID: workID}
	var titleSeen, statusSeen bool
	err := f.visit(ctx, f.WorkURL(workID), "", attempt, func(hooks collectorHooks) {
		hooks.OnHTML(selectWorkTitle, func(e *colly.HTMLElement) {
			if titleSeen {
				return
			}
			titleSeen = true
			work.Title = strings.TrimSpace(e.Text)
		})
		hooks.OnHTML(selectWorkStatus, func(e *colly.HTMLElement) {
			if statusSeen {
				return
			}
			statusSeen = true
			work.Status = strings.TrimSpace(e.Text)
		})
		hooks.OnHTML(selectChapterAnchors, func(e *colly.HTMLElement) {
			work.Chapters = append(work.Chapters, crawler.ChapterRef{
				Title: strings.TrimSpace(e.Text),
				ID:    crawler.LastPathSegment(e.Attr("href")),
			})
		})
	})
	if err != nil {
		return crawler.Work{}, err
	}
	if work.Title == "" {
		return crawler.Work{}, fmt.Errorf("%w: %d", crawler.ErrWorkNotFound, workID)
	}
	return work, nil
}

// visit performs one throttled GET with a fresh collector clone.
func (f *Fetcher) visit(
	ctx context.Context,
	target, token string,
	attempt int,
	bind func(collectorHooks),
) error {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, target); err != nil {
			return err
		}
	}
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.userAgent(attempt)

	var fetchErr error
	f.configureCollectorHooks(collector, token, &fetchErr)
	bind(collector)
	return f.runCollector(ctx, collector, target, &fetchErr)
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, token string, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		if token != "" {
			r.Headers.Set("Cookie", f.cookieValue(token))
		}
		r.Headers.Set("Accept-Language", "zh-CN,zh;q=0.9")
	})

	hooks.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		*fetchErr = classifyResponseError(status, err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return fmt.Errorf("%w: colly visit failed: %v", crawler.ErrTransport, err)
		}
		return nil
	}
}

// userAgent picks a random agent on the first attempt and rotates on retries.
func (f *Fetcher) userAgent(attempt int) string {
	agents := f.cfg.UserAgents
	if attempt <= 1 {
		return agents[rand.IntN(len(agents))]
	}
	return agents[(attempt-1)%len(agents)]
}

func (f *Fetcher) cookieValue(token string) string {
	return f.cfg.CookieName + "=" + token
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
