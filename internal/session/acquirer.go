// Package session discovers, validates and renews the host session token.
//
// The host's session identifier is an opaque large integer with no known
// derivation. Acquisition picks a random anchor in a fixed range and walks
// candidates upward, probing each against a chapter that only renders in full
// for a valid session. The walk is capped so a blocked host produces
// crawler.ErrSessionExhausted instead of spinning forever.
package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/metrics"
)

// Candidate range observed for the host's session IDs.
const (
	DefaultRangeMin  int64 = 6_000_000_000_000_000_000
	DefaultRangeMax  int64 = 8_000_000_000_000_000_000
	DefaultRangeCeil int64 = 9_000_000_000_000_000_000
)

// DefaultSeedWorkID is a long, ongoing work whose later chapters need a session.
const DefaultSeedWorkID int64 = 7143038691944959011

// seedMinIndex skips the free preview chapters when deriving a seed.
const seedMinIndex = 21

// TokenStore persists the current token. LoadToken returns "" when nothing is stored.
type TokenStore interface {
	LoadToken(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
}

// Config tunes acquisition.
type Config struct {
	SeedWorkID    int64
	SeedChapterID string
	MaxAttempts   int
	MinBodyChars  int
	ProbeDelay    crawler.DelayRange
	RangeMin      int64
	RangeMax      int64
	RangeCeil     int64
}

// Deps holds the collaborators used by Acquirer.
type Deps struct {
	Fetcher    crawler.ChapterFetcher
	Enumerator crawler.Enumerator
	Store      TokenStore
	Pauser     crawler.Pauser
}

// Acquirer owns the shared session token. It satisfies crawler.SessionSource.
type Acquirer struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu    sync.RWMutex
	token string

	// renewMu serializes acquisitions so concurrent renewals collapse into one.
	renewMu sync.Mutex

	seedMu sync.Mutex
	seed   string
	// anchor draws the starting candidate; replaceable in tests.
	anchor func(lo, hi int64) int64
}

// New builds an Acquirer with defaults applied.
func New(cfg Config, deps Deps, logger *zap.Logger) *Acquirer {
	if cfg.SeedWorkID <= 0 {
		cfg.SeedWorkID = DefaultSeedWorkID
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 200
	}
	if cfg.MinBodyChars <= 0 {
		cfg.MinBodyChars = 200
	}
	if cfg.RangeMin <= 0 {
		cfg.RangeMin = DefaultRangeMin
	}
	if cfg.RangeMax < cfg.RangeMin {
		cfg.RangeMax = max(DefaultRangeMax, cfg.RangeMin)
	}
	if cfg.RangeCeil <= cfg.RangeMax {
		cfg.RangeCeil = max(DefaultRangeCeil, cfg.RangeMax+1)
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		seed:   cfg.SeedChapterID,
		anchor: randomAnchor,
	}
}

// Token returns the current token, "" before Bootstrap.
func (a *Acquirer) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *Acquirer) setToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// Bootstrap loads the persisted token and keeps it if it still validates;
// otherwise it acquires a new one.
func (a *Acquirer) Bootstrap(ctx context.Context) (string, error) {
	a.renewMu.Lock()
	defer a.renewMu.Unlock()

	stored, err := a.deps.Store.LoadToken(ctx)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if stored != "" {
		ok, err := a.Validate(ctx, stored)
		if err != nil {
			return "", err
		}
		if ok {
			a.setToken(stored)
			a.logger.Info("stored session is valid")
			return stored, nil
		}
		a.logger.Info("stored session rejected, acquiring a new one")
	}
	return a.acquireLocked(ctx)
}

// Renew replaces stale with a fresh token. When another caller already
// renewed, the current token is returned without probing again.
func (a *Acquirer) Renew(ctx context.Context, stale string) (string, error) {
	a.renewMu.Lock()
	defer a.renewMu.Unlock()
	if current := a.Token(); current != stale && current != "" {
		return current, nil
	}
	return a.acquireLocked(ctx)
}

// Acquire discovers and persists a new token.
func (a *Acquirer) Acquire(ctx context.Context) (string, error) {
	a.renewMu.Lock()
	defer a.renewMu.Unlock()
	return a.acquireLocked(ctx)
}

func (a *Acquirer) acquireLocked(ctx context.Context) (string, error) {
	if _, err := a.seedChapter(ctx); err != nil {
		return "", err
	}
	start := a.anchor(a.cfg.RangeMin, a.cfg.RangeMax)
	a.logger.Info("acquiring session", zap.Int64("anchor", start), zap.Int("max_attempts", a.cfg.MaxAttempts))

	for i := 0; i < a.cfg.MaxAttempts; i++ {
		candidate := start + int64(i)
		if candidate >= a.cfg.RangeCeil {
			break
		}
		a.deps.Pauser.Pause(ctx, a.cfg.ProbeDelay.Next())
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("acquire session: %w", err)
		}
		token := strconv.FormatInt(candidate, 10)
		ok, err := a.Validate(ctx, token)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if err := a.deps.Store.SaveToken(ctx, token); err != nil {
			return "", fmt.Errorf("save session: %w", err)
		}
		a.setToken(token)
		a.logger.Info("session acquired", zap.Int("probes", i+1))
		return token, nil
	}
	return "", fmt.Errorf("%w after %d candidates", crawler.ErrSessionExhausted, a.cfg.MaxAttempts)
}

// Validate probes the seed chapter with candidate. A transport failure or a
// short body means invalid; only context errors are returned.
func (a *Acquirer) Validate(ctx context.Context, candidate string) (bool, error) {
	seed, err := a.seedChapter(ctx)
	if err != nil {
		return false, err
	}
	res, err := a.deps.Fetcher.FetchChapter(ctx, seed, candidate, crawler.FetchProbe)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("validate session: %w", ctxErr)
		}
		metrics.ObserveSessionProbe("error")
		a.logger.Debug("session probe failed", zap.Error(err))
		return false, nil
	}
	if utf8.RuneCountInString(res.Body) > a.cfg.MinBodyChars {
		metrics.ObserveSessionProbe("valid")
		return true, nil
	}
	metrics.ObserveSessionProbe("invalid")
	return false, nil
}

// seedChapter returns the configured seed or derives one from the seed work.
func (a *Acquirer) seedChapter(ctx context.Context) (string, error) {
	a.seedMu.Lock()
	defer a.seedMu.Unlock()
	if a.seed != "" {
		return a.seed, nil
	}
	if a.deps.Enumerator == nil {
		return "", fmt.Errorf("no seed chapter configured and no enumerator available")
	}
	work, err := a.deps.Enumerator.ListChapters(ctx, a.cfg.SeedWorkID)
	if err != nil {
		return "", fmt.Errorf("list seed work %d: %w", a.cfg.SeedWorkID, err)
	}
	if len(work.Chapters) == 0 {
		return "", fmt.Errorf("seed work %d has no chapters", a.cfg.SeedWorkID)
	}
	idx := len(work.Chapters) - 1
	if len(work.Chapters) > seedMinIndex {
		idx = seedMinIndex + rand.IntN(len(work.Chapters)-seedMinIndex)
	}
	a.seed = work.Chapters[idx].ID
	a.logger.Debug("seed chapter selected", zap.String("chapter_id", a.seed), zap.Int("index", idx))
	return a.seed, nil
}

func randomAnchor(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + rand.Int64N(hi-lo+1)
}
