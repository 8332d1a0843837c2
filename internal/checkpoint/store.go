// Package checkpoint persists per-work chapter maps and the session token
// through a store.BlobStore.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/clock/system"
	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/store"
)

// DefaultPrefix is the directory checkpoints are written under.
const DefaultPrefix = "bookstore"

const contentTypeJSON = "application/json; charset=utf-8"

// Store implements crawler.CheckpointStore.
type Store struct {
	blobs  store.BlobStore
	prefix string
	clock  crawler.Clock
	logger *zap.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = strings.Trim(prefix, "/") }
}

// WithClock sets the clock used for updated_at stamps.
func WithClock(clock crawler.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// New builds a Store over blobs.
func New(blobs store.BlobStore, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		blobs:  blobs,
		prefix: DefaultPrefix,
		clock:  system.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the object path for workID.
func (s *Store) Path(workID int64) string {
	name := strconv.FormatInt(workID, 10) + ".json"
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Load returns the stored chapter map, or an empty map when none exists.
func (s *Store) Load(ctx context.Context, workID int64) (*crawler.ChapterMap, error) {
	data, err := s.blobs.GetObject(ctx, s.Path(workID))
	if errors.Is(err, store.ErrObjectNotExist) {
		return crawler.NewChapterMap(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", s.Path(workID), err)
	}
	chapters, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.Path(workID), err)
	}
	pending, resolved := chapters.Counts()
	s.logger.Debug("checkpoint loaded",
		zap.Int64("work_id", workID),
		zap.Int("pending", pending),
		zap.Int("resolved", resolved),
	)
	return chapters, nil
}

// Save overwrites the checkpoint for work.ID.
func (s *Store) Save(ctx context.Context, work crawler.Work, chapters *crawler.ChapterMap) error {
	data, err := Encode(work, chapters, s.clock.Now())
	if err != nil {
		return err
	}
	if _, err := s.blobs.PutObject(ctx, s.Path(work.ID), contentTypeJSON, data); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", s.Path(work.ID), err)
	}
	return nil
}

var _ crawler.CheckpointStore = (*Store)(nil)
