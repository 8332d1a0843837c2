package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/storage/memory"
	"github.com/JakeFAU/chapter-crawler/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type failingBlobs struct{ err error }

func (f failingBlobs) GetObject(context.Context, string) ([]byte, error) { return nil, f.err }

func (f failingBlobs) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", f.err
}

func TestStoreLoadMissingReturnsEmptyMap(t *testing.T) {
	t.Parallel()

	s := New(memory.NewBlobStore(), zap.NewNop())
	got, err := s.Load(context.Background(), 7)
	require.NoError(t, err)
	assert.Zero(t, got.Len())
}

func TestStoreSaveThenLoad(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	s := New(blobs, zap.NewNop(), WithClock(fixedClock{time.Unix(0, 0)}))
	work := crawler.Work{ID: 7143038691944959011, Title: "书", Status: "连载中"}

	require.NoError(t, s.Save(context.Background(), work, sampleMap()))
	assert.Equal(t, []string{"bookstore/7143038691944959011.json"}, blobs.Paths())

	got, err := s.Load(context.Background(), work.ID)
	require.NoError(t, err)
	assert.Equal(t, sampleMap().Titles(), got.Titles())
}

func TestStorePrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "novels/5.json", New(memory.NewBlobStore(), nil, WithPrefix("/novels/")).Path(5))
	assert.Equal(t, "5.json", New(memory.NewBlobStore(), nil, WithPrefix("")).Path(5))
}

func TestStoreLoadLegacyDocument(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(context.Background(), "bookstore/9.json", "", []byte(`{"第1章": "正文", "第2章": 902}`))
	require.NoError(t, err)

	got, err := New(blobs, nil).Load(context.Background(), 9)
	require.NoError(t, err)
	pending, resolved := got.Counts()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, resolved)
}

func TestStoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("bucket unavailable")
	s := New(failingBlobs{err: boom}, nil)
	_, err := s.Load(context.Background(), 1)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, s.Save(context.Background(), crawler.Work{ID: 1}, crawler.NewChapterMap()), boom)

	blobs := memory.NewBlobStore()
	_, err = blobs.PutObject(context.Background(), "bookstore/2.json", "", []byte("{not json"))
	require.NoError(t, err)
	_, err = New(blobs, nil).Load(context.Background(), 2)
	require.ErrorIs(t, err, ErrCorrupt)
	require.NotErrorIs(t, err, store.ErrObjectNotExist)
}
