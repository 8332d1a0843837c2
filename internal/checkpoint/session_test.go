package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapter-crawler/internal/storage/memory"
)

func TestSessionFileRoundTrip(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	f := NewSessionFile(blobs, "novel_web_id")
	f.clock = fixedClock{time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}

	token, err := f.LoadToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, f.SaveToken(context.Background(), "7000000000000000001"))
	raw, err := blobs.GetObject(context.Background(), DefaultSessionPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cookie":"novel_web_id=7000000000000000001","updated_at":"2026-03-01T00:00:00Z"}`, string(raw))

	token, err = f.LoadToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7000000000000000001", token)
}

func TestSessionFileLegacyString(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(context.Background(), DefaultSessionPath, "", []byte(`"novel_web_id=6500000000000000000"`))
	require.NoError(t, err)

	token, err := NewSessionFile(blobs, "novel_web_id").LoadToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "6500000000000000000", token)
}

func TestSessionFileCorrupt(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(context.Background(), DefaultSessionPath, "", []byte(`{"cookie":`))
	require.NoError(t, err)

	_, err = NewSessionFile(blobs, "novel_web_id").LoadToken(context.Background())
	require.ErrorIs(t, err, ErrCorrupt)
}
