package store

import (
	"context"
	"errors"
)

// ErrObjectNotExist is returned by BlobStore.GetObject for missing paths.
var ErrObjectNotExist = errors.New("object does not exist")

// BlobStore reads and overwrites whole objects addressed by slash-separated
// paths. Writes are not required to be atomic.
type BlobStore interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
}
