// Package registry keeps the list of works revisited by update runs in a
// record.json document stored beside the checkpoints.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/store"
)

// DefaultPath is the object path of the registry document.
const DefaultPath = "record.json"

// File implements crawler.Registry as a JSON array of work IDs. IDs are
// written as numbers; quoted IDs are accepted on read.
type File struct {
	blobs store.BlobStore
	path  string
	mu    sync.Mutex
}

// NewFile builds a File registry at DefaultPath.
func NewFile(blobs store.BlobStore) *File {
	return &File{blobs: blobs, path: DefaultPath}
}

// Track appends workID if absent.
func (f *File) Track(ctx context.Context, workID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids, err := f.read(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(ids, workID) {
		return nil
	}
	return f.write(ctx, append(ids, workID))
}

// Untrack removes workID.
func (f *File) Untrack(ctx context.Context, workID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids, err := f.read(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(ids, func(id int64) bool { return id == workID })
	return f.write(ctx, kept)
}

// List returns tracked IDs in insertion order.
func (f *File) List(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(ctx)
}

// RecordRun is a no-op; the document only holds IDs.
func (f *File) RecordRun(context.Context, crawler.Summary) error {
	return nil
}

func (f *File) read(ctx context.Context) ([]int64, error) {
	data, err := f.blobs.GetObject(ctx, f.path)
	if errors.Is(err, store.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	ids := make([]int64, 0, len(raw))
	for _, item := range raw {
		id, err := parseID(item)
		if err != nil {
			return nil, fmt.Errorf("decode registry: %w", err)
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *File) write(ctx context.Context, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if _, err := f.blobs.PutObject(ctx, f.path, "application/json", data); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}

func parseID(raw json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("work id %s: %w", raw, err)
	}
	return n, nil
}

var _ crawler.Registry = (*File)(nil)
