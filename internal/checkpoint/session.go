package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/chapter-crawler/internal/clock/system"
	"github.com/JakeFAU/chapter-crawler/internal/crawler"
	"github.com/JakeFAU/chapter-crawler/internal/store"
)

// DefaultSessionPath is where the session document lives.
const DefaultSessionPath = "session.json"

type sessionDoc struct {
	Cookie    string    `json:"cookie"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionFile stores the session token as a cookie string. It implements
// session.TokenStore.
type SessionFile struct {
	blobs      store.BlobStore
	path       string
	cookieName string
	clock      crawler.Clock
}

// NewSessionFile builds a SessionFile at DefaultSessionPath.
func NewSessionFile(blobs store.BlobStore, cookieName string) *SessionFile {
	return &SessionFile{
		blobs:      blobs,
		path:       DefaultSessionPath,
		cookieName: cookieName,
		clock:      system.New(),
	}
}

// LoadToken returns the bare token, or "" when nothing is stored. Both the
// current document and a legacy bare JSON string are accepted.
func (f *SessionFile) LoadToken(ctx context.Context) (string, error) {
	data, err := f.blobs.GetObject(ctx, f.path)
	if errors.Is(err, store.ErrObjectNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil
	}

	var cookie string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &cookie); err != nil {
			return "", fmt.Errorf("%w: session: %v", ErrCorrupt, err)
		}
	} else {
		var doc sessionDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return "", fmt.Errorf("%w: session: %v", ErrCorrupt, err)
		}
		cookie = doc.Cookie
	}
	return f.stripName(cookie), nil
}

// SaveToken overwrites the session document.
func (f *SessionFile) SaveToken(ctx context.Context, token string) error {
	data, err := json.Marshal(sessionDoc{
		Cookie:    f.cookieName + "=" + token,
		UpdatedAt: f.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err := f.blobs.PutObject(ctx, f.path, contentTypeJSON, data); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (f *SessionFile) stripName(cookie string) string {
	cookie = strings.TrimSpace(cookie)
	if name, value, ok := strings.Cut(cookie, "="); ok && name == f.cookieName {
		return strings.TrimSpace(value)
	}
	return cookie
}
