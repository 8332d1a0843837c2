package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseWorkRef accepts a bare numeric work ID or a landing page URL such as
// https://host/page/123?enter_from=search and returns the ID.
func ParseWorkRef(ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidWorkRef)
	}
	last := ref
	if strings.Contains(ref, "/") {
		u, err := url.Parse(ref)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidWorkRef, ref, err)
		}
		last = lastSegment(u.Path)
	} else if i := strings.IndexByte(ref, '?'); i >= 0 {
		last = ref[:i]
	}
	id, err := strconv.ParseInt(last, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWorkRef, ref)
	}
	return id, nil
}

// LastPathSegment returns the final non-empty segment of an href, ignoring
// any query string or fragment.
func LastPathSegment(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	return lastSegment(href)
}

func lastSegment(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
