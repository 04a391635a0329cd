package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSkipped marks references that are never fetched (data:, javascript:, fragments).
	ErrSkipped = errors.New("reference skipped")
	// ErrUnsupportedScheme marks references that resolve to a non-http(s) URL.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

// Skippable reports whether a raw reference belongs to the skip set.
func Skippable(ref string) bool {
	return strings.HasPrefix(ref, "data:") ||
		strings.HasPrefix(ref, "javascript:") ||
		strings.HasPrefix(ref, "#")
}

// Logical resolves ref against base. The returned key is the absolute URL
// without its fragment; the fragment, if any, is returned separately so it
// can be carried over to the rewritten reference.
func Logical(ref, base string) (u *url.URL, fragment string, err error) {
	b, err := url.Parse(base)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base URL: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, "", fmt.Errorf("invalid reference: %w", err)
	}

	u = b.ResolveReference(r)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Fragment != "" {
		fragment = "#" + u.EscapedFragment()
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, fragment, nil
}

// FileName derives the archive file name for u: the last path segment,
// URL-decoded, made safe for a file system. Empty names become
// file_<unix-millis>; names without a dot get ".bin".
func FileName(u *url.URL, now time.Time) string {
	segment := u.EscapedPath()
	if i := strings.LastIndexByte(segment, '/'); i >= 0 {
		segment = segment[i+1:]
	}
	name, err := url.PathUnescape(segment)
	if err != nil {
		name = segment
	}
	name = sanitizeName(name)

	if name == "" || name == "." || name == ".." {
		name = "file_" + strconv.FormatInt(now.UnixMilli(), 10)
	}
	if !strings.Contains(name, ".") {
		name += ".bin"
	}
	return name
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return '_'
		case strings.ContainsRune(`/\:*?"<>|#%`, r):
			return '_'
		}
		return r
	}, name)
}

// RelativeRef returns the reference a document stored under fromDir uses
// to reach the archive path target.
func RelativeRef(fromDir, target string) string {
	fromDir = strings.Trim(path.Clean(fromDir), "/")
	if fromDir == "" || fromDir == "." {
		return "./" + target
	}
	return strings.Repeat("../", strings.Count(fromDir, "/")+1) + target
}
