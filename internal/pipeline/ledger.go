package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"path"
	"strconv"
	"strings"
	"sync"
)

// entry is one ledger slot. path is allocated at reservation; done is closed
// once the owner has published it or recorded a failure, and err is
// immutable after.
type entry struct {
	done chan struct{}
	path string
	err  error
}

func (e *entry) wait(ctx context.Context) (string, error) {
	select {
	case <-e.done:
		if e.err != nil {
			return "", e.err
		}
		return e.path, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ledger maps logical resource URLs to archive paths for one run.
// The first caller to reserve a URL owns its fetch; everyone else
// waits for that outcome. Entries are never overwritten.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry
	owners  map[string]string // archive path -> logical URL
	unique  bool
}

// NewLedger creates an empty ledger. With unique set, two URLs that derive
// the same file name get distinct archive paths; otherwise the later one
// shares the path and overwrites the earlier content.
func NewLedger(unique bool) *Ledger {
	return &Ledger{
		entries: make(map[string]*entry),
		owners:  make(map[string]string),
		unique:  unique,
	}
}

// reserve returns the entry for key, creating it when absent. A new entry
// is allocated its archive path from candidate right away, so collisions
// are settled in reservation order rather than fetch completion order.
// owner reports whether the caller created it and must settle it.
func (l *Ledger) reserve(key, candidate string) (e *entry, owner bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		return e, false
	}
	e = &entry{done: make(chan struct{}), path: l.allocate(key, candidate)}
	l.entries[key] = e
	return e, true
}

// publish settles an owned entry with its allocated path.
func (l *Ledger) publish(e *entry) string {
	close(e.done)
	return e.path
}

// fail settles an owned entry as a terminal failure. The allocated path
// stays reserved so names handed out later do not depend on timing.
func (l *Ledger) fail(e *entry, err error) {
	e.err = err
	close(e.done)
}

// allocate must be called with l.mu held.
func (l *Ledger) allocate(key, candidate string) string {
	owner, taken := l.owners[candidate]
	if !taken || owner == key || !l.unique {
		l.owners[candidate] = key
		return candidate
	}

	ext := path.Ext(candidate)
	stem := strings.TrimSuffix(candidate, ext)
	sum := sha1.Sum([]byte(key))
	p := stem + "-" + hex.EncodeToString(sum[:4]) + ext
	for i := 2; ; i++ {
		if o, ok := l.owners[p]; !ok || o == key {
			break
		}
		p = stem + "-" + hex.EncodeToString(sum[:4]) + "-" + strconv.Itoa(i) + ext
	}
	l.owners[p] = key
	return p
}
