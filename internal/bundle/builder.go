// Package bundle accumulates archived files in memory and writes them out
// as a single deflated zip.
package bundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"

	"sitegrab/internal/storage"
)

// IndexName is the entry holding the rewritten page.
const IndexName = "index.html"

// Builder is safe for concurrent use.
type Builder struct {
	mu       sync.Mutex
	entries  map[string][]byte
	order    []string
	level    int
	modified time.Time
}

// New creates an empty builder using the default deflate level.
func New() *Builder {
	return &Builder{
		entries:  make(map[string][]byte),
		level:    flate.DefaultCompression,
		modified: time.Now(),
	}
}

// WithLevel sets the deflate level (1-9, or flate.DefaultCompression).
func (b *Builder) WithLevel(level int) *Builder {
	b.level = level
	return b
}

// Add stores data under name. Adding an existing name replaces its content
// and keeps its original position.
func (b *Builder) Add(name string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[name]; !ok {
		b.order = append(b.order, name)
	}
	b.entries[name] = data
}

// Names lists entries in insertion order.
func (b *Builder) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

// Len returns the number of entries.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// WriteTo writes the zip to w.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	level := b.level
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	for _, name := range b.order {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: b.modified,
		})
		if err != nil {
			return cw.n, fmt.Errorf("failed to create zip entry %s: %w", name, err)
		}
		if _, err := f.Write(b.entries[name]); err != nil {
			return cw.n, fmt.Errorf("failed to write zip entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return cw.n, nil
}

// Save writes the zip to st under key. On failure the key is removed.
func (b *Builder) Save(st storage.Storage, key string) (int64, error) {
	w, err := st.Writer(key)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive writer: %w", err)
	}

	n, err := b.WriteTo(w)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close archive writer: %w", cerr)
	}
	if err != nil {
		if derr := st.Delete(key); derr != nil {
			err = errors.Join(err, fmt.Errorf("failed to remove partial archive: %w", derr))
		}
		return 0, err
	}
	return n, nil
}

// SaveFile writes the zip to path through a temp file in the same
// directory, so path only ever holds a complete archive.
func (b *Builder) SaveFile(path string) (int64, error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	return b.Save(storage.NewFSStorage(dir), name)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
