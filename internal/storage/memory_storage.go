package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("writer is closed")

// MemoryStorage keeps archives in memory. The grab command uses it to
// stream an archive to stdout; tests use it everywhere else.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

func (s *MemoryStorage) lookup(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, nil
}

// Writer buffers writes; the key appears only once the writer is closed.
func (s *MemoryStorage) Writer(key string) (io.WriteCloser, error) {
	return &memoryWriter{store: s, key: key}, nil
}

func (s *MemoryStorage) Reader(key string) (io.ReadCloser, error) {
	data, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStorage) Size(key string) (int64, error) {
	data, err := s.lookup(key)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (s *MemoryStorage) Exists(key string) (bool, error) {
	_, err := s.lookup(key)
	return err == nil, nil
}

func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Keys lists stored keys in sorted order.
func (s *MemoryStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

type memoryWriter struct {
	store  *MemoryStorage
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.blobs[w.key] = bytes.Clone(w.buf.Bytes())
	return nil
}
