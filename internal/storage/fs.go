package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Storage is where finished archives live until they are delivered.
type Storage interface {
	Writer(key string) (io.WriteCloser, error)
	Reader(key string) (io.ReadCloser, error)
	Exists(key string) (bool, error)
	Size(key string) (int64, error)
	Delete(key string) error
}

// FSStorage stores keys as files under a base directory. Writes land in a
// temporary file and only become visible under their key on Close.
type FSStorage struct {
	baseDir string
}

func NewFSStorage(baseDir string) *FSStorage {
	return &FSStorage{baseDir: baseDir}
}

// Path returns the file path backing key.
func (s *FSStorage) Path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

func (s *FSStorage) Writer(key string) (io.WriteCloser, error) {
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &fsWriter{File: tmp, final: path}, nil
}

func (s *FSStorage) Reader(key string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}

func (s *FSStorage) Exists(key string) (bool, error) {
	_, err := os.Stat(s.Path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *FSStorage) Size(key string) (int64, error) {
	info, err := os.Stat(s.Path(key))
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FSStorage) Delete(key string) error {
	err := os.Remove(s.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

type fsWriter struct {
	*os.File
	final  string
	closed bool
}

func (w *fsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.File.Close(); err != nil {
		os.Remove(w.File.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(w.File.Name(), w.final); err != nil {
		os.Remove(w.File.Name())
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}
