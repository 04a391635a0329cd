package storage

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s Storage) {
	assert := require.New(t)
	key := "captures/abc.zip"

	w, err := s.Writer(key)
	assert.NoError(err)
	_, err = w.Write([]byte("hello world"))
	assert.NoError(err)
	assert.NoError(w.Close())
	assert.NoError(w.Close())

	exists, err := s.Exists(key)
	assert.NoError(err)
	assert.True(exists)

	size, err := s.Size(key)
	assert.NoError(err)
	assert.Equal(int64(11), size)

	r, err := s.Reader(key)
	assert.NoError(err)
	data, err := io.ReadAll(r)
	assert.NoError(err)
	assert.NoError(r.Close())
	assert.Equal("hello world", string(data))

	assert.NoError(s.Delete(key))
	assert.NoError(s.Delete(key))

	exists, err = s.Exists(key)
	assert.NoError(err)
	assert.False(exists)

	_, err = s.Reader(key)
	assert.ErrorIs(err, ErrNotFound)
	_, err = s.Size(key)
	assert.ErrorIs(err, ErrNotFound)
}

func TestFSStorage(t *testing.T) {
	exercise(t, NewFSStorage(t.TempDir()))
}

func TestMemoryStorage(t *testing.T) {
	exercise(t, NewMemoryStorage())
}

func TestFSWriterIsAtomic(t *testing.T) {
	assert := require.New(t)
	dir := t.TempDir()
	s := NewFSStorage(dir)

	w, err := s.Writer("site_1.zip")
	assert.NoError(err)
	_, err = w.Write([]byte("partial"))
	assert.NoError(err)

	exists, err := s.Exists("site_1.zip")
	assert.NoError(err)
	assert.False(exists, "key must not be visible before Close")

	assert.NoError(w.Close())
	exists, _ = s.Exists("site_1.zip")
	assert.True(exists)

	entries, err := os.ReadDir(dir)
	assert.NoError(err)
	assert.Len(entries, 1, "temp file must be gone after Close")
}

func TestMemoryStorageKeys(t *testing.T) {
	s := NewMemoryStorage()
	for _, k := range []string{"b", "a"} {
		w, _ := s.Writer(k)
		w.Close()
	}
	require.Equal(t, []string{"a", "b"}, s.Keys())
}

func TestMemoryWriterRejectsWritesAfterClose(t *testing.T) {
	s := NewMemoryStorage()
	w, _ := s.Writer("k")
	require.NoError(t, w.Close())
	_, err := w.Write([]byte("late"))
	require.ErrorIs(t, err, ErrWriterClosed)
}
