package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitegrab/internal/storage"
)

func TestLoadDefaults(t *testing.T) {
	assert := require.New(t)

	cfg, err := Load()
	assert.NoError(err)
	assert.Equal(":3000", cfg.ListenAddr)
	assert.Equal("playwright", cfg.RenderEngine)
	assert.Equal(2*time.Second, cfg.RenderGraceDelay)
	assert.Zero(cfg.RenderTimeout)
	assert.EqualValues(6, cfg.FetchConcurrency)
	assert.Equal(16, cfg.MaxDepth)
	assert.True(cfg.UniqueFilenames)
	assert.False(cfg.HistoryEnabled())
	assert.NotEmpty(cfg.TempDir)

	opts := cfg.ArchiverOptions()
	assert.Equal("assets", opts.Resolve.Folder)
	assert.True(opts.Resolve.UniqueNames)
	assert.EqualValues(6, opts.Fetch.Concurrency)
	assert.True(opts.PublicOnly)
}

func TestLoadOverrides(t *testing.T) {
	assert := require.New(t)

	t.Setenv("RENDER_ENGINE", "rod")
	t.Setenv("RENDER_GRACE_DELAY", "500ms")
	t.Setenv("ASSET_FOLDER", "files")
	t.Setenv("DB_URL", "postgres://localhost/sitegrab")
	t.Setenv("TEMP_DIR", t.TempDir())

	cfg, err := Load()
	assert.NoError(err)
	assert.Equal("rod", cfg.RenderEngine)
	assert.Equal(500*time.Millisecond, cfg.RenderOptions().GraceDelay)
	assert.Equal("files", cfg.ArchiverOptions().Resolve.Folder)
	assert.True(cfg.HistoryEnabled())

	st, err := cfg.RetainedStorage(context.Background())
	assert.NoError(err)
	assert.IsType(&storage.FSStorage{}, st)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, env := range map[string][2]string{
		"engine":      {"RENDER_ENGINE", "webkit"},
		"backend":     {"STORAGE_BACKEND", "ftp"},
		"s3 bucket":   {"STORAGE_BACKEND", "s3"},
		"concurrency": {"FETCH_CONCURRENCY", "0"},
		"level":       {"COMPRESSION_LEVEL", "12"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := Load()
			require.Error(t, err)
		})
	}
}
