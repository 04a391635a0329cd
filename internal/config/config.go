// Package config loads process configuration from the environment.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"sitegrab/internal/archivers"
	"sitegrab/internal/pipeline"
	"sitegrab/internal/storage"
)

type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":3000"`
	PublicDir  string `envconfig:"PUBLIC_DIR" default:"./public"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"console"`

	RenderEngine     string        `envconfig:"RENDER_ENGINE" default:"playwright"`
	RenderHeadless   bool          `envconfig:"RENDER_HEADLESS" default:"true"`
	RenderGraceDelay time.Duration `envconfig:"RENDER_GRACE_DELAY" default:"2s"`
	RenderTimeout    time.Duration `envconfig:"RENDER_TIMEOUT" default:"0"`
	UserAgent        string        `envconfig:"USER_AGENT"`
	AcceptLanguage   string        `envconfig:"ACCEPT_LANGUAGE"`

	AssetFolder      string        `envconfig:"ASSET_FOLDER" default:"assets"`
	FetchConcurrency int64         `envconfig:"FETCH_CONCURRENCY" default:"6"`
	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"0"`
	MaxDepth         int           `envconfig:"MAX_DEPTH" default:"16"`
	UniqueFilenames  bool          `envconfig:"UNIQUE_FILENAMES" default:"true"`
	CompressionLevel int           `envconfig:"COMPRESSION_LEVEL" default:"0"`

	TempDir             string `envconfig:"TEMP_DIR"`
	AllowPrivateTargets bool   `envconfig:"ALLOW_PRIVATE_TARGETS" default:"false"`

	DBURL            string        `envconfig:"DB_URL"`
	MaxWorkers       int           `envconfig:"MAX_WORKERS" default:"2"`
	CaptureTimeout   time.Duration `envconfig:"CAPTURE_TIMEOUT" default:"10m"`
	StorageBackend   string        `envconfig:"STORAGE_BACKEND" default:"fs"`
	StoragePath      string        `envconfig:"STORAGE_PATH" default:"./storage"`
	ArchiveRetention time.Duration `envconfig:"ARCHIVE_RETENTION" default:"24h"`

	S3Endpoint        string        `envconfig:"S3_ENDPOINT"`
	S3Region          string        `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKeyID     string        `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string        `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket          string        `envconfig:"S3_BUCKET"`
	S3Prefix          string        `envconfig:"S3_PREFIX"`
	S3ForcePathStyle  bool          `envconfig:"S3_FORCE_PATH_STYLE" default:"false"`
	S3Timeout         time.Duration `envconfig:"S3_TIMEOUT" default:"60s"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.RenderEngine) {
	case archivers.EnginePlaywright, archivers.EngineRod:
	default:
		return fmt.Errorf("invalid RENDER_ENGINE %q", c.RenderEngine)
	}
	switch strings.ToLower(c.StorageBackend) {
	case "fs":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("FETCH_CONCURRENCY must be positive")
	}
	if c.CompressionLevel < -1 || c.CompressionLevel > 9 {
		return fmt.Errorf("COMPRESSION_LEVEL must be between -1 and 9")
	}
	return nil
}

// HistoryEnabled reports whether captures are recorded and queued.
func (c *Config) HistoryEnabled() bool {
	return c.DBURL != ""
}

// RenderOptions returns the browser settings.
func (c *Config) RenderOptions() archivers.RenderOptions {
	return archivers.RenderOptions{
		Headless:       c.RenderHeadless,
		UserAgent:      c.UserAgent,
		AcceptLanguage: c.AcceptLanguage,
		GraceDelay:     c.RenderGraceDelay,
		Timeout:        c.RenderTimeout,
	}
}

// ArchiverOptions returns the per-run pipeline settings.
func (c *Config) ArchiverOptions() archivers.Options {
	return archivers.Options{
		Fetch: pipeline.FetcherOptions{
			UserAgent:      c.UserAgent,
			AcceptLanguage: c.AcceptLanguage,
			Concurrency:    c.FetchConcurrency,
			Timeout:        c.FetchTimeout,
		},
		Resolve: pipeline.Options{
			Folder:      c.AssetFolder,
			MaxDepth:    c.MaxDepth,
			UniqueNames: c.UniqueFilenames,
		},
		CompressionLevel: c.CompressionLevel,
		PublicOnly:       !c.AllowPrivateTargets,
	}
}

// TempStorage holds archives of synchronous runs until they are delivered.
func (c *Config) TempStorage() *storage.FSStorage {
	return storage.NewFSStorage(c.TempDir)
}

// RetainedStorage holds archives of queued captures.
func (c *Config) RetainedStorage(ctx context.Context) (storage.Storage, error) {
	if strings.ToLower(c.StorageBackend) == "s3" {
		return storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:        c.S3Endpoint,
			Region:          c.S3Region,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
			Bucket:          c.S3Bucket,
			Prefix:          c.S3Prefix,
			ForcePathStyle:  c.S3ForcePathStyle,
			TempDir:         c.TempDir,
			Timeout:         c.S3Timeout,
		})
	}
	return storage.NewFSStorage(c.StoragePath), nil
}
