package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"gorm.io/gorm"

	"sitegrab/internal/storage"
)

// ClientConfig wires the River client.
type ClientConfig struct {
	MaxWorkers     int
	CaptureTimeout time.Duration
	Retention      time.Duration
	CleanupEvery   time.Duration
	Logger         *slog.Logger
}

// Migrate brings River's tables up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate river schema: %w", err)
	}
	for _, v := range res.Versions {
		slog.Info("Applied river migration", "version", v.Version)
	}
	return nil
}

// NewClient builds a River client running capture and cleanup workers.
func NewClient(pool *pgxpool.Pool, db *gorm.DB, archiver Archiver, st storage.Storage, cfg ClientConfig) (*river.Client[pgx.Tx], error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 2
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = time.Hour
	}

	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, NewCaptureWorker(archiver, st, db, cfg.CaptureTimeout)); err != nil {
		return nil, fmt.Errorf("failed to register capture worker: %w", err)
	}
	if err := river.AddWorkerSafely(workers, NewCleanupWorker(db, st, cfg.Retention)); err != nil {
		return nil, fmt.Errorf("failed to register cleanup worker: %w", err)
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: cfg.Logger,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.CleanupEvery),
				func() (river.JobArgs, *river.InsertOpts) {
					return CleanupJobArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create river client: %w", err)
	}
	return client, nil
}
