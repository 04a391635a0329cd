package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"sitegrab/internal/archivers"
	"sitegrab/internal/config"
	"sitegrab/internal/handlers"
	"sitegrab/internal/models"
	"sitegrab/internal/monitoring"
	"sitegrab/internal/utils"
	"sitegrab/internal/workers"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	logger.Info("Performing startup health checks...")
	if err := utils.CheckBrowserAvailability(cfg.RenderEngine, 30*time.Second); err != nil {
		// The first capture will fail loudly if this is real.
		logger.Warn("Browser health check warning", "error", err)
	} else {
		logger.Info("Browser health check passed", "engine", cfg.RenderEngine)
	}

	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	renderer, err := archivers.NewRenderer(cfg.RenderEngine, cfg.RenderOptions())
	if err != nil {
		return err
	}
	archiver := archivers.NewSiteArchiver(renderer, cfg.ArchiverOptions(), logger)
	monitor := monitoring.GetGlobalMonitor()

	deps := handlers.RouterDeps{
		PublicDir: cfg.PublicDir,
		Monitor:   monitor,
		Parse: &handlers.ParseDeps{
			Archiver: archiver,
			Temp:     cfg.TempStorage(),
			Guard:    utils.NewTargetGuard(cfg.AllowPrivateTargets),
		},
	}

	if cfg.HistoryEnabled() {
		shutdown, err := setupHistory(ctx, cfg, logger, archiver, &deps)
		if err != nil {
			return err
		}
		defer shutdown()
	} else {
		logger.Info("DB_URL not set; capture history and queued captures are disabled")
	}

	r := gin.Default()
	handlers.Register(r, deps)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupHistory connects to Postgres, migrates the schema and starts the
// River client. The returned function stops everything it started.
func setupHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger, archiver workers.Archiver, deps *handlers.RouterDeps) (func(), error) {
	// One pgx pool serves both River and GORM.
	pgxConfig, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	dbPool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(dbPool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("failed to initialize GORM with shared pool: %w", err)
	}
	if err := models.Migrate(db); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := workers.Migrate(ctx, dbPool); err != nil {
		dbPool.Close()
		return nil, err
	}

	retained, err := cfg.RetainedStorage(ctx)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	riverClient, err := workers.NewClient(dbPool, db, archiver, retained, workers.ClientConfig{
		MaxWorkers:     cfg.MaxWorkers,
		CaptureTimeout: cfg.CaptureTimeout,
		Retention:      cfg.ArchiveRetention,
		Logger:         logger,
	})
	if err != nil {
		dbPool.Close()
		return nil, err
	}
	if err := riverClient.Start(ctx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("failed to start River client: %w", err)
	}
	logger.Info("River client started", "max_workers", cfg.MaxWorkers, "storage", cfg.StorageBackend)

	deps.DB = db
	deps.Parse.DB = db
	deps.Queue = workers.NewQueue(riverClient, db)
	deps.Retained = retained

	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Warn("River client stop failed", "error", err)
		}
		sqlDB.Close()
		dbPool.Close()
	}, nil
}
