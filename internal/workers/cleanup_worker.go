package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"gorm.io/gorm"

	"sitegrab/internal/models"
	"sitegrab/internal/storage"
)

// staleAfter is how long a capture may sit unfinished before cleanup
// gives up on it.
const staleAfter = 6 * time.Hour

// CleanupJobArgs triggers the periodic retention sweep.
type CleanupJobArgs struct{}

func (CleanupJobArgs) Kind() string { return "archive_cleanup" }

func (CleanupJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 1,
		UniqueOpts:  river.UniqueOpts{ByPeriod: time.Hour},
	}
}

type CleanupWorker struct {
	river.WorkerDefaults[CleanupJobArgs]
	db        *gorm.DB
	storage   storage.Storage
	retention time.Duration
	now       func() time.Time
}

func NewCleanupWorker(db *gorm.DB, st storage.Storage, retention time.Duration) *CleanupWorker {
	return &CleanupWorker{db: db, storage: st, retention: retention, now: time.Now}
}

func (w *CleanupWorker) Work(ctx context.Context, job *river.Job[CleanupJobArgs]) error {
	return w.RunCleanup(ctx)
}

// RunCleanup deletes retained archives past the retention window and fails
// captures that never finished.
func (w *CleanupWorker) RunCleanup(ctx context.Context) error {
	slog.Info("Starting periodic archive cleanup")
	now := w.now()

	var expired []models.Capture
	err := w.db.WithContext(ctx).
		Where("archive_key <> '' AND finished_at < ?", now.Add(-w.retention)).
		Find(&expired).Error
	if err != nil {
		slog.Error("Failed to find expired archives", "error", err)
		return err
	}

	removed := 0
	for _, c := range expired {
		if err := w.storage.Delete(c.ArchiveKey); err != nil {
			slog.Warn("Failed to delete archive", "capture_id", c.ID, "key", c.ArchiveKey, "error", err)
			continue
		}
		if err := w.db.WithContext(ctx).Model(&models.Capture{}).Where("id = ?", c.ID).
			Update("archive_key", "").Error; err != nil {
			slog.Warn("Failed to clear archive key", "capture_id", c.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Removed expired archives", "count", removed)
	}

	stale := w.db.WithContext(ctx).Model(&models.Capture{}).
		Where("status IN ? AND updated_at < ?", []string{models.StatusPending, models.StatusProcessing}, now.Add(-staleAfter)).
		Updates(map[string]any{
			"status":      models.StatusFailed,
			"error":       "abandoned: no progress during cleanup window",
			"finished_at": now,
		})
	if stale.Error != nil {
		slog.Error("Failed to clean up stale captures", "error", stale.Error)
	} else if stale.RowsAffected > 0 {
		slog.Info("Marked stale captures failed", "count", stale.RowsAffected)
	}

	slog.Info("Periodic cleanup completed", "archives_removed", removed, "stale_failed", stale.RowsAffected)
	return nil
}
