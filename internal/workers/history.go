package workers

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitegrab/internal/archivers"
	"sitegrab/internal/models"
)

// CaptureKey is where a queued capture's archive is retained.
func CaptureKey(id uuid.UUID) string {
	return "captures/" + id.String() + ".zip"
}

// CreateCapture inserts a pending capture row for targetURL.
func CreateCapture(db *gorm.DB, targetURL string, async bool) (*models.Capture, error) {
	c := &models.Capture{URL: targetURL, Status: models.StatusPending, Async: async}
	if err := db.Create(c).Error; err != nil {
		return nil, fmt.Errorf("failed to create capture: %w", err)
	}
	return c, nil
}

// StartCapture marks a capture as processing.
func StartCapture(db *gorm.DB, id uuid.UUID, attempt int) error {
	now := time.Now()
	return db.Model(&models.Capture{}).Where("id = ?", id).Updates(map[string]any{
		"status":      models.StatusProcessing,
		"started_at":  &now,
		"retry_count": attempt,
		"error":       "",
	}).Error
}

// CompleteCapture stores the result of a successful run. retainedKey is
// empty for synchronous runs, whose archive is not kept.
func CompleteCapture(db *gorm.DB, id uuid.UUID, res *archivers.Result, retainedKey string) error {
	now := time.Now()
	return db.Model(&models.Capture{}).Where("id = ?", id).Updates(map[string]any{
		"status":      models.StatusCompleted,
		"resolved":    res.Stats.Resolved,
		"failed":      res.Stats.Failed,
		"reused":      res.Stats.Reused,
		"files":       res.Files,
		"bytes":       res.Size,
		"archive_key": retainedKey,
		"finished_at": &now,
	}).Error
}

// FailCapture records a final failure.
func FailCapture(db *gorm.DB, id uuid.UUID, cause error) error {
	now := time.Now()
	return db.Model(&models.Capture{}).Where("id = ?", id).Updates(map[string]any{
		"status":      models.StatusFailed,
		"error":       cause.Error(),
		"finished_at": &now,
	}).Error
}
