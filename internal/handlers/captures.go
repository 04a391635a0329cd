package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitegrab/internal/models"
	"sitegrab/internal/storage"
	"sitegrab/internal/utils"
	"sitegrab/internal/workers"
)

const listLimit = 50

// CreateCapture queues an asynchronous capture.
func CreateCapture(c *gin.Context, queue *workers.Queue, guard *utils.TargetGuard) {
	_, areq, ok := bindParseRequest(c, guard)
	if !ok {
		return
	}

	capture, err := queue.Enqueue(c.Request.Context(), areq)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue capture"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     capture.ID,
		"status": capture.Status,
		"url":    utils.BuildFullURL(c, "api/v1/captures/"+capture.ID.String()),
	})
}

// ListCaptures returns the most recent captures without their logs.
func ListCaptures(c *gin.Context, db *gorm.DB) {
	var captures []models.Capture
	if err := db.Omit("logs").Order("created_at DESC").Limit(listLimit).Find(&captures).Error; err != nil {
		slog.Error("Failed to list captures", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, captures)
}

func findCapture(c *gin.Context, db *gorm.DB) (*models.Capture, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid capture id"})
		return nil, false
	}

	var capture models.Capture
	if err := db.First(&capture, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Capture not found"})
			return nil, false
		}
		slog.Error("Failed to load capture", "capture_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	return &capture, true
}

// GetCapture returns a capture with its stats and logs.
func GetCapture(c *gin.Context, db *gorm.DB) {
	capture, ok := findCapture(c, db)
	if !ok {
		return
	}
	resp := gin.H{"capture": capture}
	if capture.Status == models.StatusCompleted && capture.ArchiveKey != "" {
		resp["archive_url"] = utils.BuildFullURL(c, "api/v1/captures/"+capture.ID.String()+"/archive")
	}
	c.JSON(http.StatusOK, resp)
}

// DownloadCapture streams a retained archive.
func DownloadCapture(c *gin.Context, db *gorm.DB, st storage.Storage) {
	capture, ok := findCapture(c, db)
	if !ok {
		return
	}
	if !capture.Done() {
		c.Header("Retry-After", "10")
		c.JSON(http.StatusConflict, gin.H{"error": "Capture still in progress", "status": capture.Status})
		return
	}
	if capture.Status != models.StatusCompleted || capture.ArchiveKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Archive not available"})
		return
	}

	size, err := st.Size(capture.ArchiveKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Archive not available"})
			return
		}
		slog.Error("Failed to stat archive", "key", capture.ArchiveKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage error"})
		return
	}
	r, err := st.Reader(capture.ArchiveKey)
	if err != nil {
		slog.Error("Failed to open archive", "key", capture.ArchiveKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage error"})
		return
	}
	defer r.Close()

	c.Header("ETag", `"`+capture.ID.String()+`"`)
	c.DataFromReader(http.StatusOK, size, "application/zip", r, map[string]string{
		"Content-Disposition": `attachment; filename="capture-` + capture.ID.String() + `.zip"`,
	})
}
