package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"sitegrab/internal/archivers"
	"sitegrab/internal/models"
	"sitegrab/internal/pipeline"
	"sitegrab/internal/storage"
	"sitegrab/internal/utils"
	"sitegrab/internal/workers"
)

// ArchiveFilename is the download name of every synchronous archive.
const ArchiveFilename = "site_archive.zip"

// ParseDeps are the collaborators of the synchronous capture endpoint.
type ParseDeps struct {
	Archiver workers.Archiver
	Temp     storage.Storage
	Guard    *utils.TargetGuard
	DB       *gorm.DB // optional capture history
	Now      func() time.Time
}

// Index serves the capture form.
func Index(c *gin.Context, publicDir string) {
	c.File(filepath.Join(publicDir, "index.html"))
}

// bindParseRequest reads a ParseRequest from a form or JSON body and
// validates it, writing the 400 response itself on failure.
func bindParseRequest(c *gin.Context, guard *utils.TargetGuard) (*utils.ParseRequest, archivers.Request, bool) {
	var req utils.ParseRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return nil, archivers.Request{}, false
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, archivers.Request{}, false
	}

	target, err := guard.Check(c.Request.Context(), req.URL)
	if err != nil {
		slog.Warn("Rejected capture target", "url", pipeline.URLLogValue(req.URL), "error", err)
		msg := "Invalid URL"
		if errors.Is(err, utils.ErrForbiddenTarget) {
			msg = "URL not allowed"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return nil, archivers.Request{}, false
	}
	return &req, req.ArchiveRequest(target), true
}

// ParseSite archives a URL and sends the zip as the response. The
// temporary archive is deleted once the transfer ends, whether or not it
// succeeded.
func ParseSite(c *gin.Context, deps *ParseDeps) {
	_, areq, ok := bindParseRequest(c, deps.Guard)
	if !ok {
		return
	}
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}

	var capture *models.Capture
	if deps.DB != nil {
		var err error
		if capture, err = workers.CreateCapture(deps.DB, areq.URL, false); err != nil {
			slog.Warn("Failed to record capture", "error", err)
		} else if err := workers.StartCapture(deps.DB, capture.ID, 1); err != nil {
			slog.Warn("Failed to mark capture as processing", "capture_id", capture.ID, "error", err)
		}
	}

	key := archivers.TempArtifactKey(now())
	logger := slog.With("url", pipeline.URLLogValue(areq.URL), "key", key)

	var logWriter io.Writer
	if capture != nil {
		logWriter = utils.NewDBLogWriter(deps.DB, capture.ID)
	}
	res, err := deps.Archiver.ParseSite(c.Request.Context(), areq, deps.Temp, key, logWriter)
	if err != nil {
		logger.Error("Site parse failed", "error", err)
		if capture != nil {
			if ferr := workers.FailCapture(deps.DB, capture.ID, err); ferr != nil {
				logger.Error("Failed to mark capture as failed", "capture_id", capture.ID, "error", ferr)
			}
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to parse site"})
		return
	}
	defer func() {
		if err := deps.Temp.Delete(key); err != nil {
			logger.Warn("Failed to delete temporary archive", "error", err)
		}
	}()

	if capture != nil {
		if err := workers.CompleteCapture(deps.DB, capture.ID, res, ""); err != nil {
			logger.Error("Failed to mark capture as completed", "capture_id", capture.ID, "error", err)
		}
	}

	r, err := deps.Temp.Reader(key)
	if err != nil {
		logger.Error("Failed to open archive", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send archive"})
		return
	}
	defer r.Close()

	c.DataFromReader(http.StatusOK, res.Size, "application/zip", r, map[string]string{
		"Content-Disposition": `attachment; filename="` + ArchiveFilename + `"`,
	})
	logger.Info("Archive delivered", "bytes", res.Size)
}
