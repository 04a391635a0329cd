package workers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"gorm.io/gorm"

	"sitegrab/internal/archivers"
	"sitegrab/internal/pipeline"
	"sitegrab/internal/storage"
	"sitegrab/internal/utils"
)

// Archiver runs one capture. *archivers.SiteArchiver implements it.
type Archiver interface {
	ParseSite(ctx context.Context, req archivers.Request, dst storage.Storage, key string, logWriter io.Writer) (*archivers.Result, error)
}

// CaptureJobArgs is the payload of a queued capture.
type CaptureJobArgs struct {
	CaptureID uuid.UUID         `json:"capture_id"`
	Request   archivers.Request `json:"request"`
}

func (CaptureJobArgs) Kind() string { return "capture" }

func (CaptureJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 3,
		Queue:       river.QueueDefault,
		Tags:        []string{"capture"},
	}
}

// CaptureWorker runs queued captures and retains their archives.
type CaptureWorker struct {
	river.WorkerDefaults[CaptureJobArgs]
	archiver Archiver
	storage  storage.Storage
	db       *gorm.DB
	timeout  time.Duration
}

func NewCaptureWorker(archiver Archiver, st storage.Storage, db *gorm.DB, timeout time.Duration) *CaptureWorker {
	return &CaptureWorker{archiver: archiver, storage: st, db: db, timeout: timeout}
}

// Timeout bounds a single attempt.
func (w *CaptureWorker) Timeout(*river.Job[CaptureJobArgs]) time.Duration {
	return w.timeout
}

func (w *CaptureWorker) Work(ctx context.Context, job *river.Job[CaptureJobArgs]) error {
	args := job.Args
	logger := slog.With(
		"worker", "capture",
		"job_id", job.ID,
		"attempt", job.Attempt,
		"capture_id", args.CaptureID,
		"url", pipeline.URLLogValue(args.Request.URL),
	)
	logger.Info("Processing capture job")

	if err := StartCapture(w.db, args.CaptureID, job.Attempt); err != nil {
		return fmt.Errorf("failed to mark capture processing: %w", err)
	}

	logWriter := utils.NewDBLogWriter(w.db, args.CaptureID)
	fmt.Fprintf(logWriter, "Attempt %d/%d started at %s\n", job.Attempt, job.MaxAttempts, time.Now().Format(time.DateTime))

	key := CaptureKey(args.CaptureID)
	res, err := w.archiver.ParseSite(ctx, args.Request, w.storage, key, logWriter)
	if err != nil {
		logger.Error("Capture failed", "error", err)
		fmt.Fprintf(logWriter, "Error: %v\n", err)

		// River retries on its own; only the last attempt is final.
		if job.Attempt >= job.MaxAttempts {
			if ferr := FailCapture(w.db, args.CaptureID, err); ferr != nil {
				logger.Error("Failed to mark capture failed", "error", ferr)
			}
		}
		return err
	}

	if err := CompleteCapture(w.db, args.CaptureID, res, key); err != nil {
		return fmt.Errorf("failed to record capture result: %w", err)
	}
	logger.Info("Capture completed", "files", res.Files, "bytes", res.Size)
	return nil
}
