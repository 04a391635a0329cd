package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"gorm.io/gorm"

	"sitegrab/internal/archivers"
	"sitegrab/internal/models"
	"sitegrab/internal/pipeline"
)

// Inserter enqueues jobs. *river.Client implements it.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Queue records captures and hands them to River.
type Queue struct {
	client Inserter
	db     *gorm.DB
}

func NewQueue(client Inserter, db *gorm.DB) *Queue {
	return &Queue{client: client, db: db}
}

// Enqueue creates a pending capture and queues its job. The capture row is
// marked failed when the job cannot be inserted.
func (q *Queue) Enqueue(ctx context.Context, req archivers.Request) (*models.Capture, error) {
	c, err := CreateCapture(q.db, req.URL, true)
	if err != nil {
		return nil, err
	}

	res, err := q.client.Insert(ctx, CaptureJobArgs{CaptureID: c.ID, Request: req}, nil)
	if err != nil {
		slog.Error("Failed to enqueue capture job",
			"capture_id", c.ID,
			"url", pipeline.URLLogValue(req.URL),
			"error", err)
		if ferr := FailCapture(q.db, c.ID, fmt.Errorf("enqueue failed: %w", err)); ferr != nil {
			slog.Error("Failed to mark capture as failed", "capture_id", c.ID, "error", ferr)
		}
		return nil, fmt.Errorf("failed to enqueue capture: %w", err)
	}

	slog.Info("Queued capture",
		"capture_id", c.ID,
		"job_id", res.Job.ID,
		"url", pipeline.URLLogValue(req.URL))
	return c, nil
}
