package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Capture statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Capture records one archival run of a URL.
type Capture struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	URL        string    `gorm:"index;not null" json:"url"`
	Status     string    `gorm:"index;not null;default:pending" json:"status"`
	Async      bool      `json:"async"`
	Resolved   int64     `json:"resolved"`
	Failed     int64     `json:"failed"`
	Reused     int64     `json:"reused"`
	Files      int       `json:"files"`
	Bytes      int64     `json:"bytes"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Logs       string    `gorm:"type:text" json:"logs,omitempty"`
	RetryCount int       `json:"retry_count"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"index" json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a random ID to new captures.
func (c *Capture) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Done reports whether the capture reached a final status.
func (c *Capture) Done() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed
}

// Migrate creates or updates the history tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Capture{})
}
