package utils

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitegrab/internal/models"
)

// DBLogWriter mirrors a run's progress lines into its capture row as they
// are written.
type DBLogWriter struct {
	db        *gorm.DB
	captureID uuid.UUID
	buffer    strings.Builder
	mutex     sync.Mutex
}

func NewDBLogWriter(db *gorm.DB, captureID uuid.UUID) *DBLogWriter {
	return &DBLogWriter{
		db:        db,
		captureID: captureID,
	}
}

func (w *DBLogWriter) Write(p []byte) (n int, err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	n, err = w.buffer.Write(p)
	if err != nil {
		return n, err
	}

	// A failed update only loses log lines; the run goes on.
	w.db.Model(&models.Capture{}).Where("id = ?", w.captureID).Update("logs", w.buffer.String())
	return n, nil
}

func (w *DBLogWriter) String() string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.buffer.String()
}
