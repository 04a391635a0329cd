package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"sitegrab/internal/monitoring"
	"sitegrab/internal/storage"
	"sitegrab/internal/workers"
)

// RouterDeps carries everything the HTTP surface needs. Queue, DB and
// Retained are nil when capture history is disabled.
type RouterDeps struct {
	PublicDir string
	Parse     *ParseDeps
	Monitor   *monitoring.Monitor
	DB        *gorm.DB
	Queue     *workers.Queue
	Retained  storage.Storage
}

// Register mounts all routes on r.
func Register(r *gin.Engine, deps RouterDeps) {
	r.GET("/", func(c *gin.Context) { Index(c, deps.PublicDir) })
	r.POST("/parse", func(c *gin.Context) { ParseSite(c, deps.Parse) })
	r.GET("/healthz", HealthCheckHandler(deps.DB))
	r.GET("/metrics", MetricsHandler(deps.Monitor))
	r.GET("/status/browsers", BrowserStatusHandler(deps.Monitor))

	if deps.DB == nil || deps.Queue == nil {
		return
	}
	api := r.Group("/api/v1")
	api.POST("/captures", func(c *gin.Context) { CreateCapture(c, deps.Queue, deps.Parse.Guard) })
	api.GET("/captures", func(c *gin.Context) { ListCaptures(c, deps.DB) })
	api.GET("/captures/:id", func(c *gin.Context) { GetCapture(c, deps.DB) })
	api.GET("/captures/:id/archive", func(c *gin.Context) { DownloadCapture(c, deps.DB, deps.Retained) })
}
