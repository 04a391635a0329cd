package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"sitegrab/internal/monitoring"
)

// HealthCheckHandler reports liveness. With history enabled the database
// must answer too.
func HealthCheckHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// MetricsHandler exposes the monitor's registry in Prometheus format.
func MetricsHandler(m *monitoring.Monitor) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
}

// BrowserStatusHandler reports browser lifecycle counters and leak checks.
func BrowserStatusHandler(m *monitoring.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := m.Status()
		if status.LeakDetected {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
