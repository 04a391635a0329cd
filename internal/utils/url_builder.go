package utils

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// BuildFullURL constructs an absolute URL for path on the host that served c.
func BuildFullURL(c *gin.Context, path string) string {
	scheme := "https"
	if c.Request.TLS == nil {
		// Reverse proxies terminate TLS in front of us.
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + c.Request.Host + "/" + strings.TrimPrefix(path, "/")
}
