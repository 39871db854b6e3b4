package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/catopus/internal/metrics"
)

// RequestLogger logs one line per request and counts it in metrics.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RequestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(start),
			"ip", c.ClientIP(),
		}
		if owner := GetOwner(c); owner != "" {
			attrs = append(attrs, "owner", owner)
		}
		if status >= 500 {
			log.Error("request", attrs...)
			return
		}
		log.Debug("request", attrs...)
	}
}
