package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/clinical-mdr/internal/platform/ctxutil"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

// RequestLogger writes one line per request. 5xx log at error, 4xx at warn.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	log = log.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := append([]interface{}{
			"method", c.Request.Method,
			"route", routeLabel(c),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}, ctxutil.LogFields(c.Request.Context())...)
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}
