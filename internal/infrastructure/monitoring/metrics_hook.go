package monitoring

import (
	"time"

	"github.com/gin-gonic/gin"
)

// MetricsHook returns gin middleware that records every request on the
// monitor. Responses with a 5xx status count as failed.
//
// Usage:
//
//	monitor := monitoring.NewMonitor(logger)
//	router.Use(monitoring.MetricsHook(monitor))
func MetricsHook(m *Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordRequest(c.Writer.Status() >= 500, time.Since(start))
	}
}
