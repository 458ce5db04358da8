package middleware

import (
	"strconv"
	"time"

	"github.com/bhandras/relay/internal/metrics"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs HTTP requests and counts them in m, which may be
// nil.
func LoggingMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(c.Request.Method, route, strconv.Itoa(status))

		// Websocket requests log when the connection ends.
		if raw != "" {
			path = path + "?" + raw
		}
		logger.Debugf("[http] [%s] %s - %d (%v)", c.Request.Method, path, status, latency)
	}
}
