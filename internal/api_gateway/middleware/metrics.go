package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/reelforge-backend/internal/metrics"
)

// Metrics records request counts and latency per route pattern
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := routeLabel(c)
		metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status())
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
