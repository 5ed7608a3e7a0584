package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"storefront/pkg/log"
)

// Logger request logging middleware; level follows the status class
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		fields := map[string]interface{}{
			"status":     statusCode,
			"method":     c.Request.Method,
			"path":       path,
			"route":      routeOf(c),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
			"latency_ms": latency.Milliseconds(),
		}
		if id := GetCorrelationID(c); id != "" {
			fields["correlationId"] = id
		}
		if userID, ok := GetUserID(c); ok {
			fields["userId"] = userID
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch {
		case statusCode >= 500:
			log.WithFields(fields).Error("Server error")
		case statusCode >= 400:
			log.WithFields(fields).Warn("Client error")
		default:
			log.WithFields(fields).Info("Request completed")
		}
	}
}
