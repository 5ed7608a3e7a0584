package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// CorrelationIDHeader request correlation header
	CorrelationIDHeader = "X-Correlation-ID"
	// CorrelationIDKey context key of the correlation id
	CorrelationIDKey = "correlation_id"
	// IdempotencyKeyHeader order ingress idempotency header
	IdempotencyKeyHeader = "Idempotency-Key"
)

// CorrelationID reuses the inbound X-Correlation-ID or generates one, and echoes it back
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
			c.Request.Header.Set(CorrelationIDHeader, id)
		}
		c.Set(CorrelationIDKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Next()
	}
}

// GetCorrelationID returns the request correlation id
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(CorrelationIDKey)
}
