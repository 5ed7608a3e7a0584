package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows any origin, header and method
func CORS() gin.HandlerFunc {
	return CORSWithOrigins(nil)
}

// CORSWithOrigins restricts origins when the list is non-empty; "*" or an empty list allows all
func CORSWithOrigins(origins []string) gin.HandlerFunc {
	config := cors.DefaultConfig()

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}

	config.AllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
		"Accept",
		IdempotencyKeyHeader,
		CorrelationIDHeader,
	}
	config.ExposeHeaders = []string{CorrelationIDHeader, TraceIDHeader}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	config.MaxAge = 12 * time.Hour

	return cors.New(config)
}
