package middleware

import (
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"storefront/pkg/log"
	"storefront/pkg/utils"
)

// RateLimitConfig rate limiting middleware configuration
type RateLimitConfig struct {
	// Rate requests per second
	Rate float64
	// Burst maximum burst size
	Burst int
	// KeyFunc limiter key, client IP by default
	KeyFunc func(c *gin.Context) string
	// SkipFunc bypasses the limiter
	SkipFunc func(c *gin.Context) bool
}

// RateLimit per client IP token bucket
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{Rate: rps, Burst: burst})
}

// RateLimitWithConfig rate limiting middleware with configuration
func RateLimitWithConfig(config RateLimitConfig) gin.HandlerFunc {
	if config.KeyFunc == nil {
		config.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	if config.Burst <= 0 {
		config.Burst = int(config.Rate)
		if config.Burst < 1 {
			config.Burst = 1
		}
	}

	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		limiter, exists := limiters[key]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(config.Rate), config.Burst)
			limiters[key] = limiter
		}
		return limiter
	}

	return func(c *gin.Context) {
		if config.SkipFunc != nil && config.SkipFunc(c) {
			c.Next()
			return
		}

		key := config.KeyFunc(c)
		if !limiterFor(key).Allow() {
			log.WithFields(map[string]interface{}{
				"key":    key,
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Rate limit exceeded")

			c.Header("X-RateLimit-Limit", strconv.FormatFloat(config.Rate, 'f', 0, 64))
			c.Header("Retry-After", "1")
			utils.Error(c, utils.CodeRateLimit, "Too many requests")
			c.Abort()
			return
		}

		c.Next()
	}
}
