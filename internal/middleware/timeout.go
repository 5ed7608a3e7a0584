package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/pkg/utils"
)

// Timeout bounds the request context. Handlers observe the deadline through
// c.Request.Context(); when one returns after it without writing, a 504 is sent.
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			utils.Error(c, utils.CodeTimeout, "Request timeout")
			c.Abort()
		}
	}
}
