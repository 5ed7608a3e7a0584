package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"storefront/pkg/log"
	"storefront/pkg/utils"
)

// Recovery answers 500 with the error envelope when a handler panics
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		fields := map[string]interface{}{
			"error":  recovered,
			"route":  routeOf(c),
			"method": c.Request.Method,
			"stack":  string(debug.Stack()),
		}
		if id := GetCorrelationID(c); id != "" {
			fields["correlationId"] = id
		}
		log.WithFields(fields).Error("Panic recovered")

		utils.Error(c, utils.CodeInternalError, "Internal server error")
		c.Abort()
	})
}
