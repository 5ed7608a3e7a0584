package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"storefront/internal/monitor"
)

// HTTPRecorder receives request metrics
type HTTPRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
}

// Metrics records request count and latency by route template
func Metrics(recorder HTTPRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		recorder.RecordHTTPRequest(c.Request.Method, routeOf(c), strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// TraceIDHeader echoes the request trace id
const TraceIDHeader = "X-Trace-ID"

// Tracing opens a server span per request
func Tracing(tracer *monitor.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.StartHTTPSpan(c.Request.Context(), c.Request.Method, routeOf(c), c.Request)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		if id := tracer.TraceID(ctx); id != "" {
			c.Header(TraceIDHeader, id)
		}
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 && len(c.Errors) > 0 {
			tracer.RecordError(span, c.Errors.Last())
		}
	}
}

// routeOf keeps label cardinality bounded by using the matched template
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
