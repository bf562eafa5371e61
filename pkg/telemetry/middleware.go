package telemetry

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"socialauth/pkg/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	// RequestLoggerKey holds the request-scoped logger in the gin context.
	RequestLoggerKey = "logger"

	maxRequestIDLen = 128
)

// RequestLogger tags every request with a request id (the caller's, or a new
// UUID) and, when the request is traced, its trace and span ids. Query strings
// are never logged since callbacks carry authorization codes.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		fields := []logger.Field{
			{Key: "request_id", Value: requestID},
			{Key: "method", Value: c.Request.Method},
			{Key: "path", Value: c.Request.URL.Path},
		}

		span := trace.SpanFromContext(c.Request.Context())
		if sc := span.SpanContext(); sc.IsValid() {
			c.Set("trace_id", sc.TraceID().String())
			c.Set("span_id", sc.SpanID().String())
			fields = append(fields,
				logger.Field{Key: "trace_id", Value: sc.TraceID().String()},
				logger.Field{Key: "span_id", Value: sc.SpanID().String()},
			)
		}

		reqLog := log.With(fields...)
		c.Set(RequestLoggerKey, reqLog)

		c.Next()

		done := []logger.Field{
			{Key: "status", Value: c.Writer.Status()},
			{Key: "latency_ms", Value: time.Since(start).Milliseconds()},
		}
		if c.Writer.Status() >= 500 {
			reqLog.Error("request completed", done...)
			return
		}
		reqLog.Info("request completed", done...)
	}
}
