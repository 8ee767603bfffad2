package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps a handler error to the (type, code) pair logged with it.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware assigns the request id, stores request metadata for the
// activity log and writes one http_request line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = ulid.Make().String()
		}
		c.Header(requestIDHeader, requestID)

		ctx := auditcontext.WithRequestID(c.Request.Context(), requestID)
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		for param, field := range map[string]string{"id": "invoice_id", "paymentId": "payment_id"} {
			if value := strings.TrimSpace(c.Param(param)); value != "" {
				fields = append(fields, zap.String(field, value))
			}
		}

		var errorType string
		if last := c.Errors.Last(); last != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", errorCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		if ce := WithContext(c.Request.Context(), zap.L()).Check(requestLevel(route, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

// requestLevel keeps scrapes and rejected import previews out of info logs.
func requestLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case route == "/metrics" || route == "/health":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case route == "/api/v1/imports/preview" && errorType == "validation_error":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
