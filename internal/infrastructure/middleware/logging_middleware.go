package middleware

import (
	"time"

	"rillcall/internal/core/domain"
	"rillcall/pkg/logger"
	"rillcall/pkg/utils"

	"github.com/gin-gonic/gin"
)

const RequestIDHeader = "X-Request-ID"

// RequestLoggerMiddleware tags each request with a request ID and logs it on completion.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logger.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		ctx = c.Request.Context()
		if userID, ok := c.Get(ContextUserID); ok {
			ctx = logger.WithValue(ctx, logger.UserIDKey, toString(userID))
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		cl.LogRequest(ctx, c.Request.Method, path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case domain.UserID:
		return string(t)
	case string:
		return t
	case interface{ String() string }:
		return t.String()
	default:
		return ""
	}
}
