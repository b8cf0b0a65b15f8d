package middleware

import (
	"net/http"
	"strings"
	"time"

	"rillcall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens a server span per request. Call and group routes are
// tagged with the control operation, and the span carries the caller once
// AuthMiddleware has admitted it.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		)
		if op := controlOperation(c.Request.Method, route); op != "" {
			span.SetAttributes(attribute.String("call.operation", op))
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if userID, ok := c.Get(ContextUserID); ok {
			span.SetAttributes(tracing.UserIDKey.String(toString(userID)))
		}
		if groupID := c.Param("id"); groupID != "" {
			span.SetAttributes(tracing.GroupIDKey.String(groupID))
		}
		span.SetAttributes(
			attribute.Int("http.status_code", c.Writer.Status()),
			tracing.DurationKey.Int64(time.Since(start).Milliseconds()),
		)

		switch {
		case len(c.Errors) > 0:
			tracing.RecordError(ctx, c.Errors.Last().Err)
		case c.Writer.Status() >= http.StatusBadRequest:
			span.SetStatus(codes.Error, http.StatusText(c.Writer.Status()))
		default:
			span.SetStatus(codes.Ok, "")
		}
	}
}

// controlOperation names the call or group command behind route, e.g.
// "call.start" for POST /api/v1/calls and "group.join" for /groups/:id/join.
func controlOperation(method, route string) string {
	segments := strings.Split(strings.Trim(route, "/"), "/")
	for i, seg := range segments {
		var scope string
		switch seg {
		case "calls":
			scope = "call"
		case "groups":
			scope = "group"
		default:
			continue
		}

		action := ""
		for _, rest := range segments[i+1:] {
			if !strings.HasPrefix(rest, ":") {
				action = rest
			}
		}
		if action == "" {
			if method != http.MethodPost {
				return ""
			}
			action = "start"
		}
		return scope + "." + action
	}
	return ""
}
