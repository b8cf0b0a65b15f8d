package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"rillcall/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func spanAttrs(span tracesdk.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestControlOperation(t *testing.T) {
	cases := []struct {
		method string
		route  string
		want   string
	}{
		{http.MethodPost, "/api/v1/calls", "call.start"},
		{http.MethodPost, "/api/v1/calls/answer", "call.answer"},
		{http.MethodGet, "/api/v1/calls/current", "call.current"},
		{http.MethodPost, "/api/v1/groups/:id/join", "group.join"},
		{http.MethodPost, "/api/v1/groups/leave", "group.leave"},
		{http.MethodGet, "/api/v1/presence", ""},
		{http.MethodGet, "/health", ""},
		{http.MethodGet, "", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, controlOperation(tc.method, tc.route), tc.method+" "+tc.route)
	}
}

func TestTracingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := installSpanRecorder(t)

	router := gin.New()
	router.Use(TracingMiddleware())
	router.POST("/api/v1/groups/:id/join", func(c *gin.Context) {
		c.Set(ContextUserID, domain.UserID("alice"))
		c.JSON(http.StatusOK, gin.H{})
	})
	router.POST("/api/v1/calls", func(c *gin.Context) {
		c.Set(ContextUserID, domain.UserID("alice"))
		_ = c.Error(domain.ErrSessionAlreadyActive)
		c.Status(http.StatusConflict)
	})

	t.Run("tags operation and caller", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/groups/team/join", nil))
		require.Equal(t, http.StatusOK, w.Code)

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		span := spans[len(spans)-1]
		attrs := spanAttrs(span)
		assert.Equal(t, "group.join", attrs["call.operation"].AsString())
		assert.Equal(t, "alice", attrs["user.id"].AsString())
		assert.Equal(t, "team", attrs["group.id"].AsString())
		assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
		assert.Equal(t, codes.Ok, span.Status().Code)
	})

	t.Run("records handler error", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/calls", nil))
		require.Equal(t, http.StatusConflict, w.Code)

		spans := recorder.Ended()
		span := spans[len(spans)-1]
		assert.Equal(t, "call.start", spanAttrs(span)["call.operation"].AsString())
		assert.Equal(t, codes.Error, span.Status().Code)
		assert.Equal(t, domain.ErrSessionAlreadyActive.Error(), span.Status().Description)
		require.NotEmpty(t, span.Events())
		assert.Equal(t, "exception", span.Events()[0].Name)
	})
}
