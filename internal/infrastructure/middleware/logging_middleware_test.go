package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"rillcall/internal/core/domain"
	"rillcall/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.InfoLevel)
	router := gin.New()
	router.Use(RequestLoggerMiddleware(logger.NewContextLogger(zap.New(core))))
	router.GET("/calls/current", func(c *gin.Context) {
		c.Set(ContextUserID, domain.UserID("alice"))
		c.Status(http.StatusNoContent)
	})

	t.Run("generates request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calls/current", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "/calls/current", fields["path"])
		assert.Equal(t, int64(http.StatusNoContent), fields["status_code"])
		assert.Equal(t, "alice", fields["user_id"])
		assert.Equal(t, w.Header().Get(RequestIDHeader), fields["request_id"])
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/calls/current", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
	})
}
