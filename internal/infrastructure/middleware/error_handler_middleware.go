package middleware

import (
	"errors"
	"net/http"

	"rillcall/internal/core/domain"
	apperrors "rillcall/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error attached by a handler.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := AppErrorFor(c.Errors.Last().Err)
		fields := []interface{}{
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		}
		if appErr.Cause != nil {
			fields = append(fields, "cause", appErr.Cause.Error())
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed", fields...)
		} else {
			logger.Infow("request rejected", fields...)
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// AppErrorFor maps call-domain errors onto API errors. Unknown errors are internal.
func AppErrorFor(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return apperrors.NewPermissionDeniedError(err)
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return apperrors.NewDeviceUnavailableError(err)
	case errors.Is(err, domain.ErrSignalingUnreachable):
		return apperrors.NewSignalingUnreachableError(err)
	case errors.Is(err, domain.ErrNegotiationFailed):
		return apperrors.NewNegotiationFailedError(err)
	case errors.Is(err, domain.ErrSessionAlreadyActive), errors.Is(err, domain.ErrAlreadyInGroup):
		return apperrors.NewSessionActiveError()
	case errors.Is(err, domain.ErrInvalidTransition):
		return apperrors.WrapError(err, apperrors.ErrCodeConflict, "call is not in a state that allows this", http.StatusConflict)
	case errors.Is(err, domain.ErrNoActiveSession):
		return apperrors.NewNotFoundError("active call")
	case errors.Is(err, domain.ErrNoIncomingCall):
		return apperrors.NewNotFoundError("incoming call")
	case errors.Is(err, domain.ErrNotInGroup):
		return apperrors.NewNotFoundError("group call")
	case errors.Is(err, domain.ErrSelfCall):
		return apperrors.NewInvalidInputError("cannot call yourself")
	case errors.Is(err, domain.ErrPeerUnavailable):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, "callee is not online", http.StatusNotFound)
	case errors.Is(err, domain.ErrInviteRateLimited):
		return apperrors.NewRateLimitError()
	case errors.Is(err, domain.ErrUnauthenticated):
		return apperrors.NewUnauthorizedError("node has no authenticated user")
	case errors.Is(err, domain.ErrServiceClosed):
		return apperrors.NewServiceUnavailableError("node is shutting down")
	}

	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "Internal server error", http.StatusInternalServerError)
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
