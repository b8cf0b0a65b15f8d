package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	ErrCodePermissionDenied     ErrorCode = "MEDIA_PERMISSION_DENIED"
	ErrCodeDeviceUnavailable    ErrorCode = "MEDIA_DEVICE_UNAVAILABLE"
	ErrCodeSignalingUnreachable ErrorCode = "SIGNALING_UNREACHABLE"
	ErrCodeNegotiationFailed    ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeSessionActive        ErrorCode = "SESSION_ALREADY_ACTIVE"
)

// AppError carries an error code and HTTP status to the API edge
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	appErr := NewAppError(code, message, httpStatus)
	appErr.Cause = err
	return appErr
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// Media and call errors
func NewPermissionDeniedError(cause error) *AppError {
	return WrapError(cause, ErrCodePermissionDenied, "camera or microphone access was denied", http.StatusForbidden)
}

func NewDeviceUnavailableError(cause error) *AppError {
	return WrapError(cause, ErrCodeDeviceUnavailable, "no usable camera or microphone", http.StatusServiceUnavailable)
}

func NewSignalingUnreachableError(cause error) *AppError {
	return WrapError(cause, ErrCodeSignalingUnreachable, "signaling service unreachable", http.StatusServiceUnavailable)
}

func NewNegotiationFailedError(cause error) *AppError {
	return WrapError(cause, ErrCodeNegotiationFailed, "peer connection negotiation failed", http.StatusBadGateway)
}

func NewSessionActiveError() *AppError {
	return NewAppError(ErrCodeSessionActive, "another call is already in progress", http.StatusConflict)
}

// IsAppError checks if err is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts the first AppError from the error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
