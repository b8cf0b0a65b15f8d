package middleware

import (
	"net/http"
	"strings"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/services"
	apperrors "rillcall/pkg/errors"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID   = "user_id"
	ContextIdentity = "identity"
)

type TokenValidator interface {
	ValidateToken(token string) (*services.Claims, error)
}

// AuthMiddleware admits bearer tokens issued to owner. The control API drives
// this node's calls, so a valid token for any other user is forbidden.
func AuthMiddleware(validator TokenValidator, owner domain.UserID) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.Request)
		if !ok {
			abortWith(c, apperrors.NewUnauthorizedError("bearer token required"))
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			abortWith(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		if owner != "" && claims.UserID != owner {
			abortWith(c, apperrors.NewAppError(apperrors.ErrCodeUnauthorized, "token belongs to another user", http.StatusForbidden).
				WithContext("user_id", claims.UserID))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextIdentity, claims.Identity())
		c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to the access_token
// query parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || scheme != "Bearer" || token == "" {
			return "", false
		}
		return token, true
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

func abortWith(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
