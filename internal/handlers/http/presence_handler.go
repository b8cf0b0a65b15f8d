package http

import (
	"context"
	"net/http"
	"strconv"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/pkg/errors"
	"rillcall/pkg/validation"

	"github.com/gin-gonic/gin"
)

type PresenceView interface {
	Online() []domain.PresenceRecord
	IsOnline(userID domain.UserID) bool
}

type HistoryLister interface {
	List(ctx context.Context, userID domain.UserID, limit int) ([]domain.StoredCallRecord, error)
}

const defaultHistoryLimit = 50

// PresenceHandler serves the online roster and the local user's call history.
type PresenceHandler struct {
	presence PresenceView
	history  HistoryLister
	owner    domain.UserID
}

var (
	_ ports.PresenceHTTPHandler = (*PresenceHandler)(nil)
	_ ports.HistoryHTTPHandler  = (*PresenceHandler)(nil)
)

func NewPresenceHandler(presence PresenceView, history HistoryLister, owner domain.UserID) *PresenceHandler {
	return &PresenceHandler{presence: presence, history: history, owner: owner}
}

func (h *PresenceHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/presence", h.ListOnline)
	api.GET("/presence/:user_id", h.GetUserPresence)
	api.GET("/history", h.ListHistory)
}

func (h *PresenceHandler) ListOnline(c *gin.Context) {
	online := h.presence.Online()
	c.JSON(http.StatusOK, gin.H{
		"users": online,
		"count": len(online),
	})
}

func (h *PresenceHandler) GetUserPresence(c *gin.Context) {
	userID := c.Param("user_id")
	if err := validation.ValidateUserID(userID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"online":  h.presence.IsOnline(domain.UserID(userID)),
	})
}

func (h *PresenceHandler) ListHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(errors.NewInvalidInputError("limit must be a number"))
			return
		}
		limit = n
	}
	if err := validation.ValidateHistoryLimit(limit); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	records, err := h.history.List(c.Request.Context(), h.owner, limit)
	if err != nil {
		c.Error(errors.NewServiceUnavailableError("call history unavailable").WithContext("cause", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}
