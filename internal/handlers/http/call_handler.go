package http

import (
	"context"
	"net/http"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/pkg/errors"
	"rillcall/pkg/validation"

	"github.com/gin-gonic/gin"
)

// CallController is the one-to-one call surface driven by the UI.
type CallController interface {
	StartCall(ctx context.Context, callee domain.UserID, isVideo bool) (domain.CallSnapshot, error)
	Answer(ctx context.Context) (domain.CallSnapshot, error)
	Reject(ctx context.Context) error
	Hangup(ctx context.Context) error
	SetAudioEnabled(ctx context.Context, enabled bool) (domain.CallSnapshot, error)
	SetVideoEnabled(ctx context.Context, enabled bool) (domain.CallSnapshot, error)
	Current() (domain.CallSnapshot, bool)
}

type CallHandler struct {
	calls CallController
}

var _ ports.CallHTTPHandler = (*CallHandler)(nil)

func NewCallHandler(calls CallController) *CallHandler {
	return &CallHandler{calls: calls}
}

func (h *CallHandler) SetupRoutes(api *gin.RouterGroup) {
	calls := api.Group("/calls")
	{
		calls.POST("", h.StartCall)
		calls.POST("/answer", h.AnswerCall)
		calls.POST("/reject", h.RejectCall)
		calls.POST("/hangup", h.Hangup)
		calls.POST("/audio", h.SetAudio)
		calls.POST("/video", h.SetVideo)
		calls.GET("/current", h.CurrentCall)
	}
}

type StartCallRequest struct {
	CalleeID string `json:"callee_id" binding:"required"`
	IsVideo  bool   `json:"is_video"`
}

// ToggleRequest uses a pointer so an omitted field is rejected rather than read as false.
type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *CallHandler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateUserID(req.CalleeID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	snap, err := h.calls.StartCall(c.Request.Context(), domain.UserID(req.CalleeID), req.IsVideo)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call": snap})
}

func (h *CallHandler) AnswerCall(c *gin.Context) {
	snap, err := h.calls.Answer(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": snap})
}

func (h *CallHandler) RejectCall(c *gin.Context) {
	if err := h.calls.Reject(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) Hangup(c *gin.Context) {
	if err := h.calls.Hangup(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) SetAudio(c *gin.Context) {
	h.toggle(c, h.calls.SetAudioEnabled)
}

func (h *CallHandler) SetVideo(c *gin.Context) {
	h.toggle(c, h.calls.SetVideoEnabled)
}

func (h *CallHandler) toggle(c *gin.Context, set func(context.Context, bool) (domain.CallSnapshot, error)) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("enabled is required"))
		return
	}
	snap, err := set(c.Request.Context(), *req.Enabled)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": snap})
}

func (h *CallHandler) CurrentCall(c *gin.Context) {
	snap, ok := h.calls.Current()
	if !ok {
		c.Error(domain.ErrNoActiveSession)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": snap})
}
