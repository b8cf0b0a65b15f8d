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

type GroupController interface {
	Join(ctx context.Context, groupID domain.GroupID) (domain.MeshSnapshot, error)
	Leave(ctx context.Context) error
	SetAudioEnabled(ctx context.Context, enabled bool) (domain.MeshSnapshot, error)
	SetVideoEnabled(ctx context.Context, enabled bool) (domain.MeshSnapshot, error)
	Snapshot() (domain.MeshSnapshot, bool)
}

type GroupHandler struct {
	groups GroupController
}

var _ ports.GroupHTTPHandler = (*GroupHandler)(nil)

func NewGroupHandler(groups GroupController) *GroupHandler {
	return &GroupHandler{groups: groups}
}

func (h *GroupHandler) SetupRoutes(api *gin.RouterGroup) {
	groups := api.Group("/groups")
	{
		groups.POST("/:id/join", h.JoinGroup)
		groups.POST("/leave", h.LeaveGroup)
		groups.GET("/current", h.CurrentGroup)
		groups.POST("/audio", h.SetGroupAudio)
		groups.POST("/video", h.SetGroupVideo)
	}
}

func (h *GroupHandler) JoinGroup(c *gin.Context) {
	groupID := c.Param("id")
	if err := validation.ValidateGroupID(groupID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	snap, err := h.groups.Join(c.Request.Context(), domain.GroupID(groupID))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": snap})
}

func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	if err := h.groups.Leave(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) CurrentGroup(c *gin.Context) {
	snap, ok := h.groups.Snapshot()
	if !ok {
		c.Error(domain.ErrNotInGroup)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": snap})
}

func (h *GroupHandler) SetGroupAudio(c *gin.Context) {
	h.toggle(c, h.groups.SetAudioEnabled)
}

func (h *GroupHandler) SetGroupVideo(c *gin.Context) {
	h.toggle(c, h.groups.SetVideoEnabled)
}

func (h *GroupHandler) toggle(c *gin.Context, set func(context.Context, bool) (domain.MeshSnapshot, error)) {
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
	c.JSON(http.StatusOK, gin.H{"group": snap})
}
