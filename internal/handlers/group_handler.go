package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Ephemera/internal/middlewares"
	"github.com/Gopher0727/Ephemera/internal/services"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

// GroupHandler 群组处理器
type GroupHandler struct {
	groupService *services.GroupService
	sweepService *services.SweepService
	logger       *logger.Logger
}

// NewGroupHandler 创建群组处理器实例
func NewGroupHandler(groupService *services.GroupService, sweepService *services.SweepService, log *logger.Logger) *GroupHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &GroupHandler{
		groupService: groupService,
		sweepService: sweepService,
		logger:       log,
	}
}

// CreateGroup 创建群组
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req services.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.groupService.Create(c.Request.Context(), middlewares.UserID(c), &req)
	if err != nil {
		fail(c, h.logger, "create group", err)
		return
	}
	success(c, http.StatusCreated, group)
}

// GetGroup 获取群组详情
func (h *GroupHandler) GetGroup(c *gin.Context) {
	view, err := h.groupService.Get(c.Request.Context(), c.Param("id"), middlewares.UserID(c))
	if err != nil {
		fail(c, h.logger, "get group", err)
		return
	}
	success(c, http.StatusOK, view)
}

// Disband 管理员手动解散群组
func (h *GroupHandler) Disband(c *gin.Context) {
	if err := h.sweepService.DisbandManually(c.Request.Context(), c.Param("id"), middlewares.UserID(c)); err != nil {
		fail(c, h.logger, "disband group", err)
		return
	}
	success(c, http.StatusOK, gin.H{"group_id": c.Param("id")})
}
