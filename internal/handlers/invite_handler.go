package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Ephemera/internal/middlewares"
	"github.com/Gopher0727/Ephemera/internal/services"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

// InviteHandler 邀请码与成员处理器
type InviteHandler struct {
	inviteService     *services.InviteService
	groupService      *services.GroupService
	membershipService *services.MembershipService
	logger            *logger.Logger
}

// NewInviteHandler 创建邀请码处理器实例
func NewInviteHandler(inviteService *services.InviteService, groupService *services.GroupService, membershipService *services.MembershipService, log *logger.Logger) *InviteHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &InviteHandler{
		inviteService:     inviteService,
		groupService:      groupService,
		membershipService: membershipService,
		logger:            log,
	}
}

// Issue 签发邀请码（管理员）
func (h *InviteHandler) Issue(c *gin.Context) {
	h.rotate(c, h.inviteService.Issue)
}

// Regenerate 重新生成邀请码（管理员），旧码立即失效
func (h *InviteHandler) Regenerate(c *gin.Context) {
	h.rotate(c, h.inviteService.Regenerate)
}

func (h *InviteHandler) rotate(c *gin.Context, op func(ctx context.Context, groupID string) (*services.InviteDTO, error)) {
	ctx := c.Request.Context()
	groupID := c.Param("id")
	if err := h.groupService.RequireAdmin(ctx, groupID, middlewares.UserID(c)); err != nil {
		fail(c, h.logger, "rotate invite", err)
		return
	}

	dto, err := op(ctx, groupID)
	if err != nil {
		fail(c, h.logger, "rotate invite", err)
		return
	}
	success(c, http.StatusOK, dto)
}

// Validate 校验邀请码
func (h *InviteHandler) Validate(c *gin.Context) {
	groupID, err := h.inviteService.Validate(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, h.logger, "validate invite", err)
		return
	}
	success(c, http.StatusOK, gin.H{"group_id": groupID})
}

// Join 通过邀请码加入群组
func (h *InviteHandler) Join(c *gin.Context) {
	res, err := h.membershipService.Join(c.Request.Context(), c.Param("code"), middlewares.UserID(c))
	if err != nil {
		fail(c, h.logger, "join group", err)
		return
	}
	if !res.Accepted {
		rejected(c, res.Reason)
		return
	}
	success(c, http.StatusOK, res)
}

// RemoveMember 移除成员；移除自己即退群
func (h *InviteHandler) RemoveMember(c *gin.Context) {
	res, err := h.membershipService.Remove(c.Request.Context(), c.Param("id"), c.Param("userID"), middlewares.UserID(c))
	if err != nil {
		fail(c, h.logger, "remove member", err)
		return
	}
	if !res.Removed {
		rejected(c, res.Reason)
		return
	}
	success(c, http.StatusOK, res)
}
