package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/internal/repositories"
	"github.com/Gopher0727/Ephemera/internal/services"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

func success(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}

// statusFor 把服务层错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidPolicy), errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotAdmin),
		errors.Is(err, repositories.ErrNotGroupMember),
		errors.Is(err, repositories.ErrMemberNotFound):
		return http.StatusForbidden
	case errors.Is(err, repositories.ErrGroupNotFound), errors.Is(err, services.ErrInvalidInvite):
		return http.StatusNotFound
	case errors.Is(err, services.ErrGroupNotActive),
		errors.Is(err, repositories.ErrGroupNotLive),
		errors.Is(err, repositories.ErrMessageLimitReached),
		errors.Is(err, repositories.ErrTransitionConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrInviteCapacity):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail 写入错误响应；5xx 记录日志且不向客户端暴露内部错误
func fail(c *gin.Context, log *logger.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.ErrorContext(c.Request.Context(), op+" failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// reasonStatus 加入/移除被拒绝时的状态码
func reasonStatus(reason services.Reason) int {
	switch reason {
	case services.ReasonInvalidOrExpiredCode, services.ReasonNotAMember:
		return http.StatusNotFound
	case services.ReasonAlreadyMember, services.ReasonGroupNotActive:
		return http.StatusConflict
	case services.ReasonNotAdmin, services.ReasonCreatorImmune:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func rejected(c *gin.Context, reason services.Reason) {
	c.JSON(reasonStatus(reason), gin.H{"error": string(reason)})
}
