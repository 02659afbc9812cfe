package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Ephemera/internal/middlewares"
	"github.com/Gopher0727/Ephemera/internal/services"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	messageService *services.MessageService
	logger         *logger.Logger
}

// NewMessageHandler 创建消息处理器实例
func NewMessageHandler(messageService *services.MessageService, log *logger.Logger) *MessageHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &MessageHandler{
		messageService: messageService,
		logger:         log,
	}
}

// SendMessage 发送消息
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req services.AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.messageService.Append(c.Request.Context(), c.Param("id"), middlewares.UserID(c), &req)
	if err != nil {
		fail(c, h.logger, "send message", err)
		return
	}
	success(c, http.StatusCreated, message)
}

// ListMessages 分页获取消息
func (h *MessageHandler) ListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, err := h.messageService.List(c.Request.Context(), c.Param("id"), middlewares.UserID(c), limit, offset)
	if err != nil {
		fail(c, h.logger, "list messages", err)
		return
	}
	success(c, http.StatusOK, messages)
}
