package handler

import (
	"chatty_session_server/internal/dto/request"
	"chatty_session_server/internal/dto/respond"
	"chatty_session_server/internal/service"

	"github.com/gin-gonic/gin"
)

type ChatbotHandler struct {
	chatbotSvc service.ChatbotService
}

func NewChatbotHandler(chatbotSvc service.ChatbotService) *ChatbotHandler {
	return &ChatbotHandler{chatbotSvc: chatbotSvc}
}

// Invalidate 丢弃机器人配置缓存，下一条入站消息重新读库
// POST /chatbots/invalidate
func (h *ChatbotHandler) Invalidate(c *gin.Context) {
	var req request.InvalidateChatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if err := h.chatbotSvc.Invalidate(c.Request.Context(), req.TenantID); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.SuccessRespond{Success: true})
}
