package handler

import (
	"chatty_session_server/internal/dto/request"
	"chatty_session_server/internal/dto/respond"
	"chatty_session_server/internal/service"

	"github.com/gin-gonic/gin"
)

// MessageHandler 消息请求处理器
type MessageHandler struct {
	messageSvc service.MessageService
}

func NewMessageHandler(messageSvc service.MessageService) *MessageHandler {
	return &MessageHandler{messageSvc: messageSvc}
}

// SendMessage 直接发送一条文本，不分段不模拟打字
// POST /messages/send
// 请求体: request.SendMessageRequest
// 会话不在线时返回 404
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req request.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if err := h.messageSvc.SendNow(c.Request.Context(), req.SessionID, req.To, req.Message); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.SuccessRespond{Success: true})
}
