// Package handler 提供 HTTP 请求处理器
// 通过构造函数注入 Service 依赖
package handler

import (
	"chatty_session_server/internal/gateway/websocket"
	"chatty_session_server/internal/service"
)

// Handlers 聚合所有 Handler 实例，Router 层通过此结构访问各个 Handler
type Handlers struct {
	Session *SessionHandler
	Message *MessageHandler
	Chatbot *ChatbotHandler
	Health  *HealthHandler
	Ws      *WsHandler
}

// NewHandlers 创建并注入所有 Handler 实例
func NewHandlers(svc *service.Services, hub *websocket.Hub) *Handlers {
	return &Handlers{
		Session: NewSessionHandler(svc.Session),
		Message: NewMessageHandler(svc.Message),
		Chatbot: NewChatbotHandler(svc.Chatbot),
		Health:  NewHealthHandler(svc.Session, svc.Health),
		Ws:      NewWsHandler(hub),
	}
}
