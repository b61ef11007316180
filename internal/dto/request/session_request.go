package request

// CreateSessionRequest 创建会话
// 使用位置: internal/handler/session_handler.go: CreateSession
type CreateSessionRequest struct {
	OwnerID  string `json:"ownerId" binding:"required"`
	TenantID string `json:"tenantId" binding:"required"`
}

// DisconnectSessionRequest 断开会话
type DisconnectSessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// WsSessionsRequest 控制台订阅会话事件
type WsSessionsRequest struct {
	OwnerID string `form:"owner_id" binding:"required"`
	Token   string `form:"token"`
}
