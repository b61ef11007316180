package request

// SendMessageRequest 管理端直接发送文本
// To 为对端地址，如 "15550001111@s.whatsapp.net"
type SendMessageRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	To        string `json:"to" binding:"required,recipient"`
	Message   string `json:"message" binding:"required"`
}
