package request

// InvalidateChatbotRequest 控制台修改机器人配置后通知刷新缓存
type InvalidateChatbotRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
}
