// Package service 定义 Handler 层依赖的业务接口，并在 provider.go 中装配实现
package service

import (
	"context"

	"chatty_session_server/internal/model"
)

// SessionService 会话生命周期，由 chat.Manager 实现
type SessionService interface {
	// CreateSession 退役该 (owner, tenant) 的旧会话，返回新会话 id，初始化异步进行
	CreateSession(ctx context.Context, ownerID, tenantID string) (string, error)
	// Disconnect 注销并停止会话，幂等
	Disconnect(ctx context.Context, sessionID string) error
	Get(sessionID string) (*model.Session, error)
	// ActiveSessions 集群内在线的会话 id
	ActiveSessions(ctx context.Context) []string
	// ActiveCount 本进程在线会话数
	ActiveCount() int
}

// MessageService 管理端直接发送，不分段不模拟打字
type MessageService interface {
	SendNow(ctx context.Context, sessionID, to, text string) error
}

// ChatbotService 租户配置缓存
type ChatbotService interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// HealthService 依赖探活
type HealthService interface {
	// Check 返回每个依赖的状态，nil 表示正常
	Check(ctx context.Context) map[string]error
}
