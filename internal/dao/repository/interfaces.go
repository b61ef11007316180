// Package repository 会话存储的数据访问层
// 接口在此文件定义，具体实现在各自的文件中
package repository

import (
	"chatty_session_server/internal/model"

	"gorm.io/gorm"
)

// SessionRepository 会话数据访问接口
type SessionRepository interface {
	FindByID(id string) (*model.Session, error)
	FindByOwnerAndTenant(ownerID, tenantID string) ([]model.Session, error)
	// FindByStatuses 进程启动时恢复会话用
	FindByStatuses(statuses []model.SessionStatus) ([]model.Session, error)
	Create(session *model.Session) error
	DeleteByOwnerAndTenant(ownerID, tenantID string) error
	// ReplaceForOwnerAndTenant 在同一事务内删除该 (owner, tenant) 的旧会话并写入新会话
	ReplaceForOwnerAndTenant(session *model.Session) error
	// UpdateFields updates 的 key 为列名
	UpdateFields(id string, updates map[string]interface{}) error
}

// MessageRepository 消息数据访问接口，消息只增不改
type MessageRepository interface {
	Create(message *model.Message) error
	ExistsByExternalID(sessionID, externalID string) (bool, error)
	// FindRecentByContact 与某个对端的最近消息，按时间倒序
	FindRecentByContact(sessionID, contact string, limit int) ([]model.Message, error)
}

// ChatbotRepository 租户配置只读接口
type ChatbotRepository interface {
	FindByID(id string) (*model.Chatbot, error)
	FindProducts(chatbotID string, limit int) ([]model.Product, error)
	FindKnowledge(chatbotID string, limit int) ([]model.KnowledgeDocument, error)
}

// Repositories 聚合所有 Repository，作为依赖注入的入口
type Repositories struct {
	db      *gorm.DB
	Session SessionRepository
	Message MessageRepository
	Chatbot ChatbotRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:      db,
		Session: NewSessionRepository(db),
		Message: NewMessageRepository(db),
		Chatbot: NewChatbotRepository(db),
	}
}

// Ping 健康检查用
func (r *Repositories) Ping() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return wrapDBError(err, "获取数据库连接")
	}
	return wrapDBError(sqlDB.Ping(), "ping 数据库")
}

// Close 关闭底层连接池
func (r *Repositories) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
