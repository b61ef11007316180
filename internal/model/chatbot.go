package model

import "time"

// Chatbot 租户配置，由控制台维护，本服务只读
type Chatbot struct {
	ID               string    `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	OwnerID          string    `gorm:"column:owner_id;index;type:varchar(64)" json:"owner_id"`
	Name             string    `gorm:"column:name;type:varchar(128)" json:"name"`
	CompanyName      string    `gorm:"column:company_name;type:varchar(128)" json:"company_name"`
	ComplianceRules  string    `gorm:"column:compliance_rules;type:text" json:"compliance_rules"`
	Guidance         string    `gorm:"column:guidance;type:text" json:"guidance"`
	WebhookURL       string    `gorm:"column:webhook_url;type:varchar(512)" json:"webhook_url"`
	MessageDelimiter string    `gorm:"column:message_delimiter;type:varchar(32)" json:"message_delimiter"`
	TypingWPM        int       `gorm:"column:typing_wpm" json:"typing_wpm"`
	IsActive         bool      `gorm:"column:is_active;default:true" json:"is_active"`
	UpdatedAt        time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Chatbot) TableName() string {
	return "chatbots"
}

// Product 租户商品目录
type Product struct {
	ID          string  `gorm:"column:id;primaryKey;type:varchar(64)"`
	ChatbotID   string  `gorm:"column:chatbot_id;index;type:varchar(64)"`
	Name        string  `gorm:"column:name;type:varchar(255)"`
	Description string  `gorm:"column:description;type:text"`
	Price       float64 `gorm:"column:price"`
	Currency    string  `gorm:"column:currency;type:varchar(8)"`
}

func (Product) TableName() string {
	return "chatbot_products"
}

// KnowledgeDocument 租户知识库条目
type KnowledgeDocument struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	ChatbotID string    `gorm:"column:chatbot_id;index;type:varchar(64)"`
	Title     string    `gorm:"column:title;type:varchar(255)"`
	Content   string    `gorm:"column:content;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (KnowledgeDocument) TableName() string {
	return "chatbot_knowledge"
}
