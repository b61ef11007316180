package model

import "time"

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

const MessageTypeText = "text"

// Message 会话上收发的一条文本消息，写入后不再修改
type Message struct {
	ID                int64            `gorm:"column:id;primaryKey;autoIncrement:false;comment:消息雪花ID"`
	SessionID         string           `gorm:"column:session_id;index:idx_session_contact;type:varchar(64);not null;comment:会话id"`
	TenantID          string           `gorm:"column:tenant_id;index;type:varchar(64);not null;comment:机器人id"`
	ExternalMessageID string           `gorm:"column:external_message_id;index;type:varchar(128);comment:消息网络侧id"`
	From              string           `gorm:"column:from;index:idx_session_contact;type:varchar(128);comment:发送方"`
	To                string           `gorm:"column:to;type:varchar(128);comment:接收方"`
	Direction         MessageDirection `gorm:"column:direction;type:varchar(16);not null;comment:inbound/outbound"`
	Type              string           `gorm:"column:type;type:varchar(16);not null;comment:消息类型"`
	Content           string           `gorm:"column:content;type:text;comment:消息内容"`
	Timestamp         time.Time        `gorm:"column:timestamp;index;comment:消息时间"`
}

func (Message) TableName() string {
	return "whatsapp_messages"
}

// Contact 对端地址：入站取发送方，出站取接收方
func (m *Message) Contact() string {
	if m.Direction == DirectionInbound {
		return m.From
	}
	return m.To
}
