// Package model 定义数据库实体模型
package model

import "time"

// SessionStatus 会话连接状态
type SessionStatus string

const (
	SessionStatusPending      SessionStatus = "pending"      // 已创建，尚未拿到二维码
	SessionStatusQRReady      SessionStatus = "qr_ready"     // 二维码已生成，等待扫码
	SessionStatusConnecting   SessionStatus = "connecting"   // 已配对或携带凭证重连中
	SessionStatusConnected    SessionStatus = "connected"    // 在线
	SessionStatusDisconnected SessionStatus = "disconnected" // 主动断开或被登出
	SessionStatusFailed       SessionStatus = "failed"       // 配对失败或初始化超时
)

// IsLive 非终态即视为存活
func (s SessionStatus) IsLive() bool {
	switch s {
	case SessionStatusPending, SessionStatusQRReady, SessionStatusConnecting, SessionStatusConnected:
		return true
	}
	return false
}

// RestorableStatuses 进程重启后需要重新初始化的状态
var RestorableStatuses = []SessionStatus{
	SessionStatusConnected,
	SessionStatusConnecting,
	SessionStatusQRReady,
	SessionStatusPending,
}

// DisconnectReasonMaxLen disconnect_reason 列宽，按字符计
const DisconnectReasonMaxLen = 255

// Session 一个租户（机器人）在消息网络上的一条长连接
// 同一 (owner_id, tenant_id) 同时最多存在一个存活会话
type Session struct {
	ID       string `gorm:"column:id;primaryKey;type:varchar(64);comment:会话id"`
	OwnerID  string `gorm:"column:owner_id;index:idx_owner_tenant;type:varchar(64);not null;comment:所属用户"`
	TenantID string `gorm:"column:tenant_id;index:idx_owner_tenant;type:varchar(64);not null;comment:机器人id"`

	// SessionKey 设备凭证键（设备 JID），配对成功后写入，重连时据此恢复凭证
	SessionKey string        `gorm:"column:session_key;type:varchar(128);comment:设备凭证键"`
	Status     SessionStatus `gorm:"column:status;index;type:varchar(20);not null;comment:连接状态"`

	// PairingArtifact data URL 形式的二维码图片
	PairingArtifact    string     `gorm:"column:pairing_artifact;type:text;comment:配对二维码"`
	PairingExpiresAt   *time.Time `gorm:"column:pairing_expires_at;comment:二维码过期时间"`
	ExternalIdentifier string     `gorm:"column:external_identifier;type:varchar(64);comment:绑定的手机号"`
	ConnectedAt        *time.Time `gorm:"column:connected_at;comment:最近上线时间"`
	LastActiveAt       *time.Time `gorm:"column:last_active_at;comment:最近活跃时间"`
	DisconnectReason   string     `gorm:"column:disconnect_reason;type:varchar(255);comment:断开原因"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Session) TableName() string {
	return "whatsapp_sessions"
}
