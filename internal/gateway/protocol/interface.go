// Package protocol 消息网络客户端能力抽象
// 生命周期管理只依赖 Client / Factory，具体网络协议由适配器实现
package protocol

import (
	"context"
	"time"
)

// EventKind 客户端上报的事件类型
type EventKind int

const (
	EventPairingCode   EventKind = iota // 生成了新的配对码
	EventPairSuccess                    // 扫码成功，正在建立连接
	EventPairingFailed                  // 配对失败，终态
	EventConnected                      // 连接就绪
	EventDisconnected                   // 意外断开，可重连
	EventLoggedOut                      // 被登出，凭证失效
	EventMessage                        // 收到消息
)

func (k EventKind) String() string {
	switch k {
	case EventPairingCode:
		return "pairing_code"
	case EventPairSuccess:
		return "pair_success"
	case EventPairingFailed:
		return "pairing_failed"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventLoggedOut:
		return "logged_out"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event 统一事件，按 Kind 读取对应字段
type Event struct {
	Kind        EventKind
	PairingCode string          // EventPairingCode
	PairingTTL  time.Duration   // EventPairingCode，配对码有效期，为 0 时由调用方决定
	AccountID   string          // EventPairSuccess / EventConnected，账号手机号
	Reason      string          // EventPairingFailed / EventDisconnected / EventLoggedOut
	Message     *InboundMessage // EventMessage
}

// InboundMessage 已解析的入站文本消息
type InboundMessage struct {
	ID        string    // 消息网络侧 id
	From      string    // 回复地址
	PushName  string    // 对方昵称
	Text      string    // 文本内容，非文本消息为空
	FromMe    bool      // 本账号在其它设备上发出的消息
	Timestamp time.Time
}

// Presence 输入状态
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// Client 一条会话连接
// Events 在 Connect 之前即可读取，同一客户端的事件按发生顺序投递
type Client interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	// SendText 返回消息网络侧 id
	SendText(ctx context.Context, to, text string) (string, error)
	SendPresence(ctx context.Context, to string, presence Presence) error
	// Logout 注销设备，凭证随之失效
	Logout(ctx context.Context) error
	// Close 断开连接但保留凭证
	Close()
	// AccountID 已登录账号的手机号，未配对时为空
	AccountID() string
	// SessionKey 持久化凭证键，未配对时为空
	SessionKey() string
}

// Factory 按会话打开客户端，sessionKey 为空或无效时创建新设备
type Factory interface {
	Open(ctx context.Context, sessionID, sessionKey string) (Client, error)
}
