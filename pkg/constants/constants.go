package constants

import "time"

const (
	CHANNEL_SIZE       = 100 // 事件通道、收件箱缓冲大小
	WORKER_POOL_SIZE   = 4   // redis 异步任务 worker 数
	REDIS_TIMEOUT      = 1   // redis timeout (分钟)
	PAIRING_QR_SIZE    = 256 // 二维码边长（像素）
	WEBHOOK_BODY_LIMIT = 1 << 20
)

// redis key
const (
	ACTIVE_SESSIONS_KEY  = "active_sessions"
	CHATBOT_CACHE_PREFIX = "chatbot_config_"
	INBOUND_DEDUP_PREFIX = "inbound_dedup_"
	CHATBOT_CACHE_TTL    = 5 * time.Minute
	INBOUND_DEDUP_TTL    = 24 * time.Hour
)

// DISCONNECT_REASON_USER 主动断开时写入的原因
const DISCONNECT_REASON_USER = "user requested disconnect"

// DISCONNECT_REASON_NOT_UNLINKED 主动断开但设备注销失败
const DISCONNECT_REASON_NOT_UNLINKED = "user requested disconnect; device not unlinked"
