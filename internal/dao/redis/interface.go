// Package redis 缓存服务：入站消息去重、租户配置缓存、在线会话镜像
package redis

import (
	"context"
	"time"
)

// CacheService 同步缓存操作，Service 层依赖此接口而非具体实现
type CacheService interface {
	// Set 设置键值对并指定过期时间
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Get 键不存在返回空字符串和 nil
	Get(ctx context.Context, key string) (string, error)
	// SetNX 键不存在时写入，返回是否写入成功
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error

	AddToSet(ctx context.Context, key string, members ...interface{}) error
	GetSetMembers(ctx context.Context, key string) ([]string, error)
	RemoveFromSet(ctx context.Context, key string, members ...interface{}) error

	Ping(ctx context.Context) error
}

// AsyncCacheService 额外提供异步任务提交，用于不阻塞主流程的缓存更新
type AsyncCacheService interface {
	CacheService
	SubmitTask(action func())
}
