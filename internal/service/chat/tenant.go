package chat

import (
	"context"
	"encoding/json"

	myredis "chatty_session_server/internal/dao/redis"
	"chatty_session_server/internal/dao/repository"
	"chatty_session_server/internal/model"
	"chatty_session_server/pkg/constants"

	"go.uber.org/zap"
)

// TenantConfigLoader 租户配置读取，优先走 Redis 缓存
// cache 为 nil 时直接查库
type TenantConfigLoader struct {
	repo  repository.ChatbotRepository
	cache myredis.CacheService
}

func NewTenantConfigLoader(repo repository.ChatbotRepository, cache myredis.CacheService) *TenantConfigLoader {
	return &TenantConfigLoader{repo: repo, cache: cache}
}

func (l *TenantConfigLoader) Load(ctx context.Context, tenantID string) (*model.Chatbot, error) {
	key := constants.CHATBOT_CACHE_PREFIX + tenantID
	if l.cache != nil {
		if raw, err := l.cache.Get(ctx, key); err != nil {
			zap.L().Warn("read chatbot cache failed", zap.String("tenant_id", tenantID), zap.Error(err))
		} else if raw != "" {
			var bot model.Chatbot
			if err = json.Unmarshal([]byte(raw), &bot); err == nil {
				return &bot, nil
			}
			zap.L().Warn("drop malformed chatbot cache", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	bot, err := l.repo.FindByID(tenantID)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		if data, merr := json.Marshal(bot); merr == nil {
			if serr := l.cache.Set(ctx, key, string(data), constants.CHATBOT_CACHE_TTL); serr != nil {
				zap.L().Warn("write chatbot cache failed", zap.String("tenant_id", tenantID), zap.Error(serr))
			}
		}
	}
	return bot, nil
}

// Invalidate 控制台修改配置后调用
func (l *TenantConfigLoader) Invalidate(ctx context.Context, tenantID string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Delete(ctx, constants.CHATBOT_CACHE_PREFIX+tenantID)
}
