package service

import (
	"context"
	"time"

	"chatty_session_server/internal/config"
	myredis "chatty_session_server/internal/dao/redis"
	"chatty_session_server/internal/dao/repository"
	"chatty_session_server/internal/gateway/protocol"
	"chatty_session_server/internal/infrastructure/mq"
	"chatty_session_server/internal/service/chat"
	"chatty_session_server/internal/service/resolver"
)

// Deps 基础设施依赖，Cache 与 Publisher 可为 nil
type Deps struct {
	Repos     *repository.Repositories
	Cache     myredis.AsyncCacheService
	Factory   protocol.Factory
	Publisher mq.Publisher
	Config    *config.Config
}

// Services 聚合所有 Service 实例，Handler 层只依赖这里的接口
type Services struct {
	Session SessionService
	Message MessageService
	Chatbot ChatbotService
	Health  HealthService

	manager *chat.Manager
}

// NewServices 装配会话流水线：
// Registry -> DeliveryEngine -> Resolver -> InboundProcessor -> Manager
func NewServices(deps Deps) *Services {
	cfg := deps.Config
	var cache myredis.CacheService
	if deps.Cache != nil {
		cache = deps.Cache
	}

	registry := chat.NewRegistry()
	delivery := chat.NewDeliveryEngine(registry, deps.Repos.Message, deps.Publisher, pacingConfig(cfg.DeliveryConfig))
	tenants := chat.NewTenantConfigLoader(deps.Repos.Chatbot, cache)
	replies := resolver.NewService(resolver.Options{
		Timeout:            seconds(cfg.ResolverConfig.WebhookTimeout),
		Apology:            cfg.ResolverConfig.FallbackReply,
		BreakerMaxFailures: uint32(cfg.ResolverConfig.BreakerMaxFailures),
	})
	inbound := chat.NewInboundProcessor(chat.InboundDeps{
		Repos:        deps.Repos,
		Tenants:      tenants,
		Dedup:        cache,
		Resolver:     replies,
		Delivery:     delivery,
		Publisher:    deps.Publisher,
		HistoryLimit: cfg.DeliveryConfig.HistoryLimit,
	})
	manager := chat.NewManager(chat.ManagerDeps{
		Sessions:  deps.Repos.Session,
		Factory:   deps.Factory,
		Registry:  registry,
		Handler:   inbound,
		Publisher: deps.Publisher,
		Mirror:    deps.Cache,
	}, chat.ManagerConfig{
		InitTimeout:       seconds(cfg.ProtocolConfig.InitTimeout),
		ReconnectDelay:    seconds(cfg.ProtocolConfig.ReconnectDelay),
		MaxReconnectDelay: seconds(cfg.ProtocolConfig.MaxReconnectDelay),
		PairingTTL:        seconds(cfg.ProtocolConfig.PairingTTL),
	})

	return &Services{
		Session: manager,
		Message: delivery,
		Chatbot: tenants,
		Health:  NewHealthService(deps.Repos, cache),
		manager: manager,
	}
}

// Restore 进程启动时恢复会话
func (s *Services) Restore(ctx context.Context) (int, error) {
	return s.manager.RestoreAll(ctx)
}

// Shutdown 停止全部会话，保留设备凭证
func (s *Services) Shutdown(ctx context.Context) error {
	return s.manager.Shutdown(ctx)
}

func pacingConfig(c config.DeliveryConfig) chat.PacingConfig {
	p := chat.DefaultPacingConfig()
	if c.DefaultTypingWPM > 0 {
		p.DefaultWPM = c.DefaultTypingWPM
	}
	if c.MaxChunkLength > 0 {
		p.MaxChunkLength = c.MaxChunkLength
	}
	if c.MinTypingDelayMs > 0 {
		p.MinDelay = time.Duration(c.MinTypingDelayMs) * time.Millisecond
	}
	if c.MaxTypingDelayMs > 0 {
		p.MaxDelay = time.Duration(c.MaxTypingDelayMs) * time.Millisecond
	}
	if c.ChunkGapMs > 0 {
		p.ChunkGap = time.Duration(c.ChunkGapMs) * time.Millisecond
	}
	return p
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
