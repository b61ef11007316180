package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatty_session_server/internal/config"
	myredis "chatty_session_server/internal/dao/redis"
	"chatty_session_server/internal/dao/store"
	"chatty_session_server/internal/gateway/protocol"
	"chatty_session_server/internal/gateway/websocket"
	"chatty_session_server/internal/handler"
	"chatty_session_server/internal/https_server"
	"chatty_session_server/internal/infrastructure/logger"
	"chatty_session_server/internal/infrastructure/mq"
	"chatty_session_server/internal/service"
	"chatty_session_server/pkg/util/jwt"
	"chatty_session_server/pkg/util/snowflake"

	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. 加载配置
	conf := config.GetConfig()

	// 2. 初始化日志
	if err := logger.Init(&conf.LogConfig, conf.MainConfig.Mode); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = zap.L().Sync() }()
	zap.L().Info("日志初始化成功")

	// 3. 初始化雪花 ID 与 JWT
	snowflake.Init(conf.SnowflakeConfig.MachineID)
	jwt.Init(conf.JWTConfig.Secret, conf.JWTConfig.AccessTokenExpiry)
	if !jwt.Enabled() {
		zap.L().Warn("jwt secret not set, control API is unauthenticated")
	}

	// 4. 初始化数据库
	repos, err := store.Init(conf.StoreConfig)
	if err != nil {
		zap.L().Fatal("数据库初始化失败", zap.Error(err))
	}
	zap.L().Info("数据库初始化成功", zap.String("driver", conf.StoreConfig.Driver))

	// 5. 初始化 Redis，不可用时降级为无缓存
	var cache myredis.AsyncCacheService
	redisCache, err := myredis.Init(conf.RedisConfig)
	if err != nil {
		zap.L().Warn("Redis 不可用，缓存与在线会话镜像已关闭", zap.Error(err))
	} else {
		cache = redisCache
		zap.L().Info("Redis 初始化成功")
	}

	// 6. 事件推送：channel 直接推给 hub，kafka 经主题中转
	ctx, stop := context.WithCancel(context.Background())
	hub := websocket.NewHub()
	go hub.Run(ctx)

	var (
		publisher mq.Publisher
		kafkaPub  *mq.KafkaPublisher
		relay     *mq.KafkaRelay
	)
	if conf.KafkaConfig.MessageMode == "kafka" {
		kafkaPub = mq.NewKafkaPublisher(conf.KafkaConfig)
		relay = mq.NewKafkaRelay(conf.KafkaConfig, hub)
		go relay.Start(ctx)
		publisher = kafkaPub
	} else {
		publisher = mq.NewChannelPublisher(hub)
	}
	zap.L().Info("事件推送初始化成功", zap.String("mode", conf.KafkaConfig.MessageMode))

	// 7. 初始化消息网络客户端工厂（设备凭证库）
	factory, err := protocol.NewWhatsmeowFactory(ctx, conf.ProtocolConfig.CredentialDialect, conf.ProtocolConfig.CredentialDSN)
	if err != nil {
		zap.L().Fatal("设备凭证库初始化失败", zap.Error(err))
	}

	// 8. 初始化 Service 层 (依赖注入)，恢复上次运行中的会话
	svc := service.NewServices(service.Deps{
		Repos:     repos,
		Cache:     cache,
		Factory:   factory,
		Publisher: publisher,
		Config:    conf,
	})
	restored, err := svc.Restore(ctx)
	if err != nil {
		zap.L().Error("恢复会话失败", zap.Error(err))
	}
	zap.L().Info("Service 层初始化成功", zap.Int("restored_sessions", restored))

	// 9. 初始化 HTTP 服务器
	if err := handler.InitTrans("en"); err != nil {
		zap.L().Fatal("validator 翻译器初始化失败", zap.Error(err))
	}
	engine := https_server.Init(handler.NewHandlers(svc, hub), conf.MainConfig.Mode)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zap.L().Info("HTTP 服务启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("server running fault", zap.Error(err))
		}
	}()

	// 等待信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 先停止接收请求，再停止会话（不注销设备）
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("session manager shutdown failed", zap.Error(err))
	}
	stop()
	if relay != nil {
		_ = relay.Close()
	}
	if kafkaPub != nil {
		_ = kafkaPub.Close()
	}
	if err := factory.Close(); err != nil {
		zap.L().Warn("close credential store failed", zap.Error(err))
	}
	if redisCache != nil {
		_ = redisCache.Close()
	}
	if err := repos.Close(); err != nil {
		zap.L().Warn("close database failed", zap.Error(err))
	}

	zap.L().Info("服务器已关闭")
}
