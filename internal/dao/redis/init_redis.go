package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"chatty_session_server/internal/config"
	"chatty_session_server/pkg/constants"

	"github.com/redis/go-redis/v9"
)

// Init 建立 Redis 连接并启动异步任务 worker
func Init(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.Db,
		PoolSize:     50,
		MinIdleConns: constants.WORKER_POOL_SIZE,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", client.Options().Addr, err)
	}
	return NewRedisCache(client, constants.WORKER_POOL_SIZE, 1000), nil
}
