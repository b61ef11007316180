package service

import (
	"context"
	"testing"
	"time"

	"chatty_session_server/internal/config"
	myredis "chatty_session_server/internal/dao/redis"
	"chatty_session_server/internal/dao/repository"
	"chatty_session_server/internal/dao/store"
	"chatty_session_server/internal/service/chat"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	return repository.NewRepositories(db)
}

func TestPacingConfigOverridesOnlySetFields(t *testing.T) {
	p := pacingConfig(config.DeliveryConfig{MaxChunkLength: 200, ChunkGapMs: 100})
	def := chat.DefaultPacingConfig()

	assert.Equal(t, 200, p.MaxChunkLength)
	assert.Equal(t, 100*time.Millisecond, p.ChunkGap)
	assert.Equal(t, def.DefaultWPM, p.DefaultWPM)
	assert.Equal(t, def.MinDelay, p.MinDelay)
	assert.Equal(t, def.MaxDelay, p.MaxDelay)
}

func TestHealthCheck(t *testing.T) {
	repos := newRepos(t)
	mr := miniredis.RunT(t)
	cache := myredis.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1, 4)
	t.Cleanup(func() { _ = cache.Close() })

	health := NewHealthService(repos, cache)
	result := health.Check(context.Background())
	assert.NoError(t, result["store"])
	assert.NoError(t, result["redis"])

	mr.Close()
	assert.Error(t, health.Check(context.Background())["redis"])

	require.NoError(t, repos.Close())
	assert.Error(t, health.Check(context.Background())["store"])
}

func TestHealthCheckWithoutCache(t *testing.T) {
	repos := newRepos(t)
	t.Cleanup(func() { _ = repos.Close() })

	result := NewHealthService(repos, nil).Check(context.Background())
	assert.Len(t, result, 1)
	assert.NoError(t, result["store"])
}
