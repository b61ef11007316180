package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	myredis "chatty_session_server/internal/dao/redis"
	"chatty_session_server/internal/dao/repository"
	"chatty_session_server/internal/dao/store"
	"chatty_session_server/internal/infrastructure/mq"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepos(t *testing.T) (*repository.Repositories, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(db))

	repos := repository.NewRepositories(db)
	t.Cleanup(func() { _ = repos.Close() })
	return repos, db
}

func newTestCache(t *testing.T) (*myredis.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := myredis.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 2, 16)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.SessionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt *mq.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *evt)
	return nil
}

func (p *recordingPublisher) ofType(typ mq.EventType) []mq.SessionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []mq.SessionEvent
	for _, evt := range p.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

func (p *recordingPublisher) statuses(sessionID string) []string {
	var out []string
	for _, evt := range p.ofType(mq.EventSessionStatus) {
		if evt.SessionID == sessionID {
			out = append(out, evt.Status)
		}
	}
	return out
}

// sleepRecorder 替换真实等待，只记录时长
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}
