package repository_test

import (
	"testing"
	"time"

	"chatty_session_server/internal/dao/repository"
	"chatty_session_server/internal/dao/store"
	"chatty_session_server/internal/model"
	"chatty_session_server/pkg/errorx"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepos(t *testing.T) *repository.Repositories {
	repos, _ := newTestReposWithDB(t)
	return repos
}

func newTestReposWithDB(t *testing.T) (*repository.Repositories, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库按连接隔离，固定单连接
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(db))

	repos := repository.NewRepositories(db)
	t.Cleanup(func() { _ = repos.Close() })
	return repos, db
}

func TestSessionReplaceRetiresPriorRows(t *testing.T) {
	repos := newTestRepos(t)

	first := &model.Session{ID: "s-1", OwnerID: "u-1", TenantID: "bot-1", Status: model.SessionStatusConnected}
	other := &model.Session{ID: "s-9", OwnerID: "u-1", TenantID: "bot-2", Status: model.SessionStatusConnected}
	require.NoError(t, repos.Session.Create(first))
	require.NoError(t, repos.Session.Create(other))

	second := &model.Session{ID: "s-2", OwnerID: "u-1", TenantID: "bot-1", Status: model.SessionStatusPending}
	require.NoError(t, repos.Session.ReplaceForOwnerAndTenant(second))

	rows, err := repos.Session.FindByOwnerAndTenant("u-1", "bot-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s-2", rows[0].ID)
	assert.Equal(t, model.SessionStatusPending, rows[0].Status)

	_, err = repos.Session.FindByID("s-1")
	assert.True(t, errorx.IsNotFound(err))

	// 其它租户不受影响
	kept, err := repos.Session.FindByID("s-9")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusConnected, kept.Status)
}

func TestSessionReplaceRollsBackOnConflict(t *testing.T) {
	repos := newTestRepos(t)

	require.NoError(t, repos.Session.Create(&model.Session{ID: "s-1", OwnerID: "u-1", TenantID: "bot-1", Status: model.SessionStatusConnected}))
	require.NoError(t, repos.Session.Create(&model.Session{ID: "s-dup", OwnerID: "u-2", TenantID: "bot-9", Status: model.SessionStatusConnected}))

	// 主键冲突，删除也应回滚
	err := repos.Session.ReplaceForOwnerAndTenant(&model.Session{ID: "s-dup", OwnerID: "u-1", TenantID: "bot-1", Status: model.SessionStatusPending})
	require.Error(t, err)
	assert.Equal(t, errorx.CodeDBError, errorx.GetCode(err))

	rows, err := repos.Session.FindByOwnerAndTenant("u-1", "bot-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s-1", rows[0].ID)
}

func TestSessionFindByStatusesAndUpdate(t *testing.T) {
	repos := newTestRepos(t)

	for id, status := range map[string]model.SessionStatus{
		"a": model.SessionStatusConnected,
		"b": model.SessionStatusQRReady,
		"c": model.SessionStatusPending,
		"d": model.SessionStatusDisconnected,
		"e": model.SessionStatusFailed,
		"f": model.SessionStatusConnecting,
	} {
		require.NoError(t, repos.Session.Create(&model.Session{ID: id, OwnerID: "u-" + id, TenantID: "bot", Status: status}))
	}

	rows, err := repos.Session.FindByStatuses(model.RestorableStatuses)
	require.NoError(t, err)
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c", "f"}, ids)

	now := time.Now()
	require.NoError(t, repos.Session.UpdateFields("b", map[string]interface{}{
		"status":              model.SessionStatusConnected,
		"external_identifier": "15550001111",
		"connected_at":        now,
	}))
	row, err := repos.Session.FindByID("b")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusConnected, row.Status)
	assert.Equal(t, "15550001111", row.ExternalIdentifier)
	require.NotNil(t, row.ConnectedAt)
}

func TestMessageRecentByContactIsMostRecentFirst(t *testing.T) {
	repos := newTestRepos(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		msg := &model.Message{
			ID:        int64(i + 1),
			SessionID: "s-1",
			TenantID:  "bot-1",
			Type:      model.MessageTypeText,
			Content:   string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if i%2 == 0 {
			msg.Direction, msg.From, msg.To = model.DirectionInbound, "alice", "bot"
		} else {
			msg.Direction, msg.From, msg.To = model.DirectionOutbound, "bot", "alice"
		}
		require.NoError(t, repos.Message.Create(msg))
	}
	require.NoError(t, repos.Message.Create(&model.Message{
		ID: 100, SessionID: "s-1", TenantID: "bot-1", Direction: model.DirectionInbound,
		From: "bob", To: "bot", Type: model.MessageTypeText, Content: "other", Timestamp: base.Add(time.Hour),
	}))

	history, err := repos.Message.FindRecentByContact("s-1", "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 10)
	assert.Equal(t, int64(12), history[0].ID)
	assert.Equal(t, int64(3), history[9].ID)
	for _, m := range history {
		assert.Equal(t, "alice", m.Contact())
	}
}

func TestMessageExistsByExternalID(t *testing.T) {
	repos := newTestRepos(t)
	require.NoError(t, repos.Message.Create(&model.Message{
		ID: 1, SessionID: "s-1", TenantID: "bot-1", ExternalMessageID: "wamid-1",
		Direction: model.DirectionInbound, Type: model.MessageTypeText, Timestamp: time.Now(),
	}))

	ok, err := repos.Message.ExistsByExternalID("s-1", "wamid-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Message.ExistsByExternalID("s-2", "wamid-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChatbotLookups(t *testing.T) {
	repos, db := newTestReposWithDB(t)

	require.NoError(t, db.Create(&model.Chatbot{ID: "bot-1", Name: "Shop Bot", IsActive: true}).Error)
	require.NoError(t, db.Create(&model.Product{ID: "p-1", ChatbotID: "bot-1", Name: "Tea", Price: 4.5}).Error)
	require.NoError(t, db.Create(&model.Product{ID: "p-2", ChatbotID: "bot-2", Name: "Coffee"}).Error)
	require.NoError(t, db.Create(&model.KnowledgeDocument{ID: "k-1", ChatbotID: "bot-1", Title: "Hours", Content: "9-5"}).Error)

	bot, err := repos.Chatbot.FindByID("bot-1")
	require.NoError(t, err)
	assert.Equal(t, "Shop Bot", bot.Name)

	_, err = repos.Chatbot.FindByID("missing")
	assert.True(t, errorx.IsNotFound(err))

	products, err := repos.Chatbot.FindProducts("bot-1", 20)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Tea", products[0].Name)

	docs, err := repos.Chatbot.FindKnowledge("bot-1", 20)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
