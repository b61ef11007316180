package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	myredis "chatty_session_server/internal/dao/redis"
	"chatty_session_server/internal/dao/repository"
	"chatty_session_server/internal/gateway/protocol"
	"chatty_session_server/internal/gateway/protocol/protocoltest"
	"chatty_session_server/internal/model"
	"chatty_session_server/pkg/constants"
	"chatty_session_server/pkg/errorx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitTimeout = 3 * time.Second
	waitTick    = 5 * time.Millisecond
)

type recordingHandler struct {
	mu    sync.Mutex
	texts []string
	refs  []SessionRef
}

func (h *recordingHandler) Handle(_ context.Context, session SessionRef, msg *protocol.InboundMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.texts = append(h.texts, msg.Text)
	h.refs = append(h.refs, session)
	return nil
}

func (h *recordingHandler) sessions() []SessionRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SessionRef, len(h.refs))
	copy(out, h.refs)
	return out
}

func (h *recordingHandler) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.texts))
	copy(out, h.texts)
	return out
}

type managerFixture struct {
	manager   *Manager
	repos     *repository.Repositories
	factory   *protocoltest.Factory
	registry  *Registry
	publisher *recordingPublisher
	handler   *recordingHandler
}

func newManagerFixture(t *testing.T, cfg ManagerConfig, mirror myredis.AsyncCacheService) *managerFixture {
	t.Helper()
	if cfg.InitTimeout == 0 {
		cfg.InitTimeout = 2 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 20 * time.Millisecond
		cfg.MaxReconnectDelay = 40 * time.Millisecond
	}
	repos, _ := newTestRepos(t)
	f := &managerFixture{
		repos:     repos,
		factory:   protocoltest.NewFactory(),
		registry:  NewRegistry(),
		publisher: &recordingPublisher{},
		handler:   &recordingHandler{},
	}
	deps := ManagerDeps{
		Sessions:  repos.Session,
		Factory:   f.factory,
		Registry:  f.registry,
		Handler:   f.handler,
		Publisher: f.publisher,
	}
	if mirror != nil {
		deps.Mirror = mirror
	}
	f.manager = NewManager(deps, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})
	return f
}

func (f *managerFixture) nextClient(t *testing.T) *protocoltest.Client {
	t.Helper()
	select {
	case c := <-f.factory.Next():
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a client to be opened")
		return nil
	}
}

func (f *managerFixture) session(t *testing.T, id string) *model.Session {
	t.Helper()
	row, err := f.repos.Session.FindByID(id)
	require.NoError(t, err)
	return row
}

func (f *managerFixture) waitStatus(t *testing.T, id string, status model.SessionStatus) *model.Session {
	t.Helper()
	require.Eventually(t, func() bool {
		row, err := f.repos.Session.FindByID(id)
		return err == nil && row.Status == status
	}, waitTimeout, waitTick, "session %s never reached %s", id, status)
	return f.session(t, id)
}

func (f *managerFixture) connect(t *testing.T, ownerID, tenantID string) (string, *protocoltest.Client) {
	t.Helper()
	id, err := f.manager.CreateSession(context.Background(), ownerID, tenantID)
	require.NoError(t, err)
	c := f.nextClient(t)
	c.Emit(protocol.Event{Kind: protocol.EventConnected, AccountID: testAccount})
	f.waitStatus(t, id, model.SessionStatusConnected)
	return id, c
}

func TestCreateSessionPairingFlow(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)

	id, err := f.manager.CreateSession(context.Background(), "u-1", "bot-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	row := f.session(t, id)
	assert.Equal(t, "u-1", row.OwnerID)
	assert.Equal(t, "bot-1", row.TenantID)

	c := f.nextClient(t)
	assert.Empty(t, c.SessionKey())
	require.Eventually(t, func() bool { return c.Connects() == 1 }, waitTimeout, waitTick)

	c.Emit(protocol.Event{Kind: protocol.EventPairingCode, PairingCode: "2@pairing-ref,key,adv"})
	row = f.waitStatus(t, id, model.SessionStatusQRReady)
	assert.True(t, strings.HasPrefix(row.PairingArtifact, "data:image/png;base64,"))
	require.NotNil(t, row.PairingExpiresAt)
	assert.WithinDuration(t, time.Now().Add(60*time.Second), *row.PairingExpiresAt, 5*time.Second)

	c.Emit(protocol.Event{Kind: protocol.EventPairSuccess, AccountID: testAccount})
	f.waitStatus(t, id, model.SessionStatusConnecting)

	c.Emit(protocol.Event{Kind: protocol.EventConnected, AccountID: testAccount})
	row = f.waitStatus(t, id, model.SessionStatusConnected)
	assert.Equal(t, testAccount, row.ExternalIdentifier)
	assert.Equal(t, testAccount+":1@s.whatsapp.net", row.SessionKey)
	assert.Empty(t, row.PairingArtifact)
	assert.Nil(t, row.PairingExpiresAt)
	assert.NotNil(t, row.ConnectedAt)
	assert.NotNil(t, row.LastActiveAt)

	handle, ok := f.registry.Get(id)
	require.True(t, ok)
	assert.Same(t, c, handle)
	assert.Equal(t, 1, f.manager.ActiveCount())

	want := []string{"pending", "qr_ready", "connecting", "connected"}
	require.Eventually(t, func() bool { return len(f.publisher.statuses(id)) == len(want) }, waitTimeout, waitTick)
	assert.Equal(t, want, f.publisher.statuses(id))
}

func TestCreateSessionRequiresOwnerAndTenant(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)

	_, err := f.manager.CreateSession(context.Background(), "", "bot-1")
	assert.Equal(t, errorx.CodeInvalidParam, errorx.GetCode(err))
	_, err = f.manager.CreateSession(context.Background(), "u-1", "")
	assert.Equal(t, errorx.CodeInvalidParam, errorx.GetCode(err))
}

func TestCreateSessionRetiresPriorSession(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)

	first, firstClient := f.connect(t, "u-1", "bot-1")
	other, otherClient := f.connect(t, "u-1", "bot-2")

	second, err := f.manager.CreateSession(context.Background(), "u-1", "bot-1")
	require.NoError(t, err)
	f.nextClient(t)

	assert.True(t, firstClient.LoggedOut())
	assert.True(t, firstClient.Closed())
	_, err = f.repos.Session.FindByID(first)
	assert.True(t, errorx.IsNotFound(err))
	_, ok := f.registry.Get(first)
	assert.False(t, ok)

	rows, err := f.repos.Session.FindByOwnerAndTenant("u-1", "bot-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second, rows[0].ID)
	assert.True(t, rows[0].Status.IsLive())

	// 其他租户不受影响
	assert.False(t, otherClient.LoggedOut())
	assert.Equal(t, model.SessionStatusConnected, f.session(t, other).Status)
}

func TestConcurrentCreateKeepsOneLiveSession(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.CreateSession(context.Background(), "u-1", "bot-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, err := f.repos.Session.FindByOwnerAndTenant("u-1", "bot-1")
	require.NoError(t, err)
	live := 0
	for _, row := range rows {
		if row.Status.IsLive() {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestTransientDropSchedulesRetry(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	id, first := f.connect(t, "u-1", "bot-1")
	key := f.session(t, id).SessionKey
	require.NotEmpty(t, key)

	first.Emit(protocol.Event{Kind: protocol.EventDisconnected, Reason: "stream error"})

	retry := f.nextClient(t)
	assert.Equal(t, key, retry.SessionKey())
	assert.True(t, first.Closed())
	f.waitStatus(t, id, model.SessionStatusConnecting)
	assert.NotContains(t, f.publisher.statuses(id), "disconnected")
	_, ok := f.registry.Get(id)
	assert.False(t, ok)

	retry.Emit(protocol.Event{Kind: protocol.EventConnected, AccountID: testAccount})
	f.waitStatus(t, id, model.SessionStatusConnected)
	handle, ok := f.registry.Get(id)
	require.True(t, ok)
	assert.Same(t, retry, handle)
}

func TestRepeatedDropsKeepRetrying(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	id, c := f.connect(t, "u-1", "bot-1")

	for i := 0; i < 3; i++ {
		c.Emit(protocol.Event{Kind: protocol.EventDisconnected, Reason: "connection reset"})
		c = f.nextClient(t)
	}
	assert.Len(t, f.factory.Opened(id), 4)
	assert.Equal(t, model.SessionStatusConnecting, f.waitStatus(t, id, model.SessionStatusConnecting).Status)
}

func TestReconnectFailureIsRetried(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	id, c := f.connect(t, "u-1", "bot-1")

	failures := 2
	var mu sync.Mutex
	f.factory.Configure = func(c *protocoltest.Client) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			c.FailConnect(errors.New("dial tcp: connection refused"))
		}
	}
	c.Emit(protocol.Event{Kind: protocol.EventDisconnected, Reason: "network"})

	f.nextClient(t)
	f.nextClient(t)
	ok := f.nextClient(t)
	ok.Emit(protocol.Event{Kind: protocol.EventConnected, AccountID: testAccount})
	f.waitStatus(t, id, model.SessionStatusConnected)
}

func TestLoggedOutIsTerminal(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	id, c := f.connect(t, "u-1", "bot-1")

	c.Emit(protocol.Event{Kind: protocol.EventLoggedOut, Reason: "device removed"})

	row := f.waitStatus(t, id, model.SessionStatusDisconnected)
	assert.Equal(t, "device removed", row.DisconnectReason)
	_, ok := f.registry.Get(id)
	assert.False(t, ok)
	assert.Never(t, func() bool { return len(f.factory.Opened(id)) > 1 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestDisconnectLogsOutAndNeverRetries(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	id, c := f.connect(t, "u-1", "bot-1")

	require.NoError(t, f.manager.Disconnect(context.Background(), id))

	assert.True(t, c.LoggedOut())
	assert.True(t, c.Closed())
	row := f.session(t, id)
	assert.Equal(t, model.SessionStatusDisconnected, row.Status)
	assert.Equal(t, constants.DISCONNECT_REASON_USER, row.DisconnectReason)
	_, ok := f.registry.Get(id)
	assert.False(t, ok)
	assert.Never(t, func() bool { return len(f.factory.Opened(id)) > 1 }, 150*time.Millisecond, 10*time.Millisecond)

	// 重复断开是幂等的
	require.NoError(t, f.manager.Disconnect(context.Background(), id))
	require.NoError(t, f.manager.Disconnect(context.Background(), "no-such-session"))
}

// dropAndWait 断开连接并等到会话进入重连等待
func (f *managerFixture) dropAndWait(t *testing.T, id string, c *protocoltest.Client) {
	t.Helper()
	c.Emit(protocol.Event{Kind: protocol.EventDisconnected, Reason: "stream error"})
	require.Eventually(t, func() bool {
		_, ok := f.registry.Get(id)
		return !ok && c.Closed()
	}, waitTimeout, waitTick)
}

func TestDisconnectDuringRetryWaitUnlinksDevice(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{ReconnectDelay: time.Hour, MaxReconnectDelay: time.Hour}, nil)
	id, c := f.connect(t, "u-1", "bot-1")
	key := f.session(t, id).SessionKey
	f.dropAndWait(t, id, c)

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		errCh <- f.manager.Disconnect(ctx, id)
	}()

	unlink := f.nextClient(t)
	assert.Equal(t, key, unlink.SessionKey())
	require.Eventually(t, func() bool { return unlink.Connects() == 1 }, waitTimeout, waitTick)
	unlink.Emit(protocol.Event{Kind: protocol.EventConnected, AccountID: testAccount})
	require.NoError(t, <-errCh)

	assert.True(t, unlink.LoggedOut())
	assert.True(t, unlink.Closed())
	row := f.session(t, id)
	assert.Equal(t, model.SessionStatusDisconnected, row.Status)
	assert.Equal(t, constants.DISCONNECT_REASON_USER, row.DisconnectReason)
	assert.Empty(t, row.SessionKey)
	assert.False(t, f.manager.running(id))
	assert.Never(t, func() bool { return len(f.factory.Opened(id)) > 2 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestDisconnectRecordsDeviceNotUnlinked(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{
		ReconnectDelay:    time.Hour,
		MaxReconnectDelay: time.Hour,
		LogoutTimeout:     50 * time.Millisecond,
	}, nil)
	id, c := f.connect(t, "u-1", "bot-1")
	f.dropAndWait(t, id, c)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, f.manager.Disconnect(ctx, id))

	unlink := f.nextClient(t)
	assert.False(t, unlink.LoggedOut())
	assert.True(t, unlink.Closed())
	row := f.session(t, id)
	assert.Equal(t, model.SessionStatusDisconnected, row.Status)
	assert.Equal(t, constants.DISCONNECT_REASON_NOT_UNLINKED, row.DisconnectReason)
	assert.Empty(t, row.SessionKey)
	assert.Equal(t, "disconnected", f.publisher.statuses(id)[len(f.publisher.statuses(id))-1])
}

func TestInitTimeoutMarksFailed(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{InitTimeout: 50 * time.Millisecond}, nil)

	id, err := f.manager.CreateSession(context.Background(), "u-1", "bot-1")
	require.NoError(t, err)
	c := f.nextClient(t)

	row := f.waitStatus(t, id, model.SessionStatusFailed)
	assert.Equal(t, ErrInitTimeout.Error(), row.DisconnectReason)
	assert.Eventually(t, c.Closed, waitTimeout, waitTick)
	assert.Never(t, func() bool { return len(f.factory.Opened(id)) > 1 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestQRReadyStopsInitTimeout(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{InitTimeout: 50 * time.Millisecond}, nil)

	id, err := f.manager.CreateSession(context.Background(), "u-1", "bot-1")
	require.NoError(t, err)
	c := f.nextClient(t)
	c.Emit(protocol.Event{Kind: protocol.EventPairingCode, PairingCode: "2@ref"})
	f.waitStatus(t, id, model.SessionStatusQRReady)

	assert.Never(t, func() bool {
		row, err := f.repos.Session.FindByID(id)
		return err == nil && row.Status == model.SessionStatusFailed
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestPairingFailureIsTerminal(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)

	id, err := f.manager.CreateSession(context.Background(), "u-1", "bot-1")
	require.NoError(t, err)
	c := f.nextClient(t)
	c.Emit(protocol.Event{Kind: protocol.EventPairingCode, PairingCode: "2@ref"})
	c.Emit(protocol.Event{Kind: protocol.EventPairingFailed, Reason: "qr code expired"})

	row := f.waitStatus(t, id, model.SessionStatusFailed)
	assert.Equal(t, "qr code expired", row.DisconnectReason)
	assert.Empty(t, row.PairingArtifact)
	assert.Never(t, func() bool { return len(f.factory.Opened(id)) > 1 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestOpenFailureOnFirstAttemptIsTerminal(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	f.factory.FailOpen(errors.New("credential store unavailable"))

	id, err := f.manager.CreateSession(context.Background(), "u-1", "bot-1")
	require.NoError(t, err)

	row := f.waitStatus(t, id, model.SessionStatusFailed)
	assert.Contains(t, row.DisconnectReason, "credential store unavailable")
}

func TestInboundMessagesHandledInOrder(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	_, c := f.connect(t, "u-1", "bot-1")

	var want []string
	for i := 0; i < 30; i++ {
		text := string(rune('a'+i%26)) + strings.Repeat("!", i/26)
		want = append(want, text)
		c.Emit(protocol.Event{Kind: protocol.EventMessage, Message: &protocol.InboundMessage{ID: text, From: testRecipient, Text: text}})
	}
	require.Eventually(t, func() bool { return len(f.handler.received()) == len(want) }, waitTimeout, waitTick)
	assert.Equal(t, want, f.handler.received())
}

func TestQueuedMessagesSurviveConnectionDrop(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{ReconnectDelay: time.Hour, MaxReconnectDelay: time.Hour}, nil)
	id, c := f.connect(t, "u-1", "bot-1")

	c.Emit(protocol.Event{Kind: protocol.EventMessage, Message: &protocol.InboundMessage{ID: "m-1", From: testRecipient, Text: "first"}})
	c.Emit(protocol.Event{Kind: protocol.EventMessage, Message: &protocol.InboundMessage{ID: "m-2", From: testRecipient, Text: "second"}})
	c.Emit(protocol.Event{Kind: protocol.EventDisconnected, Reason: "stream error"})

	require.Eventually(t, func() bool { return len(f.handler.received()) == 2 }, waitTimeout, waitTick)
	assert.Equal(t, []string{"first", "second"}, f.handler.received())
	for _, ref := range f.handler.sessions() {
		assert.Equal(t, SessionRef{ID: id, OwnerID: "u-1", TenantID: "bot-1", AccountID: testAccount}, ref)
	}
	_, ok := f.registry.Get(id)
	assert.False(t, ok)
}

func TestRestoreAll(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	artifact := "data:image/png;base64,AAAA"
	rows := []model.Session{
		{ID: "s-connected", OwnerID: "u-1", TenantID: "bot-1", Status: model.SessionStatusConnected, SessionKey: "15550000001:1@s.whatsapp.net"},
		{ID: "s-reconnecting", OwnerID: "u-1", TenantID: "bot-6", Status: model.SessionStatusConnecting, SessionKey: "15550000006:1@s.whatsapp.net"},
		{ID: "s-paired", OwnerID: "u-1", TenantID: "bot-7", Status: model.SessionStatusConnecting},
		{ID: "s-qr", OwnerID: "u-1", TenantID: "bot-2", Status: model.SessionStatusQRReady, PairingArtifact: artifact},
		{ID: "s-pending", OwnerID: "u-1", TenantID: "bot-3", Status: model.SessionStatusPending},
		{ID: "s-gone", OwnerID: "u-1", TenantID: "bot-4", Status: model.SessionStatusDisconnected},
		{ID: "s-failed", OwnerID: "u-1", TenantID: "bot-5", Status: model.SessionStatusFailed},
	}
	for i := range rows {
		require.NoError(t, f.repos.Session.Create(&rows[i]))
	}

	restored, err := f.manager.RestoreAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, restored)

	opened := map[string]*protocoltest.Client{}
	for i := 0; i < 5; i++ {
		c := f.nextClient(t)
		opened[c.SessionID] = c
	}
	require.Contains(t, opened, "s-connected")
	require.Contains(t, opened, "s-reconnecting")
	require.Contains(t, opened, "s-paired")
	assert.Equal(t, "15550000006:1@s.whatsapp.net", opened["s-reconnecting"].SessionKey())
	assert.Empty(t, opened["s-paired"].SessionKey())
	require.Contains(t, opened, "s-qr")
	require.Contains(t, opened, "s-pending")
	assert.Equal(t, "15550000001:1@s.whatsapp.net", opened["s-connected"].SessionKey())
	assert.Empty(t, f.factory.Opened("s-gone"))
	assert.Empty(t, f.factory.Opened("s-failed"))

	f.waitStatus(t, "s-connected", model.SessionStatusConnecting)
	qr := f.session(t, "s-qr")
	assert.Equal(t, model.SessionStatusPending, qr.Status)
	assert.Empty(t, qr.PairingArtifact)
	assert.Equal(t, model.SessionStatusPending, f.session(t, "s-paired").Status)

	// 已在运行的会话不会被重复启动
	restored, err = f.manager.RestoreAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, restored)
}

func TestShutdownKeepsCredentials(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	id, c := f.connect(t, "u-1", "bot-1")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, f.manager.Shutdown(ctx))

	assert.False(t, c.LoggedOut())
	assert.True(t, c.Closed())
	assert.Equal(t, model.SessionStatusConnected, f.session(t, id).Status)
	assert.Zero(t, f.manager.ActiveCount())

	_, err := f.manager.CreateSession(context.Background(), "u-2", "bot-2")
	assert.Equal(t, errorx.CodeServerBusy, errorx.GetCode(err))
}

func TestShutdownDuringRestartResumesOnNextBoot(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	id, c := f.connect(t, "u-1", "bot-1")
	c.Emit(protocol.Event{Kind: protocol.EventDisconnected, Reason: "stream error"})
	f.nextClient(t)
	f.waitStatus(t, id, model.SessionStatusConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, f.manager.Shutdown(ctx))

	factory := protocoltest.NewFactory()
	next := NewManager(ManagerDeps{
		Sessions: f.repos.Session,
		Factory:  factory,
		Registry: NewRegistry(),
		Handler:  &recordingHandler{},
	}, ManagerConfig{})
	t.Cleanup(func() { _ = next.Shutdown(context.Background()) })

	restored, err := next.RestoreAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	select {
	case resumed := <-factory.Next():
		assert.Equal(t, id, resumed.SessionID)
		assert.NotEmpty(t, resumed.SessionKey())
	case <-time.After(waitTimeout):
		t.Fatal("restored session was never reopened")
	}
}

func TestStartAfterShutdownIsRejected(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, f.manager.Shutdown(ctx))

	row := &model.Session{ID: "s-late", OwnerID: "u-1", TenantID: "bot-1", Status: model.SessionStatusPending}
	require.NoError(t, f.repos.Session.Create(row))

	assert.False(t, f.manager.start(row))
	assert.False(t, f.manager.running("s-late"))
	_, err := f.manager.RestoreAll(context.Background())
	assert.Equal(t, errorx.CodeServerBusy, errorx.GetCode(err))
	assert.Empty(t, f.factory.Opened("s-late"))
	require.NoError(t, f.manager.Shutdown(ctx))
}

func TestPairLocksReleasedAfterCreate(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.CreateSession(context.Background(), "u-1", "bot-"+string(rune('a'+i%2)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	assert.Empty(t, f.manager.pairLocks)
}

func TestLongFailureReasonIsTruncated(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	f.factory.FailOpen(errors.New(strings.Repeat("é", 600)))

	id, err := f.manager.CreateSession(context.Background(), "u-1", "bot-1")
	require.NoError(t, err)

	row := f.waitStatus(t, id, model.SessionStatusFailed)
	assert.Equal(t, model.DisconnectReasonMaxLen, utf8.RuneCountInString(row.DisconnectReason))
	assert.True(t, strings.HasPrefix(row.DisconnectReason, "open client: "))
	assert.True(t, utf8.ValidString(row.DisconnectReason))
}

func TestPairingExpiryFollowsCodeLifetime(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)

	id, err := f.manager.CreateSession(context.Background(), "u-1", "bot-1")
	require.NoError(t, err)
	c := f.nextClient(t)
	c.Emit(protocol.Event{Kind: protocol.EventPairingCode, PairingCode: "2@next-ref", PairingTTL: 20 * time.Second})

	row := f.waitStatus(t, id, model.SessionStatusQRReady)
	require.NotNil(t, row.PairingExpiresAt)
	assert.WithinDuration(t, time.Now().Add(20*time.Second), *row.PairingExpiresAt, 5*time.Second)
}

func TestActiveSessionMirror(t *testing.T) {
	cache, mr := newTestCache(t)
	f := newManagerFixture(t, ManagerConfig{}, cache)
	id, _ := f.connect(t, "u-1", "bot-1")

	require.Eventually(t, func() bool {
		ok, _ := mr.IsMember(constants.ACTIVE_SESSIONS_KEY, id)
		return ok
	}, waitTimeout, waitTick)
	assert.Equal(t, []string{id}, f.manager.ActiveSessions(context.Background()))

	require.NoError(t, f.manager.Disconnect(context.Background(), id))
	require.Eventually(t, func() bool {
		ok, _ := mr.IsMember(constants.ACTIVE_SESSIONS_KEY, id)
		return !ok
	}, waitTimeout, waitTick)
}

func TestActiveSessionsFallsBackToRegistry(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{}, nil)
	id, _ := f.connect(t, "u-1", "bot-1")
	assert.Equal(t, []string{id}, f.manager.ActiveSessions(context.Background()))
}
