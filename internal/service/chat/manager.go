package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	myredis "chatty_session_server/internal/dao/redis"
	"chatty_session_server/internal/dao/repository"
	"chatty_session_server/internal/gateway/protocol"
	"chatty_session_server/internal/infrastructure/mq"
	"chatty_session_server/internal/model"
	"chatty_session_server/pkg/constants"
	"chatty_session_server/pkg/errorx"
	"chatty_session_server/pkg/util/pairing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInitTimeout 初始化在限定时间内没有拿到二维码也没有连上
var ErrInitTimeout = errorx.New(errorx.CodeTimeout, "initialization timed out")

const publishTimeout = 5 * time.Second

// SessionRef 消息入队时的会话快照，处理时不再依赖连接是否在线
type SessionRef struct {
	ID        string
	OwnerID   string
	TenantID  string
	AccountID string // 收到消息的本方账号
}

// MessageHandler 入站消息处理，由 InboundProcessor 实现
type MessageHandler interface {
	Handle(ctx context.Context, session SessionRef, msg *protocol.InboundMessage) error
}

type ManagerConfig struct {
	InitTimeout       time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PairingTTL        time.Duration
	LogoutTimeout     time.Duration
	InboxSize         int
}

func (c *ManagerConfig) applyDefaults() {
	if c.InitTimeout <= 0 {
		c.InitTimeout = 60 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	if c.PairingTTL <= 0 {
		c.PairingTTL = 60 * time.Second
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = 10 * time.Second
	}
	if c.InboxSize <= 0 {
		c.InboxSize = constants.CHANNEL_SIZE
	}
}

// Manager 连接生命周期管理
// 每个会话一个 run goroutine 串行消费客户端事件，另有一个收件箱 goroutine 按到达顺序处理入站消息
type Manager struct {
	sessions  repository.SessionRepository
	factory   protocol.Factory
	registry  *Registry
	handler   MessageHandler
	publisher mq.Publisher
	mirror    myredis.AsyncCacheService
	cfg       ManagerConfig

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	runs      map[string]*sessionRun
	pairLocks map[string]*pairLock
	closed    bool
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

type ManagerDeps struct {
	Sessions  repository.SessionRepository
	Factory   protocol.Factory
	Registry  *Registry
	Handler   MessageHandler
	Publisher mq.Publisher              // 可为 nil
	Mirror    myredis.AsyncCacheService // 可为 nil
}

func NewManager(deps ManagerDeps, cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		sessions:  deps.Sessions,
		factory:   deps.Factory,
		registry:  deps.Registry,
		handler:   deps.Handler,
		publisher: deps.Publisher,
		mirror:    deps.Mirror,
		cfg:       cfg,
		baseCtx:   ctx,
		stop:      stop,
		runs:      make(map[string]*sessionRun),
		pairLocks: make(map[string]*pairLock),
	}
}

// SetHandler 用于打破 Manager 与 InboundProcessor 的构造顺序依赖，须在 RestoreAll 之前调用
func (m *Manager) SetHandler(h MessageHandler) {
	m.handler = h
}

type sessionRun struct {
	id       string
	ownerID  string
	tenantID string
	// sessionKey 只在 run goroutine 内读写
	sessionKey string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logout atomic.Bool
	inbox  chan inboundItem
	retry  *retryScheduler

	// unlinked 已对某个客户端执行过注销，unlinkErr 为其结果，close(done) 之后可读
	unlinked  bool
	unlinkErr error
}

type inboundItem struct {
	msg       *protocol.InboundMessage
	accountID string
}

// CreateSession 退役该 (owner, tenant) 的旧会话，写入 pending 新会话并异步初始化
func (m *Manager) CreateSession(ctx context.Context, ownerID, tenantID string) (string, error) {
	if ownerID == "" || tenantID == "" {
		return "", errorx.Wrap(errorx.ErrInvalidParam, errorx.CodeInvalidParam, "ownerId and tenantId are required")
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", errorx.Wrap(errorx.ErrServerBusy, errorx.CodeServerBusy, "manager is shutting down")
	}
	unlock := m.lockPair(ownerID, tenantID)
	defer unlock()

	for _, old := range m.runsFor(ownerID, tenantID) {
		zap.L().Info("retiring prior session", zap.String("session_id", old.id), zap.String("owner_id", ownerID), zap.String("tenant_id", tenantID))
		if err := m.stopRun(ctx, old, true); err != nil {
			return "", errorx.Wrapf(err, errorx.CodeTimeout, "retire session %s", old.id)
		}
	}

	row := &model.Session{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		TenantID: tenantID,
		Status:   model.SessionStatusPending,
	}
	if err := m.sessions.ReplaceForOwnerAndTenant(row); err != nil {
		return "", err
	}

	m.publishStatus(row.ID, ownerID, tenantID, model.SessionStatusPending, "", "")
	if !m.start(row) {
		return "", errorx.Wrap(errorx.ErrServerBusy, errorx.CodeServerBusy, "manager is shutting down")
	}
	zap.L().Info("session created", zap.String("session_id", row.ID), zap.String("owner_id", ownerID), zap.String("tenant_id", tenantID))
	return row.ID, nil
}

// Disconnect 注销并停止会话，之后不会再有任何重连；会话不存在时直接返回
func (m *Manager) Disconnect(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	r := m.runs[sessionID]
	m.mu.Unlock()

	if r != nil {
		if err := m.stopRun(ctx, r, true); err != nil {
			return errorx.Wrapf(err, errorx.CodeTimeout, "disconnect session %s", sessionID)
		}
	}

	row, err := m.sessions.FindByID(sessionID)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil
		}
		return err
	}
	if r == nil && !row.Status.IsLive() {
		return nil
	}
	reason := constants.DISCONNECT_REASON_USER
	if r != nil && r.unlinkErr != nil {
		reason = constants.DISCONNECT_REASON_NOT_UNLINKED
	}
	// 注销后凭证作废，注销失败同样不再保留
	err = m.sessions.UpdateFields(sessionID, map[string]interface{}{
		"status":             model.SessionStatusDisconnected,
		"disconnect_reason":  reason,
		"session_key":        "",
		"pairing_artifact":   "",
		"pairing_expires_at": nil,
	})
	if err != nil {
		zap.L().Error("persist disconnect failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	m.publishStatus(sessionID, row.OwnerID, row.TenantID, model.SessionStatusDisconnected, "", reason)
	zap.L().Info("session disconnected", zap.String("session_id", sessionID))
	return nil
}

// RestoreAll 进程启动时重新初始化可恢复的会话，返回启动的数量
func (m *Manager) RestoreAll(ctx context.Context) (int, error) {
	rows, err := m.sessions.FindByStatuses(model.RestorableStatuses)
	if err != nil {
		return 0, err
	}
	restored := 0
	for i := range rows {
		if ctx.Err() != nil {
			return restored, ctx.Err()
		}
		row := rows[i]
		if m.running(row.ID) {
			continue
		}
		// 旧二维码已经失效，没有凭证的会话回到 pending 重新走配对
		if row.SessionKey == "" && row.Status != model.SessionStatusPending {
			err = m.sessions.UpdateFields(row.ID, map[string]interface{}{
				"status":             model.SessionStatusPending,
				"pairing_artifact":   "",
				"pairing_expires_at": nil,
			})
			if err != nil {
				zap.L().Warn("reset restored session failed", zap.String("session_id", row.ID), zap.Error(err))
			}
		}
		if !m.start(&row) {
			return restored, errorx.Wrap(errorx.ErrServerBusy, errorx.CodeServerBusy, "manager is shutting down")
		}
		restored++
	}
	zap.L().Info("sessions restored", zap.Int("count", restored))
	return restored, nil
}

// Shutdown 停止所有会话但不注销，凭证保留给下次启动恢复
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()

	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get 查询会话记录
func (m *Manager) Get(sessionID string) (*model.Session, error) {
	return m.sessions.FindByID(sessionID)
}

// ActiveCount 本进程在线会话数
func (m *Manager) ActiveCount() int {
	return m.registry.Count()
}

// ActiveSessions 集群视角的在线会话，Redis 不可用时退回本进程
func (m *Manager) ActiveSessions(ctx context.Context) []string {
	if m.mirror != nil {
		ids, err := m.mirror.GetSetMembers(ctx, constants.ACTIVE_SESSIONS_KEY)
		if err == nil {
			return ids
		}
		zap.L().Warn("read active session mirror failed", zap.Error(err))
	}
	return m.registry.SessionIDs()
}

// lockPair 串行化同一 (owner, tenant) 的创建，最后一个持有者释放时回收锁
func (m *Manager) lockPair(ownerID, tenantID string) func() {
	key := ownerID + "\x00" + tenantID
	m.mu.Lock()
	l, ok := m.pairLocks[key]
	if !ok {
		l = &pairLock{}
		m.pairLocks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.pairLocks, key)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) runsFor(ownerID, tenantID string) []*sessionRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*sessionRun
	for _, r := range m.runs {
		if r.ownerID == ownerID && r.tenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}

func (m *Manager) running(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runs[sessionID]
	return ok
}

// start 启动会话的 run goroutine，Shutdown 之后返回 false
func (m *Manager) start(row *model.Session) bool {
	ctx, cancel := context.WithCancel(m.baseCtx)
	r := &sessionRun{
		id:         row.ID,
		ownerID:    row.OwnerID,
		tenantID:   row.TenantID,
		sessionKey: row.SessionKey,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		inbox:      make(chan inboundItem, m.cfg.InboxSize),
		retry:      newRetryScheduler(m.cfg.ReconnectDelay, m.cfg.MaxReconnectDelay),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		cancel()
		return false
	}
	m.runs[r.id] = r
	m.wg.Add(1)
	go m.run(r)
	return true
}

// stopRun 取消会话上下文并等待 run 退出；logout 为 true 时 run 会先注销设备
func (m *Manager) stopRun(ctx context.Context, r *sessionRun, logout bool) error {
	if logout {
		r.logout.Store(true)
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) forget(r *sessionRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[r.id] == r {
		delete(m.runs, r.id)
	}
}

func (m *Manager) run(r *sessionRun) {
	inboxDone := make(chan struct{})
	go m.consumeInbox(r, inboxDone)

	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("session run panic", zap.String("session_id", r.id), zap.Any("panic", p), zap.Stack("stack"))
			m.fail(r, fmt.Sprintf("internal error: %v", p))
		}
		r.cancel()
		close(r.inbox)
		<-inboxDone
		if r.logout.Load() && !r.unlinked && r.sessionKey != "" {
			m.unlink(r)
		}
		m.forget(r)
		close(r.done)
		m.wg.Done()
	}()

	for attempt := 0; ; attempt++ {
		if !m.connectOnce(r, attempt) || r.ctx.Err() != nil {
			return
		}
		zap.L().Info("scheduling reconnect", zap.String("session_id", r.id), zap.Int("attempt", attempt+1))
		if !r.retry.Wait(r.ctx) {
			return
		}
	}
}

// connectOnce 打开一个客户端并消费它的事件，返回是否需要重连
func (m *Manager) connectOnce(r *sessionRun, attempt int) bool {
	lg := zap.L().With(zap.String("session_id", r.id), zap.Int("attempt", attempt))

	client, err := m.factory.Open(r.ctx, r.id, r.sessionKey)
	if err != nil {
		return m.initError(r, attempt, "open client", err, lg)
	}
	defer m.release(r, client, lg)

	if r.sessionKey != "" {
		m.setStatus(r, model.SessionStatusConnecting, nil)
	}
	if err = client.Connect(r.ctx); err != nil {
		return m.initError(r, attempt, "connect", err, lg)
	}

	initTimer := time.NewTimer(m.cfg.InitTimeout)
	defer initTimer.Stop()
	initC := initTimer.C

	for {
		select {
		case <-r.ctx.Done():
			return false

		case <-initC:
			if attempt > 0 {
				lg.Warn("reconnect timed out, retrying")
				return true
			}
			lg.Warn("initialization timed out", zap.Duration("timeout", m.cfg.InitTimeout))
			m.fail(r, ErrInitTimeout.Error())
			return false

		case evt, ok := <-client.Events():
			if !ok {
				lg.Warn("event stream closed")
				return true
			}
			switch evt.Kind {
			case protocol.EventPairingCode:
				if m.onPairingCode(r, evt.PairingCode, evt.PairingTTL, lg) {
					initC = nil
				}
			case protocol.EventPairSuccess:
				lg.Info("paired", zap.String("account_id", evt.AccountID))
				m.setStatus(r, model.SessionStatusConnecting, map[string]interface{}{
					"external_identifier": evt.AccountID,
				})
			case protocol.EventPairingFailed:
				lg.Warn("pairing failed", zap.String("reason", evt.Reason))
				m.fail(r, reasonOr(evt.Reason, "pairing failed"))
				return false
			case protocol.EventConnected:
				initC = nil
				m.onConnected(r, client, evt.AccountID)
				lg.Info("session connected", zap.String("account_id", client.AccountID()))
			case protocol.EventLoggedOut:
				reason := reasonOr(evt.Reason, "logged out")
				lg.Info("session logged out", zap.String("reason", reason))
				m.registry.RemoveIf(r.id, client)
				r.sessionKey = ""
				m.setStatus(r, model.SessionStatusDisconnected, map[string]interface{}{
					"disconnect_reason":  reason,
					"pairing_artifact":   "",
					"pairing_expires_at": nil,
				})
				return false
			case protocol.EventDisconnected:
				lg.Info("connection dropped", zap.String("reason", evt.Reason))
				m.registry.RemoveIf(r.id, client)
				return true
			case protocol.EventMessage:
				if evt.Message == nil {
					continue
				}
				select {
				case r.inbox <- inboundItem{msg: evt.Message, accountID: client.AccountID()}:
				case <-r.ctx.Done():
					return false
				}
			}
		}
	}
}

// initError 首次初始化失败是终态，重连阶段的失败继续重试
func (m *Manager) initError(r *sessionRun, attempt int, stage string, err error, lg *zap.Logger) bool {
	if r.ctx.Err() != nil {
		return false
	}
	if attempt > 0 {
		lg.Warn("reconnect failed", zap.String("stage", stage), zap.Error(err))
		return true
	}
	lg.Error("initialization failed", zap.String("stage", stage), zap.Error(err))
	m.fail(r, fmt.Sprintf("%s: %v", stage, err))
	return false
}

func (m *Manager) onPairingCode(r *sessionRun, code string, ttl time.Duration, lg *zap.Logger) bool {
	artifact, err := pairing.RenderQR(code)
	if err != nil {
		lg.Error("render pairing code failed", zap.Error(err))
		return false
	}
	if ttl <= 0 {
		ttl = m.cfg.PairingTTL
	}
	m.setStatus(r, model.SessionStatusQRReady, map[string]interface{}{
		"pairing_artifact":   artifact,
		"pairing_expires_at": time.Now().Add(ttl),
	})
	return true
}

func (m *Manager) onConnected(r *sessionRun, client protocol.Client, accountID string) {
	r.retry.Reset()
	if key := client.SessionKey(); key != "" {
		r.sessionKey = key
	}
	if accountID == "" {
		accountID = client.AccountID()
	}
	m.registry.Register(r.id, client, r.tenantID, r.ownerID)

	now := time.Now()
	m.setStatus(r, model.SessionStatusConnected, map[string]interface{}{
		"external_identifier": accountID,
		"session_key":         r.sessionKey,
		"connected_at":        now,
		"last_active_at":      now,
		"pairing_artifact":    "",
		"pairing_expires_at":  nil,
		"disconnect_reason":   "",
	})
	m.mirrorUpdate(r.id, true)
}

func (m *Manager) release(r *sessionRun, client protocol.Client, lg *zap.Logger) {
	if m.registry.RemoveIf(r.id, client) {
		m.mirrorUpdate(r.id, false)
	}
	if r.logout.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LogoutTimeout)
		r.unlinked = true
		if r.unlinkErr = client.Logout(ctx); r.unlinkErr != nil {
			lg.Warn("logout failed", zap.Error(r.unlinkErr))
		}
		cancel()
	}
	client.Close()
}

// unlink 停止时手上没有客户端（例如正在等待重连），用凭证临时连上再注销设备
func (m *Manager) unlink(r *sessionRun) {
	lg := zap.L().With(zap.String("session_id", r.id))
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LogoutTimeout)
	defer cancel()
	r.unlinked = true
	r.unlinkErr = m.logoutWithKey(ctx, r)
	if r.unlinkErr != nil {
		lg.Warn("unlink device failed", zap.Error(r.unlinkErr))
		return
	}
	lg.Info("device unlinked")
}

func (m *Manager) logoutWithKey(ctx context.Context, r *sessionRun) error {
	client, err := m.factory.Open(ctx, r.id, r.sessionKey)
	if err != nil {
		return err
	}
	defer client.Close()
	if err = client.Connect(ctx); err != nil {
		return err
	}
	// 登录完成之前服务端不接受注销请求
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-client.Events():
			if !ok {
				return errors.New("event stream closed before login")
			}
			switch evt.Kind {
			case protocol.EventConnected:
				return client.Logout(ctx)
			case protocol.EventLoggedOut:
				return nil
			case protocol.EventPairingCode, protocol.EventPairingFailed:
				return errors.New("credentials no longer valid")
			}
		}
	}
}

func (m *Manager) fail(r *sessionRun, reason string) {
	m.registry.Remove(r.id)
	m.mirrorUpdate(r.id, false)
	m.setStatus(r, model.SessionStatusFailed, map[string]interface{}{
		"disconnect_reason":  reason,
		"pairing_artifact":   "",
		"pairing_expires_at": nil,
	})
}

// setStatus 状态写库失败只记日志，不影响连接本身
func (m *Manager) setStatus(r *sessionRun, status model.SessionStatus, fields map[string]interface{}) {
	updates := map[string]interface{}{"status": status}
	for k, v := range fields {
		updates[k] = v
	}
	if reason, ok := updates["disconnect_reason"].(string); ok {
		updates["disconnect_reason"] = truncateReason(reason)
	}
	if err := m.sessions.UpdateFields(r.id, updates); err != nil {
		zap.L().Error("persist session status failed", zap.String("session_id", r.id), zap.String("status", string(status)), zap.Error(err))
	}
	artifact, _ := updates["pairing_artifact"].(string)
	reason, _ := updates["disconnect_reason"].(string)
	m.publishStatus(r.id, r.ownerID, r.tenantID, status, artifact, reason)
}

func (m *Manager) publishStatus(sessionID, ownerID, tenantID string, status model.SessionStatus, artifact, reason string) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err := m.publisher.Publish(ctx, &mq.SessionEvent{
		Type:            mq.EventSessionStatus,
		SessionID:       sessionID,
		OwnerID:         ownerID,
		TenantID:        tenantID,
		Status:          string(status),
		PairingArtifact: artifact,
		Reason:          reason,
		Timestamp:       time.Now(),
	})
	if err != nil {
		zap.L().Warn("publish session event failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// mirrorUpdate 异步维护 Redis 中的在线会话集合
func (m *Manager) mirrorUpdate(sessionID string, online bool) {
	if m.mirror == nil {
		return
	}
	m.mirror.SubmitTask(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.REDIS_TIMEOUT)*time.Minute)
		defer cancel()
		var err error
		if online {
			err = m.mirror.AddToSet(ctx, constants.ACTIVE_SESSIONS_KEY, sessionID)
		} else {
			err = m.mirror.RemoveFromSet(ctx, constants.ACTIVE_SESSIONS_KEY, sessionID)
		}
		if err != nil {
			zap.L().Warn("update active session mirror failed", zap.String("session_id", sessionID), zap.Bool("online", online), zap.Error(err))
		}
	})
}

func (m *Manager) consumeInbox(r *sessionRun, done chan struct{}) {
	defer close(done)
	for item := range r.inbox {
		if r.ctx.Err() != nil {
			continue
		}
		m.dispatch(r, item)
	}
}

func (m *Manager) dispatch(r *sessionRun, item inboundItem) {
	msg := item.msg
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("inbound handler panic", zap.String("session_id", r.id), zap.Any("panic", p), zap.Stack("stack"))
		}
	}()
	if m.handler == nil {
		return
	}
	ref := SessionRef{ID: r.id, OwnerID: r.ownerID, TenantID: r.tenantID, AccountID: item.accountID}
	err := m.handler.Handle(r.ctx, ref, msg)
	if err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Warn("handle inbound message failed", zap.String("session_id", r.id), zap.String("from", msg.From), zap.Error(err))
	}
}

// truncateReason 按字符截断到列宽
func truncateReason(reason string) string {
	runes := []rune(reason)
	if len(runes) <= model.DisconnectReasonMaxLen {
		return reason
	}
	return string(runes[:model.DisconnectReasonMaxLen])
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
