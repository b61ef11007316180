package protocol

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatty_session_server/pkg/constants"

	_ "github.com/jackc/pgx/v5/stdlib" // 注册 pgx database/sql 驱动，供设备凭证库使用
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// WhatsmeowFactory 基于 whatsmeow 多设备协议的客户端工厂
// 设备凭证保存在 sqlstore 中，以设备 JID 作为 session_key
type WhatsmeowFactory struct {
	container *sqlstore.Container
}

// NewWhatsmeowFactory 打开设备凭证库并完成升级
func NewWhatsmeowFactory(ctx context.Context, dialect, dsn string) (*WhatsmeowFactory, error) {
	if dsn == "" {
		return nil, fmt.Errorf("whatsmeow credential dsn is empty")
	}
	container, err := sqlstore.New(ctx, dialect, dsn, newZapLogger(zap.L().Named("wa-store")))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return &WhatsmeowFactory{container: container}, nil
}

func (f *WhatsmeowFactory) Open(ctx context.Context, sessionID, sessionKey string) (Client, error) {
	device, err := f.loadDevice(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	lg := zap.L().Named("wa").With(zap.String("session_id", sessionID))
	c := &waClient{
		wa:      whatsmeow.NewClient(device, newZapLogger(lg)),
		events:  make(chan Event, constants.CHANNEL_SIZE),
		done:    make(chan struct{}),
		lg:      lg,
		qrFirst: firstQRTimeout,
		qrNext:  nextQRTimeout,
	}
	c.wa.AddEventHandler(c.handle)
	return c, nil
}

// loadDevice 凭证键为空、无法解析或已被清除时返回新设备，走扫码配对
func (f *WhatsmeowFactory) loadDevice(ctx context.Context, sessionKey string) (*store.Device, error) {
	if sessionKey == "" {
		return f.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(sessionKey)
	if err != nil {
		zap.L().Warn("invalid session key, pairing new device", zap.String("session_key", sessionKey), zap.Error(err))
		return f.container.NewDevice(), nil
	}
	device, err := f.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device %s: %w", sessionKey, err)
	}
	if device == nil {
		return f.container.NewDevice(), nil
	}
	return device, nil
}

// Close 关闭凭证库连接
func (f *WhatsmeowFactory) Close() error {
	return f.container.Close()
}

// 服务端一次下发多个配对码，首个有效 60 秒，其余各 20 秒
const (
	firstQRTimeout = 60 * time.Second
	nextQRTimeout  = 20 * time.Second
)

type waClient struct {
	wa        *whatsmeow.Client
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	lg        *zap.Logger

	qrFirst time.Duration
	qrNext  time.Duration
	qrMu    sync.Mutex
	qrStop  chan struct{}
}

func (c *waClient) Events() <-chan Event {
	return c.events
}

// Connect 未配对的设备会随后收到 *events.QR
func (c *waClient) Connect(_ context.Context) error {
	return c.wa.Connect()
}

func (c *waClient) SendText(ctx context.Context, to, text string) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}
	resp, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (c *waClient) SendPresence(ctx context.Context, to string, presence Presence) error {
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if presence == PresenceComposing {
		state = types.ChatPresenceComposing
	}
	return c.wa.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

func (c *waClient) Logout(ctx context.Context) error {
	return c.wa.Logout(ctx)
}

func (c *waClient) Close() {
	c.closeOnce.Do(func() {
		c.stopQR()
		close(c.done)
		c.wa.Disconnect()
	})
}

func (c *waClient) AccountID() string {
	if c.wa.Store.ID == nil {
		return ""
	}
	return c.wa.Store.ID.User
}

func (c *waClient) SessionKey() string {
	if c.wa.Store.ID == nil {
		return ""
	}
	return c.wa.Store.ID.String()
}

// handle 在 whatsmeow 的事件协程中同步调用，emit 阻塞即对其形成背压
func (c *waClient) handle(evt interface{}) {
	switch v := evt.(type) {
	case *events.QR:
		c.startQR(v.Codes)
	case *events.PairSuccess:
		c.stopQR()
		c.emit(Event{Kind: EventPairSuccess, AccountID: v.ID.User})
	case *events.PairError:
		c.stopQR()
		c.emit(Event{Kind: EventPairingFailed, Reason: fmt.Sprintf("pairing failed: %v", v.Error)})
	case *events.Connected:
		c.stopQR()
		c.emit(Event{Kind: EventConnected, AccountID: c.AccountID()})
	case *events.LoggedOut:
		c.emit(Event{Kind: EventLoggedOut, Reason: fmt.Sprintf("logged out by network (reason %v)", v.Reason)})
	case *events.StreamReplaced:
		c.emit(Event{Kind: EventLoggedOut, Reason: "stream replaced by another connection"})
	case *events.ClientOutdated:
		c.emit(Event{Kind: EventPairingFailed, Reason: "client outdated"})
	case *events.Disconnected:
		c.emit(Event{Kind: EventDisconnected, Reason: "connection closed"})
	case *events.Message:
		if msg := toInbound(v); msg != nil {
			c.emit(Event{Kind: EventMessage, Message: msg})
		}
	}
}

// startQR 替换正在轮换的配对码批次
func (c *waClient) startQR(codes []string) {
	if len(codes) == 0 {
		return
	}
	c.qrMu.Lock()
	if c.qrStop != nil {
		close(c.qrStop)
	}
	stop := make(chan struct{})
	c.qrStop = stop
	c.qrMu.Unlock()
	go c.rotateQR(codes, stop)
}

func (c *waClient) stopQR() {
	c.qrMu.Lock()
	defer c.qrMu.Unlock()
	if c.qrStop != nil {
		close(c.qrStop)
		c.qrStop = nil
	}
}

// rotateQR 按有效期依次发出配对码，全部过期后由服务端断开连接
func (c *waClient) rotateQR(codes []string, stop <-chan struct{}) {
	for i, code := range codes {
		ttl := c.qrNext
		if i == 0 {
			ttl = c.qrFirst
		}
		select {
		case <-stop:
			return
		default:
		}
		c.emit(Event{Kind: EventPairingCode, PairingCode: code, PairingTTL: ttl})
		timer := time.NewTimer(ttl)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		case <-c.done:
			timer.Stop()
			return
		}
	}
}

func (c *waClient) emit(evt Event) {
	select {
	case c.events <- evt:
	case <-c.done:
		c.lg.Debug("client closed, dropping event", zap.Stringer("kind", evt.Kind))
	}
}

// toInbound 自己发出的、状态广播和群消息直接丢弃
func toInbound(v *events.Message) *InboundMessage {
	if v.Info.IsFromMe || v.Info.IsGroup || v.Info.Chat.Server == types.BroadcastServer {
		return nil
	}
	text := v.Message.GetConversation()
	if text == "" {
		text = v.Message.GetExtendedTextMessage().GetText()
	}
	return &InboundMessage{
		ID:        string(v.Info.ID),
		From:      v.Info.Chat.String(),
		PushName:  v.Info.PushName,
		Text:      text,
		FromMe:    v.Info.IsFromMe,
		Timestamp: v.Info.Timestamp,
	}
}

// parseRecipient 接受完整 JID 或纯手机号
func parseRecipient(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.EmptyJID, fmt.Errorf("empty recipient")
	}
	if strings.Contains(to, "@") {
		return types.ParseJID(to)
	}
	return types.NewJID(strings.TrimPrefix(to, "+"), types.DefaultUserServer), nil
}
