package chat

import (
	"context"
	"strings"
	"time"

	myredis "chatty_session_server/internal/dao/redis"
	"chatty_session_server/internal/dao/repository"
	"chatty_session_server/internal/gateway/protocol"
	"chatty_session_server/internal/infrastructure/mq"
	"chatty_session_server/internal/model"
	"chatty_session_server/internal/service/resolver"
	"chatty_session_server/pkg/constants"
	"chatty_session_server/pkg/util/snowflake"

	"go.uber.org/zap"
)

// ReplyResolver 见 resolver.Service
type ReplyResolver interface {
	Resolve(ctx context.Context, webhookURL string, req *resolver.Request) string
}

// Deliverer 见 DeliveryEngine
type Deliverer interface {
	Deliver(ctx context.Context, sessionID, recipient, reply, delimiter string, wpm int) error
}

const catalogLimit = 50

// InboundProcessor 入站消息流水线：过滤 -> 去重 -> 组装上下文 -> 落库 -> 解析回复 -> 投递
type InboundProcessor struct {
	sessions     repository.SessionRepository
	messages     repository.MessageRepository
	chatbots     repository.ChatbotRepository
	tenants      *TenantConfigLoader
	dedup        myredis.CacheService
	resolver     ReplyResolver
	delivery     Deliverer
	publisher    mq.Publisher
	historyLimit int
}

type InboundDeps struct {
	Repos        *repository.Repositories
	Tenants      *TenantConfigLoader
	Dedup        myredis.CacheService // 可为 nil
	Resolver     ReplyResolver
	Delivery     Deliverer
	Publisher    mq.Publisher // 可为 nil
	HistoryLimit int
}

func NewInboundProcessor(deps InboundDeps) *InboundProcessor {
	limit := deps.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	return &InboundProcessor{
		sessions:     deps.Repos.Session,
		messages:     deps.Repos.Message,
		chatbots:     deps.Repos.Chatbot,
		tenants:      deps.Tenants,
		dedup:        deps.Dedup,
		resolver:     deps.Resolver,
		delivery:     deps.Delivery,
		publisher:    deps.Publisher,
		historyLimit: limit,
	}
}

// Handle 无文本、自己发出的、重复的消息静默丢弃
// 会话信息取自入队时的快照，连接随后断开也照常落库和解析，只有投递要求会话在线
func (p *InboundProcessor) Handle(ctx context.Context, session SessionRef, msg *protocol.InboundMessage) error {
	if msg == nil || msg.FromMe {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	sessionID := session.ID
	lg := zap.L().With(zap.String("session_id", sessionID), zap.String("from", msg.From))

	if p.isDuplicate(ctx, sessionID, msg.ID, lg) {
		lg.Debug("skip duplicate inbound message", zap.String("external_message_id", msg.ID))
		return nil
	}

	bot, err := p.tenants.Load(ctx, session.TenantID)
	if err != nil {
		lg.Warn("load chatbot config failed, using defaults", zap.String("tenant_id", session.TenantID), zap.Error(err))
		bot = &model.Chatbot{ID: session.TenantID, IsActive: true}
	}

	// 先取历史再落库，历史里不含当前这条
	history, err := p.messages.FindRecentByContact(sessionID, msg.From, p.historyLimit)
	if err != nil {
		lg.Warn("load history failed", zap.Error(err))
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	inbound := &model.Message{
		ID:                snowflake.GenerateID(),
		SessionID:         sessionID,
		TenantID:          session.TenantID,
		ExternalMessageID: msg.ID,
		From:              msg.From,
		To:                session.AccountID,
		Direction:         model.DirectionInbound,
		Type:              model.MessageTypeText,
		Content:           text,
		Timestamp:         timestamp,
	}
	if err = p.messages.Create(inbound); err != nil {
		lg.Error("persist inbound message failed", zap.Error(err))
	}
	p.touch(sessionID, lg)
	p.publish(ctx, session, msg.From, text, timestamp, lg)

	if !bot.IsActive {
		lg.Info("chatbot inactive, not replying", zap.String("tenant_id", bot.ID))
		return nil
	}

	products, err := p.chatbots.FindProducts(bot.ID, catalogLimit)
	if err != nil {
		lg.Warn("load products failed", zap.Error(err))
	}
	docs, err := p.chatbots.FindKnowledge(bot.ID, catalogLimit)
	if err != nil {
		lg.Warn("load knowledge failed", zap.Error(err))
	}

	req := resolver.BuildRequest(bot, text, msg.From, products, docs, history)
	reply := p.resolver.Resolve(ctx, bot.WebhookURL, req)
	return p.delivery.Deliver(ctx, sessionID, msg.From, reply, bot.MessageDelimiter, bot.TypingWPM)
}

// isDuplicate Redis 不可用时退回到查库
func (p *InboundProcessor) isDuplicate(ctx context.Context, sessionID, externalID string, lg *zap.Logger) bool {
	if externalID == "" {
		return false
	}
	if p.dedup != nil {
		fresh, err := p.dedup.SetNX(ctx, constants.INBOUND_DEDUP_PREFIX+sessionID+"_"+externalID, "1", constants.INBOUND_DEDUP_TTL)
		if err == nil {
			return !fresh
		}
		lg.Warn("dedup via redis failed, falling back to store", zap.Error(err))
	}
	exists, err := p.messages.ExistsByExternalID(sessionID, externalID)
	if err != nil {
		lg.Warn("dedup via store failed", zap.Error(err))
		return false
	}
	return exists
}

func (p *InboundProcessor) touch(sessionID string, lg *zap.Logger) {
	if err := p.sessions.UpdateFields(sessionID, map[string]interface{}{"last_active_at": time.Now()}); err != nil {
		lg.Warn("update last_active_at failed", zap.Error(err))
	}
}

func (p *InboundProcessor) publish(ctx context.Context, session SessionRef, from, text string, at time.Time, lg *zap.Logger) {
	if p.publisher == nil {
		return
	}
	err := p.publisher.Publish(ctx, &mq.SessionEvent{
		Type:      mq.EventMessageInbound,
		SessionID: session.ID,
		OwnerID:   session.OwnerID,
		TenantID:  session.TenantID,
		Contact:   from,
		Content:   text,
		Timestamp: at,
	})
	if err != nil {
		lg.Warn("publish inbound event failed", zap.Error(err))
	}
}
