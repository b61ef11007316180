package chat

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"chatty_session_server/internal/dao/repository"
	"chatty_session_server/internal/gateway/protocol"
	"chatty_session_server/internal/infrastructure/mq"
	"chatty_session_server/internal/model"
	"chatty_session_server/pkg/errorx"
	"chatty_session_server/pkg/util/snowflake"

	"go.uber.org/zap"
)

// DeliveryEngine 把一条回复按分段和打字节奏发出去
// 每一段都重新从 Registry 取句柄，重连后自动换到新连接
type DeliveryEngine struct {
	registry  *Registry
	messages  repository.MessageRepository
	publisher mq.Publisher
	cfg       PacingConfig

	sleep func(ctx context.Context, d time.Duration) error

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewDeliveryEngine(registry *Registry, messages repository.MessageRepository, publisher mq.Publisher, cfg PacingConfig) *DeliveryEngine {
	def := DefaultPacingConfig()
	if cfg.DefaultWPM <= 0 {
		cfg.DefaultWPM = def.DefaultWPM
	}
	if cfg.MaxChunkLength <= 0 {
		cfg.MaxChunkLength = def.MaxChunkLength
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.JitterRatio < 0 {
		cfg.JitterRatio = 0
	}
	return &DeliveryEngine{
		registry:  registry,
		messages:  messages,
		publisher: publisher,
		cfg:       cfg,
		sleep:     sleepContext,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deliver 依次发送各段：composing -> 打字延迟 -> 发送并落库 -> paused 停顿，最后再发一次 paused
// ctx 取消时立即中止，已发出的段不回滚
func (e *DeliveryEngine) Deliver(ctx context.Context, sessionID, recipient, reply, delimiter string, wpm int) error {
	chunks := SplitReply(reply, delimiter, e.cfg.MaxChunkLength)
	if len(chunks) == 0 {
		return nil
	}
	if wpm <= 0 {
		wpm = e.cfg.DefaultWPM
	}
	lg := zap.L().With(zap.String("session_id", sessionID), zap.String("recipient", recipient))

	for i, chunk := range chunks {
		entry, err := e.live(sessionID)
		if err != nil {
			return err
		}
		e.presence(ctx, entry.Handle, recipient, protocol.PresenceComposing, lg)

		if err = e.sleep(ctx, e.typingDelay(chunk, wpm)); err != nil {
			return err
		}

		// 等待期间可能已重连，重新取句柄
		if entry, err = e.live(sessionID); err != nil {
			return err
		}
		if err = e.send(ctx, sessionID, entry, recipient, chunk); err != nil {
			lg.Error("deliver chunk failed", zap.Int("chunk", i), zap.Int("total", len(chunks)), zap.Error(err))
			return err
		}

		if i < len(chunks)-1 {
			e.presence(ctx, entry.Handle, recipient, protocol.PresencePaused, lg)
			if err = e.sleep(ctx, e.cfg.ChunkGap); err != nil {
				return err
			}
		}
	}

	if entry, err := e.live(sessionID); err == nil {
		e.presence(ctx, entry.Handle, recipient, protocol.PresencePaused, lg)
	}
	lg.Debug("reply delivered", zap.Int("chunks", len(chunks)))
	return nil
}

// SendNow 不分段、不模拟打字，直接发送
func (e *DeliveryEngine) SendNow(ctx context.Context, sessionID, recipient, text string) error {
	entry, err := e.live(sessionID)
	if err != nil {
		return err
	}
	return e.send(ctx, sessionID, entry, recipient, text)
}

func (e *DeliveryEngine) live(sessionID string) (Entry, error) {
	entry, ok := e.registry.Lookup(sessionID)
	if !ok {
		return Entry{}, errorx.Wrapf(errorx.ErrSessionNotLive, errorx.CodeSessionNotLive, "session %s", sessionID)
	}
	return entry, nil
}

func (e *DeliveryEngine) send(ctx context.Context, sessionID string, entry Entry, recipient, text string) error {
	externalID, err := entry.Handle.SendText(ctx, recipient, text)
	if err != nil {
		return errorx.Wrapf(err, errorx.CodeSendFailed, "send to %s", recipient)
	}

	now := time.Now()
	msg := &model.Message{
		ID:                snowflake.GenerateID(),
		SessionID:         sessionID,
		TenantID:          entry.TenantID,
		ExternalMessageID: externalID,
		From:              entry.Handle.AccountID(),
		To:                recipient,
		Direction:         model.DirectionOutbound,
		Type:              model.MessageTypeText,
		Content:           text,
		Timestamp:         now,
	}
	// 消息已经发出，落库失败只记录
	if err = e.messages.Create(msg); err != nil {
		zap.L().Error("persist outbound message failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if e.publisher != nil {
		evt := &mq.SessionEvent{
			Type:      mq.EventMessageOutbound,
			SessionID: sessionID,
			OwnerID:   entry.OwnerID,
			TenantID:  entry.TenantID,
			Contact:   recipient,
			Content:   text,
			Timestamp: now,
		}
		if perr := e.publisher.Publish(ctx, evt); perr != nil {
			zap.L().Warn("publish outbound event failed", zap.String("session_id", sessionID), zap.Error(perr))
		}
	}
	return nil
}

// presence 输入状态只是体验优化，失败不影响发送
func (e *DeliveryEngine) presence(ctx context.Context, handle protocol.Client, recipient string, p protocol.Presence, lg *zap.Logger) {
	if err := handle.SendPresence(ctx, recipient, p); err != nil {
		lg.Debug("send presence failed", zap.String("presence", string(p)), zap.Error(err))
	}
}

func (e *DeliveryEngine) typingDelay(chunk string, wpm int) time.Duration {
	e.rndMu.Lock()
	factor := e.rnd.Float64()*2 - 1
	e.rndMu.Unlock()
	d := applyJitter(TypingDelay(wordCount(chunk), wpm), e.cfg.JitterRatio, factor)
	return ClampDelay(d, e.cfg.MinDelay, e.cfg.MaxDelay)
}
