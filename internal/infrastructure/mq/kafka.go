package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"chatty_session_server/internal/config"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// publishBatchTimeout 单条事件最多等待凑批的时间，Publish 同步等待写入完成
const publishBatchTimeout = 10 * time.Millisecond

// KafkaPublisher 以会话 id 作为 key，同一会话的事件落在同一分区，保持顺序
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.HostPort),
			Topic:                  cfg.EventTopic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           publishBatchTimeout,
			WriteTimeout:           cfg.Timeout * time.Second,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt *SessionEvent) error {
	payload, err := encode(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.SessionID),
		Value: payload,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaRelay 消费事件主题推送给本实例的 websocket
// 每个实例使用独立的消费组，保证所有实例都能收到全部事件
type KafkaRelay struct {
	reader *kafka.Reader
	hub    Broadcaster
}

func NewKafkaRelay(cfg config.KafkaConfig, hub Broadcaster) *KafkaRelay {
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = "local"
	}
	return &KafkaRelay{
		hub: hub,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        []string{cfg.HostPort},
			Topic:          cfg.EventTopic,
			GroupID:        cfg.GroupID + "-" + instance,
			CommitInterval: cfg.Timeout * time.Second,
			StartOffset:    kafka.LastOffset,
		}),
	}
}

// Start 阻塞直到 ctx 取消或 reader 关闭
func (r *KafkaRelay) Start(ctx context.Context) {
	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			zap.L().Error("read session event failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		var evt SessionEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			zap.L().Warn("drop malformed session event", zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		r.hub.Broadcast(evt.OwnerID, msg.Value)
	}
}

func (r *KafkaRelay) Close() error {
	return r.reader.Close()
}
