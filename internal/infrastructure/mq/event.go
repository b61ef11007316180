// Package mq 会话事件分发
// channel 模式直接推给本进程的 websocket hub；kafka 模式写入主题，再由每个实例的 relay 消费后推送
package mq

import (
	"context"
	"encoding/json"
	"time"
)

type EventType string

const (
	EventSessionStatus   EventType = "session.status"
	EventMessageInbound  EventType = "message.inbound"
	EventMessageOutbound EventType = "message.outbound"
)

// SessionEvent 推送给控制台的事件
type SessionEvent struct {
	Type            EventType `json:"type"`
	SessionID       string    `json:"sessionId"`
	OwnerID         string    `json:"ownerId"`
	TenantID        string    `json:"tenantId"`
	Status          string    `json:"status,omitempty"`
	PairingArtifact string    `json:"pairingArtifact,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Contact         string    `json:"contact,omitempty"`
	Content         string    `json:"content,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Publisher 事件发布
type Publisher interface {
	Publish(ctx context.Context, evt *SessionEvent) error
}

// Broadcaster 按 owner 推送原始 JSON，由 websocket hub 实现
type Broadcaster interface {
	Broadcast(ownerID string, payload []byte)
}

func encode(evt *SessionEvent) ([]byte, error) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	return json.Marshal(evt)
}

// ChannelPublisher 单机模式
type ChannelPublisher struct {
	hub Broadcaster
}

func NewChannelPublisher(hub Broadcaster) *ChannelPublisher {
	return &ChannelPublisher{hub: hub}
}

func (p *ChannelPublisher) Publish(_ context.Context, evt *SessionEvent) error {
	payload, err := encode(evt)
	if err != nil {
		return err
	}
	p.hub.Broadcast(evt.OwnerID, payload)
	return nil
}
