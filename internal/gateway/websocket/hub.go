// Package websocket 控制台实时推送
// Hub 按 owner 维护在线连接，会话事件经 Broadcast 推送给该 owner 的所有连接
package websocket

import (
	"context"
	"sync/atomic"

	"chatty_session_server/pkg/constants"

	"go.uber.org/zap"
)

type envelope struct {
	ownerID string
	payload []byte
}

// Hub 连接表只在 Run 协程内读写，外部通过 Login / Logout / Transmit 三个通道交互
type Hub struct {
	Login    chan *Client
	Logout   chan *Client
	Transmit chan envelope

	clients map[string]map[*Client]struct{}
	online  atomic.Int64
	done    chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		Login:    make(chan *Client, constants.CHANNEL_SIZE),
		Logout:   make(chan *Client, constants.CHANNEL_SIZE),
		Transmit: make(chan envelope, constants.CHANNEL_SIZE),
		clients:  make(map[string]map[*Client]struct{}),
		done:     make(chan struct{}),
	}
}

// Run 主循环，ctx 取消后关闭所有连接的发送通道
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.SendBack)
				}
			}
			h.clients = map[string]map[*Client]struct{}{}
			h.online.Store(0)
			return

		case c := <-h.Login:
			set, ok := h.clients[c.OwnerID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.OwnerID] = set
			}
			set[c] = struct{}{}
			h.online.Add(1)
			zap.L().Debug("dashboard client joined", zap.String("owner_id", c.OwnerID))

		case c := <-h.Logout:
			h.remove(c)

		case env := <-h.Transmit:
			for c := range h.clients[env.ownerID] {
				select {
				case c.SendBack <- env.payload:
				default:
					// 发送缓冲已满，视为慢连接直接踢掉
					zap.L().Warn("dashboard client too slow, dropping", zap.String("owner_id", c.OwnerID))
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.OwnerID]
	if !ok {
		return
	}
	if _, ok = set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.OwnerID)
	}
	close(c.SendBack)
	h.online.Add(-1)
	zap.L().Debug("dashboard client left", zap.String("owner_id", c.OwnerID))
}

// Broadcast 实现 mq.Broadcaster；Hub 已停止或转发通道已满时丢弃
func (h *Hub) Broadcast(ownerID string, payload []byte) {
	select {
	case h.Transmit <- envelope{ownerID: ownerID, payload: payload}:
	case <-h.done:
	default:
		zap.L().Warn("hub transmit channel full, dropping event", zap.String("owner_id", ownerID))
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Login <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Logout <- c:
	case <-h.done:
	}
}

// Online 当前在线的控制台连接数
func (h *Hub) Online() int {
	return int(h.online.Load())
}
