package websocket

import (
	"net/http"
	"time"

	"chatty_session_server/pkg/constants"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	// 跨域由 cors 中间件和 JWT 控制
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client 一条控制台 websocket 连接，只推送不接收业务消息
type Client struct {
	hub      *Hub
	Conn     *websocket.Conn
	OwnerID  string
	SendBack chan []byte
}

// ServeClient 升级连接并加入 Hub，读写协程在后台运行
func ServeClient(hub *Hub, w http.ResponseWriter, r *http.Request, ownerID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := &Client{
		hub:      hub,
		Conn:     conn,
		OwnerID:  ownerID,
		SendBack: make(chan []byte, constants.CHANNEL_SIZE),
	}
	if !hub.register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		return conn.Close()
	}
	go client.Write()
	go client.Read()
	zap.L().Info("dashboard websocket connected", zap.String("owner_id", ownerID))
	return nil
}

// Read 只处理控制帧和断开，收到的内容直接丢弃
func (c *Client) Read() {
	defer func() {
		c.hub.unregister(c)
		_ = c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Warn("dashboard websocket read failed", zap.String("owner_id", c.OwnerID), zap.Error(err))
			}
			return
		}
	}
}

// Write SendBack 被 Hub 关闭时发送关闭帧并退出
func (c *Client) Write() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.SendBack:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				zap.L().Warn("dashboard websocket write failed", zap.String("owner_id", c.OwnerID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
