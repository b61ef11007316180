// Package protocoltest 内存实现的 protocol.Client，用于生命周期与投递测试
package protocoltest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chatty_session_server/internal/gateway/protocol"
)

// Sent 记录一次发送或输入状态
type Sent struct {
	To       string
	Text     string
	Presence protocol.Presence
}

// Client 由测试通过 Emit 驱动事件
type Client struct {
	SessionID string

	mu         sync.Mutex
	events     chan protocol.Event
	sent       []Sent
	connectErr error
	sendErr    error
	accountID  string
	sessionKey string
	connects   int
	loggedOut  bool
	closed     bool
	nextID     int
}

func NewClient(sessionID, sessionKey string) *Client {
	return &Client{
		SessionID:  sessionID,
		sessionKey: sessionKey,
		events:     make(chan protocol.Event, 64),
	}
}

// Emit 投递一个事件；客户端关闭后丢弃
func (c *Client) Emit(evt protocol.Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if evt.Kind == protocol.EventConnected && evt.AccountID != "" {
		c.mu.Lock()
		c.accountID = evt.AccountID
		if c.sessionKey == "" {
			c.sessionKey = evt.AccountID + ":1@s.whatsapp.net"
		}
		c.mu.Unlock()
	}
	c.events <- evt
}

func (c *Client) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *Client) FailSend(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

func (c *Client) SendText(_ context.Context, to, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", errors.New("client closed")
	}
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.nextID++
	c.sent = append(c.sent, Sent{To: to, Text: text})
	return fmt.Sprintf("%s-out-%d", c.SessionID, c.nextID), nil
}

func (c *Client) SendPresence(_ context.Context, to string, presence protocol.Presence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{To: to, Presence: presence})
	return nil
}

func (c *Client) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Client) AccountID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountID
}

func (c *Client) SessionKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

// Sent 返回发送记录的副本
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.sent))
	copy(out, c.sent)
	return out
}

// Texts 只返回文本发送
func (c *Client) Texts() []string {
	var texts []string
	for _, s := range c.Sent() {
		if s.Presence == "" {
			texts = append(texts, s.Text)
		}
	}
	return texts
}

func (c *Client) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Factory 每次 Open 新建一个 Client，测试通过 Opened 取到它
type Factory struct {
	mu      sync.Mutex
	opened  map[string][]*Client
	notify  chan *Client
	openErr error
	// Configure 在 Open 返回前调整新客户端，例如预置连接失败
	Configure func(c *Client)
}

func NewFactory() *Factory {
	return &Factory{
		opened: make(map[string][]*Client),
		notify: make(chan *Client, 64),
	}
}

func (f *Factory) FailOpen(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *Factory) Open(_ context.Context, sessionID, sessionKey string) (protocol.Client, error) {
	f.mu.Lock()
	if f.openErr != nil {
		err := f.openErr
		f.mu.Unlock()
		return nil, err
	}
	c := NewClient(sessionID, sessionKey)
	if f.Configure != nil {
		f.Configure(c)
	}
	f.opened[sessionID] = append(f.opened[sessionID], c)
	f.mu.Unlock()

	f.notify <- c
	return c, nil
}

// Opened 按打开顺序返回某会话的全部客户端
func (f *Factory) Opened(sessionID string) []*Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Client, len(f.opened[sessionID]))
	copy(out, f.opened[sessionID])
	return out
}

// Next 等待下一次 Open
func (f *Factory) Next() <-chan *Client {
	return f.notify
}
