package channel

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 重连退避边界
const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// HandlerFunc 处理一个入站事件载荷
type HandlerFunc func(payload json.RawMessage)

// Client 适配进程到中继的双工事件通道。
// 自动重连（指数退避、有上限），每次重连成功都会触发 OnConnect，
// 由调用方在其中重新上报身份，好让 Presence Directory 替换掉旧连接。
type Client struct {
	relayURL       string
	readerServerID string
	logger         *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]HandlerFunc

	onConnect    func()
	onDisconnect func()
}

// NewClient 创建通道客户端
func NewClient(relayURL, readerServerID string, logger *zap.Logger) *Client {
	return &Client{
		relayURL:       relayURL,
		readerServerID: readerServerID,
		logger:         logger,
		handlers:       make(map[string]HandlerFunc),
	}
}

// Handle 注册事件处理函数（在 Run 之前调用）
func (c *Client) Handle(event string, fn HandlerFunc) {
	c.mu.Lock()
	c.handlers[event] = fn
	c.mu.Unlock()
}

// OnConnect 通道建立（含重连）后的回调
func (c *Client) OnConnect(fn func()) { c.onConnect = fn }

// OnDisconnect 通道断开后的回调
func (c *Client) OnDisconnect(fn func()) { c.onDisconnect = fn }

// Run 维持通道直到 ctx 取消。连接失败按指数退避重试
func (c *Client) Run(ctx context.Context) {
	backoff := reconnectMin

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("relay channel dial failed",
				zap.Error(err),
				zap.Duration("retry_in", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		backoff = reconnectMin
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("relay channel connected", zap.String("relay_url", c.relayURL))
		if c.onConnect != nil {
			c.onConnect()
		}

		c.readUntilClosed(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.onDisconnect != nil {
			c.onDisconnect()
		}
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("relay channel disconnected, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.relayURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("readerServerId", c.readerServerID)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	return conn, err
}

func (c *Client) readUntilClosed(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			return
		}
		if err := Validate(&env); err != nil {
			// 未知事件/版本不匹配：记录后丢弃，不中断通道
			c.logger.Warn("dropping invalid channel event", zap.Error(err))
			continue
		}

		c.mu.Lock()
		handler := c.handlers[env.Event]
		c.mu.Unlock()
		if handler == nil {
			c.logger.Debug("no handler for event", zap.String("event", env.Event))
			continue
		}
		handler(env.Payload)
	}
}

// Emit 向中继发送一个事件。通道断开时返回错误，由调用方决定丢弃或记录
func (c *Client) Emit(event string, payload any) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrChannelDown
	}
	return c.conn.WriteJSON(env)
}
