package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wsm-rfid/internal/channel"
)

// ErrConnGone 目标连接已不在线
var ErrConnGone = errors.New("connection not registered")

// Authenticator 用户会话鉴权。凭据校验在协作的认证层，这里只要用户 id
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) send(env channel.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(&env)
}

// Hub 中继的连接枢纽：握手查询串带 readerServerId 的是适配进程，
// 其余是需经鉴权的用户会话。每个连接领一个 uuid 作为会话 id。
type Hub struct {
	router *Router
	auth   Authenticator
	logger *zap.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*wsConn
}

// NewHub 创建连接枢纽。router 的 Sender 循环引用由 SetRouter 解开。
func NewHub(auth Authenticator, logger *zap.Logger) *Hub {
	return &Hub{
		auth:   auth,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*wsConn),
	}
}

// SetRouter 绑定事件路由
func (h *Hub) SetRouter(router *Router) { h.router = router }

// Send 实现 Sender：向指定连接投递事件
func (h *Hub) Send(connID string, env channel.Envelope) error {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrConnGone
	}
	return conn.send(env)
}

// ServeWS websocket 握手入口
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	readerServerID := r.URL.Query().Get("readerServerId")

	var userID string
	if readerServerID == "" {
		uid, err := h.auth.Authenticate(r)
		if err != nil {
			h.logger.Warn("session authentication failed", zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID = uid
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	conn := &wsConn{ws: ws}
	h.mu.Lock()
	h.conns[connID] = conn
	h.mu.Unlock()

	ctx := context.Background()
	if userID != "" {
		if err := h.router.SessionOpened(ctx, userID, connID); err != nil {
			h.logger.Error("session registration failed",
				zap.String("user_id", userID), zap.Error(err))
			h.drop(connID, conn)
			return
		}
	}

	h.logger.Info("connection established",
		zap.String("conn_id", connID),
		zap.String("reader_server_id", readerServerID),
		zap.String("user_id", userID))

	h.readLoop(ctx, connID, conn, readerServerID, userID)
}

func (h *Hub) readLoop(ctx context.Context, connID string, conn *wsConn, readerServerID, userID string) {
	defer func() {
		h.drop(connID, conn)
		h.router.ConnectionClosed(ctx, connID)
	}()

	for {
		var env channel.Envelope
		if err := conn.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("connection lost", zap.String("conn_id", connID), zap.Error(err))
			}
			return
		}
		if err := channel.Validate(&env); err != nil {
			h.logger.Warn("invalid envelope dropped",
				zap.String("conn_id", connID), zap.Error(err))
			continue
		}

		if readerServerID != "" {
			h.router.HandleAdapterEvent(ctx, connID, &env)
		} else {
			h.router.HandleClientEvent(ctx, userID, connID, &env)
		}
	}
}

func (h *Hub) drop(connID string, conn *wsConn) {
	h.mu.Lock()
	delete(h.conns, connID)
	h.mu.Unlock()
	conn.ws.Close()
}

// CloseAll 停机时关闭全部连接
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		conn.ws.Close()
		delete(h.conns, id)
	}
}
