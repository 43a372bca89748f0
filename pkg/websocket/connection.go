// pkg/websocket/connection.go
package websocket

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lk2023060901/gamefleet/pkg/logger"
)

// HandlerFunc 消息处理函数类型，data 为单条文本帧的原始字节
type HandlerFunc func(conn *Connection, data []byte) error

// Connection WebSocket 连接封装。
// 写操作统一经过发送队列由 WriteLoop 串行执行。
type Connection struct {
	id   string
	conn *websocket.Conn

	writeTimeout time.Duration
	sendChan     chan []byte

	logger logger.Logger

	closed     atomic.Bool
	closeChan  chan struct{}
	closeOnce  sync.Once
	closeError error

	remoteAddr  string
	connectedAt time.Time
}

// ConnectionOption 连接选项
type ConnectionOption func(*Connection)

// WithConnectionLogger 设置连接日志
func WithConnectionLogger(l logger.Logger) ConnectionOption {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConnection 创建连接
func NewConnection(conn *websocket.Conn, cfg *ConnConfig, opts ...ConnectionOption) *Connection {
	if cfg == nil {
		cfg = DefaultConnConfig()
	}

	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		sendChan:     make(chan []byte, cfg.SendQueueSize),
		logger:       logger.Noop(),
		closeChan:    make(chan struct{}),
		remoteAddr:   conn.RemoteAddr().String(),
		connectedAt:  time.Now(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ID 返回连接 ID
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr 返回远程地址
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// ConnectedAt 返回连接时间
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// IsClosed 检查连接是否已关闭
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Send 发送消息（同步，可被 ctx 取消）
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.sendChan <- data:
		return nil
	case <-c.closeChan:
		return ErrConnectionClosed
	}
}

// SendAsync 发送消息（异步，非阻塞）
func (c *Connection) SendAsync(data []byte) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	select {
	case c.sendChan <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// ReadLoop 读取循环，阻塞直到连接关闭
func (c *Connection) ReadLoop(handler HandlerFunc) {
	defer c.Close()

	for {
		if c.IsClosed() {
			return
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.IsClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if err == io.EOF {
				return
			}
			c.logger.Debug("websocket read error", "error", err, "conn_id", c.id)
			return
		}

		if handler != nil {
			if err := handler(c, data); err != nil {
				c.logger.Warn("websocket handler error", "error", err, "conn_id", c.id)
			}
		}
	}
}

// WriteLoop 写入循环
func (c *Connection) WriteLoop() {
	defer c.Close()

	for {
		select {
		case data, ok := <-c.sendChan:
			if !ok {
				return
			}

			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write error", "error", err, "conn_id", c.id)
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// Close 关闭连接
func (c *Connection) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError 带错误关闭连接
func (c *Connection) CloseWithError(err error) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeError = err
		close(c.closeChan)

		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
	})
	return nil
}

// CloseError 返回关闭错误
func (c *Connection) CloseError() error {
	return c.closeError
}

// Done 返回连接关闭通知 channel
func (c *Connection) Done() <-chan struct{} {
	return c.closeChan
}

// SetReadLimit 设置读取限制
func (c *Connection) SetReadLimit(limit int64) {
	c.conn.SetReadLimit(limit)
}
