// pkg/websocket/handler.go
package websocket

// MessageHandler 消息处理器接口
type MessageHandler interface {
	// OnConnect 连接建立时的回调
	OnConnect(conn *Connection) error

	// OnMessage 收到消息时的回调
	OnMessage(conn *Connection, data []byte) error

	// OnDisconnect 连接断开时的回调
	OnDisconnect(conn *Connection, err error)
}

// BaseHandler 基础处理器（提供空实现，可嵌入使用）
type BaseHandler struct{}

// OnConnect 连接建立
func (h *BaseHandler) OnConnect(conn *Connection) error {
	return nil
}

// OnMessage 收到消息
func (h *BaseHandler) OnMessage(conn *Connection, data []byte) error {
	return nil
}

// OnDisconnect 连接断开
func (h *BaseHandler) OnDisconnect(conn *Connection, err error) {}
