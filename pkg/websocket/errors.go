// pkg/websocket/errors.go
package websocket

import "errors"

var (
	// 配置错误
	ErrInvalidConfig = errors.New("websocket: invalid config")

	// 连接错误
	ErrConnectionClosed = errors.New("websocket: connection closed")

	// 发送错误
	ErrSendQueueFull = errors.New("websocket: send queue full")

	// 服务端错误
	ErrServerClosed   = errors.New("websocket: server closed")
	ErrTooManyConns   = errors.New("websocket: too many connections")
	ErrUpgradeFailed  = errors.New("websocket: upgrade failed")
	ErrDialFailed     = errors.New("websocket: dial failed")
	ErrAlreadyStarted = errors.New("websocket: server already started")
)
