package fleet

import "errors"

var (
	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = errors.New("fleet: invalid config")

	// ErrServerNotConnected 目标服务器当前没有活跃会话
	ErrServerNotConnected = errors.New("fleet: server not connected")

	// ErrAlreadyStarted 管理器重复启动
	ErrAlreadyStarted = errors.New("fleet: manager already started")
)
