// pkg/websocket/config.go
package websocket

import (
	"net/http"
	"time"
)

// ServerConfig 服务端配置
type ServerConfig struct {
	// Addr 监听地址
	Addr string `mapstructure:"addr"`

	// Path WebSocket 升级路径
	Path string `mapstructure:"path"`

	// ReadBufferSize 读缓冲区大小
	ReadBufferSize int `mapstructure:"read_buffer_size"`

	// WriteBufferSize 写缓冲区大小
	WriteBufferSize int `mapstructure:"write_buffer_size"`

	// HandshakeTimeout 握手超时
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	// MaxMessageSize 单条消息最大字节数
	MaxMessageSize int64 `mapstructure:"max_message_size"`

	// MaxConnections 最大连接数
	MaxConnections int `mapstructure:"max_connections"`

	// CheckOrigin 跨域检查，nil 时放行（游戏服务器非浏览器客户端）
	CheckOrigin func(r *http.Request) bool `mapstructure:"-"`
}

// DefaultServerConfig 默认服务端配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:             ":7100",
		Path:             "/ws",
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   1 << 20, // 1MB
		MaxConnections:   4096,
	}
}

// Validate 验证配置
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return ErrInvalidConfig
	}
	if c.MaxConnections <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ConnConfig 连接配置
type ConnConfig struct {
	// WriteTimeout 单次写超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// SendQueueSize 发送队列长度
	SendQueueSize int `mapstructure:"send_queue_size"`
}

// DefaultConnConfig 默认连接配置
func DefaultConnConfig() *ConnConfig {
	return &ConnConfig{
		WriteTimeout:  10 * time.Second,
		SendQueueSize: 256,
	}
}
