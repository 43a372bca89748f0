package transport

import "time"

// Config 传输层配置
type Config struct {
	// ListenAddr 监听地址
	ListenAddr string `mapstructure:"listen_addr"`

	// Path WebSocket 升级路径
	Path string `mapstructure:"path"`

	// HeartbeatInterval 心跳探测间隔。
	// 上一轮探测未应答的会话在本轮被强制关闭。
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// RequestTimeout invokeAction 的响应超时
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxConnections 最大连接数
	MaxConnections int `mapstructure:"max_connections"`

	// MaxMessageSize 单条消息最大字节数
	MaxMessageSize int64 `mapstructure:"max_message_size"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":7100",
		Path:              "/ws",
		HeartbeatInterval: 10 * time.Second,
		RequestTimeout:    10 * time.Second,
		MaxConnections:    4096,
		MaxMessageSize:    1 << 20,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return ErrInvalidConfig
	}
	if c.HeartbeatInterval <= 0 || c.RequestTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
