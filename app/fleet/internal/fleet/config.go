package fleet

import "time"

// Config 舰队管理配置
type Config struct {
	// ReconcileInterval 调和周期：对比期望舰队与当前映射
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	// StaleThreshold 消息静默阈值：超过该时长未收到应用层消息的
	// 会话被回收，由重连恢复
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`

	// DialTimeout 单次出站拨号超时
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// DialsPerSecond 出站拨号速率上限
	DialsPerSecond float64 `mapstructure:"dials_per_second"`

	// DialBurst 出站拨号突发量
	DialBurst int `mapstructure:"dial_burst"`

	// ForwardWorkers 事件转发工作池大小
	ForwardWorkers int `mapstructure:"forward_workers"`

	// ForwardTimeout 单条事件转发超时
	ForwardTimeout time.Duration `mapstructure:"forward_timeout"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ReconcileInterval: 60 * time.Second,
		StaleThreshold:    30 * time.Second,
		DialTimeout:       10 * time.Second,
		DialsPerSecond:    5,
		DialBurst:         5,
		ForwardWorkers:    64,
		ForwardTimeout:    5 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ReconcileInterval <= 0 || c.StaleThreshold <= 0 || c.DialTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.DialsPerSecond <= 0 || c.DialBurst <= 0 || c.ForwardWorkers <= 0 {
		return ErrInvalidConfig
	}
	if c.ForwardTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
