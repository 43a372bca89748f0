// Package kafka 封装 segmentio/kafka-go 的生产者能力。
package kafka

import "time"

// Config Kafka 配置
type Config struct {
	// Brokers Kafka broker 地址列表
	Brokers []string `mapstructure:"brokers"`

	// Topic 目标主题
	Topic string `mapstructure:"topic"`

	// Producer 生产者配置
	Producer ProducerConfig `mapstructure:"producer"`
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	// Async 是否异步发送（默认 false，同步发送）
	Async bool `mapstructure:"async"`

	// BatchSize 批量大小
	BatchSize int `mapstructure:"batch_size"`

	// BatchTimeout 批量超时时间
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`

	// MaxRetries 最大重试次数
	MaxRetries int `mapstructure:"max_retries"`

	// RequiredAcks 确认模式: 0 不等待 / 1 Leader / -1 All
	RequiredAcks int `mapstructure:"required_acks"`

	// WriteTimeout 写超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ReadTimeout 读超时（等待 broker 响应）
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Brokers: []string{"localhost:9092"},
		Producer: ProducerConfig{
			Async:        false,
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			MaxRetries:   3,
			RequiredAcks: -1,
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  10 * time.Second,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}
	if c.Topic == "" {
		return ErrEmptyTopic
	}
	return nil
}
