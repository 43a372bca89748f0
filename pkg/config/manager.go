// Package config 提供基于 viper 的配置加载，支持 YAML 文件与环境变量覆盖。
package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Manager 配置管理器
type Manager struct {
	v         *viper.Viper
	envPrefix string
}

// Option 管理器选项
type Option func(*Manager)

// WithEnvPrefix 设置环境变量前缀，例如 GAMEFLEET
func WithEnvPrefix(prefix string) Option {
	return func(m *Manager) {
		m.envPrefix = prefix
	}
}

// NewManager 创建配置管理器
func NewManager(opts ...Option) *Manager {
	m := &Manager{v: viper.New()}
	for _, opt := range opts {
		opt(m)
	}

	if m.envPrefix != "" {
		m.v.SetEnvPrefix(m.envPrefix)
		m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		m.v.AutomaticEnv()
	}

	return m
}

// SetDefault 设置默认值
func (m *Manager) SetDefault(key string, value interface{}) {
	m.v.SetDefault(key, value)
}

// LoadFile 加载配置文件。path 为空时仅使用默认值与环境变量。
func (m *Manager) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	m.v.SetConfigFile(path)
	if err := m.v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "config: failed to read %s", path)
	}
	return nil
}

// Unmarshal 将配置反序列化到目标结构体
func (m *Manager) Unmarshal(out interface{}) error {
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := m.v.Unmarshal(out, decodeHook); err != nil {
		return errors.Wrap(err, "config: failed to unmarshal")
	}
	return nil
}

// UnmarshalKey 将指定 key 的子树反序列化到目标结构体
func (m *Manager) UnmarshalKey(key string, out interface{}) error {
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := m.v.UnmarshalKey(key, out, decodeHook); err != nil {
		return errors.Wrapf(err, "config: failed to unmarshal key %s", key)
	}
	return nil
}

// GetString 获取字符串配置
func (m *Manager) GetString(key string) string {
	return m.v.GetString(key)
}
