package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// managerTestConfig 测试配置结构
type managerTestConfig struct {
	Transport struct {
		ListenAddr        string        `mapstructure:"listen_addr"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	} `mapstructure:"transport"`
	Fleet struct {
		ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	} `mapstructure:"fleet"`
}

// createTestConfigFile 创建测试配置文件
func createTestConfigFile(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}
	return configPath
}

// TestManagerLoadFile 测试加载配置文件
func TestManagerLoadFile(t *testing.T) {
	configContent := `
transport:
  listen_addr: ":7100"
  heartbeat_interval: 10s
fleet:
  reconcile_interval: 60s
`

	mgr := NewManager()
	if err := mgr.LoadFile(createTestConfigFile(t, configContent)); err != nil {
		t.Fatalf("Failed to load config file: %v", err)
	}

	var cfg managerTestConfig
	if err := mgr.Unmarshal(&cfg); err != nil {
		t.Fatalf("Failed to unmarshal config: %v", err)
	}

	if cfg.Transport.ListenAddr != ":7100" {
		t.Errorf("Expected listen_addr :7100, got %s", cfg.Transport.ListenAddr)
	}
	if cfg.Transport.HeartbeatInterval != 10*time.Second {
		t.Errorf("Expected heartbeat_interval 10s, got %v", cfg.Transport.HeartbeatInterval)
	}
	if cfg.Fleet.ReconcileInterval != 60*time.Second {
		t.Errorf("Expected reconcile_interval 60s, got %v", cfg.Fleet.ReconcileInterval)
	}
}

// TestManagerDefaults 测试默认值
func TestManagerDefaults(t *testing.T) {
	mgr := NewManager()
	mgr.SetDefault("transport.listen_addr", ":7100")

	var cfg managerTestConfig
	if err := mgr.Unmarshal(&cfg); err != nil {
		t.Fatalf("Failed to unmarshal config: %v", err)
	}
	if cfg.Transport.ListenAddr != ":7100" {
		t.Errorf("Expected default listen_addr :7100, got %s", cfg.Transport.ListenAddr)
	}
}

// TestManagerEnvOverride 测试环境变量覆盖
func TestManagerEnvOverride(t *testing.T) {
	t.Setenv("GAMEFLEET_TRANSPORT_LISTEN_ADDR", ":9999")

	mgr := NewManager(WithEnvPrefix("GAMEFLEET"))
	mgr.SetDefault("transport.listen_addr", ":7100")

	if got := mgr.GetString("transport.listen_addr"); got != ":9999" {
		t.Errorf("Expected env override :9999, got %s", got)
	}
}

// TestManagerMissingFile 测试加载不存在的文件
func TestManagerMissingFile(t *testing.T) {
	mgr := NewManager()
	if err := mgr.LoadFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}
