package app

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/gamefleet/pkg/config"
	"github.com/spf13/pflag"
)

var configPath string

// LoadConfig 统一配置加载入口。
// 优先级：环境变量 (GAMEFLEET_*) > 配置文件 > 默认值。
func LoadConfig(target any, setDefaults func(*config.Manager)) error {
	if pflag.Lookup("config") == nil {
		pflag.StringVarP(&configPath, "config", "c", "", "path to config file")
	}
	if !pflag.Parsed() {
		pflag.Parse()
	}

	finalPath := configPath
	if finalPath == "" {
		finalPath = os.Getenv("GAMEFLEET_CONFIG")
	}

	mgr := config.NewManager(config.WithEnvPrefix("GAMEFLEET"))
	if setDefaults != nil {
		setDefaults(mgr)
	}

	if finalPath != "" {
		if _, err := os.Stat(finalPath); err != nil {
			return errors.Wrapf(err, "app: config file not found at %s", finalPath)
		}
		if err := mgr.LoadFile(finalPath); err != nil {
			return err
		}
	}

	return mgr.Unmarshal(target)
}

// GetConfigPath 返回最终使用的配置文件路径
func GetConfigPath() string {
	return configPath
}
