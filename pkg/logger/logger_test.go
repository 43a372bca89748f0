package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)

	l.Info("hello", "key", "value")
	l.Named("sub").Debug("named message")
	l.WithFields("server_id", "srv-1").Warn("with fields")
}

func TestNewFileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableFile = true
	cfg.OutputPath = filepath.Join(t.TempDir(), "test.log")

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("file output")
	_ = l.Sync()
}

func TestConfigValidate(t *testing.T) {
	t.Run("file enabled without path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EnableFile = true
		cfg.OutputPath = ""
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidOutputPath)
	})

	t.Run("no output enabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EnableConsole = false
		cfg.EnableFile = false
		assert.ErrorIs(t, cfg.Validate(), ErrNoOutputEnabled)
	})
}

func TestWithFieldsOddPairs(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)

	// 奇数个参数被忽略，返回原 logger
	same := l.WithFields("only-key")
	assert.Equal(t, l, same)
}
