package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	t.Run("zero forward timeout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ForwardTimeout = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("zero stale threshold", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.StaleThreshold = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("zero forward workers", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ForwardWorkers = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})
}
