package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSonyflakeNextID(t *testing.T) {
	g, err := NewSonyflake(1)
	require.NoError(t, err)

	seen := make(map[int64]struct{}, 100)
	for i := 0; i < 100; i++ {
		id, err := g.NextID()
		require.NoError(t, err)
		assert.Positive(t, id)

		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
}
