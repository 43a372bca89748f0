package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCorrelatorResolve(t *testing.T) {
	c := newCorrelator()

	p, err := c.register("req-1", "getPlayer", time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, c.len())

	taken, ok := c.take("req-1")
	require.True(t, ok)
	taken.deliver(json.RawMessage(`{"name":"alice"}`), nil)

	res := <-p.resultCh
	require.NoError(t, res.err)
	require.JSONEq(t, `{"name":"alice"}`, string(res.payload))
	require.Equal(t, 0, c.len())
}

func TestCorrelatorTimeout(t *testing.T) {
	c := newCorrelator()

	p, err := c.register("req-1", "getPlayer", 20*time.Millisecond)
	require.NoError(t, err)

	res := <-p.resultCh
	require.ErrorIs(t, res.err, ErrActionTimeout)
	require.Equal(t, 0, c.len())
}

func TestCorrelatorDuplicateRequestID(t *testing.T) {
	c := newCorrelator()

	_, err := c.register("req-1", "getPlayer", time.Second)
	require.NoError(t, err)

	_, err = c.register("req-1", "getPlayers", time.Second)
	require.ErrorIs(t, err, ErrDuplicateRequestID)
}

func TestCorrelatorCloseFailsAll(t *testing.T) {
	c := newCorrelator()

	p1, err := c.register("req-1", "getPlayer", time.Minute)
	require.NoError(t, err)
	p2, err := c.register("req-2", "getPlayers", time.Minute)
	require.NoError(t, err)

	require.Equal(t, 2, c.close(ErrSessionClosed))

	for _, p := range []*pendingRequest{p1, p2} {
		res := <-p.resultCh
		require.ErrorIs(t, res.err, ErrSessionClosed)
	}

	// 关闭后拒绝登记
	_, err = c.register("req-3", "getPlayer", time.Minute)
	require.ErrorIs(t, err, ErrSessionClosed)

	// 重复关闭无副作用
	require.Equal(t, 0, c.close(ErrSessionClosed))
}

// 响应与超时竞争同一表项时恰好一条路径交付结果
func TestCorrelatorExactlyOneOutcome(t *testing.T) {
	c := newCorrelator()

	const n = 100
	var wg sync.WaitGroup
	results := make(chan pendingResult, n)

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("req-%d", i)
		p, err := c.register(id, "getPlayer", 5*time.Millisecond)
		require.NoError(t, err)

		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			if taken, ok := c.take(id); ok {
				taken.deliver(json.RawMessage(`{}`), nil)
			}
		}(id)
		go func(p *pendingRequest) {
			defer wg.Done()
			results <- <-p.resultCh
		}(p)
	}

	wg.Wait()
	close(results)

	count := 0
	for range results {
		count++
	}
	require.Equal(t, n, count)
	require.Equal(t, 0, c.len())
}
