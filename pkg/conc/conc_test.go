package conc

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo(t *testing.T) {
	t.Run("returns value", func(t *testing.T) {
		f := Go(func() (int, error) { return 42, nil })
		v, err := f.Wait()
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("returns error", func(t *testing.T) {
		wantErr := errors.New("boom")
		f := Go(func() (struct{}, error) { return struct{}{}, wantErr })
		_, err := f.Wait()
		assert.ErrorIs(t, err, wantErr)
	})

	t.Run("recovers panic", func(t *testing.T) {
		f := Go(func() (struct{}, error) { panic("oops") })
		_, err := f.Wait()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic")
	})
}

func TestPool(t *testing.T) {
	p := NewPool[int](4)
	defer p.Release()

	var sum atomic.Int64
	futures := make([]*Future[int], 0, 16)
	for i := 1; i <= 16; i++ {
		n := i
		futures = append(futures, p.Submit(func() (int, error) {
			sum.Add(int64(n))
			return n, nil
		}))
	}

	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}
	assert.Equal(t, int64(136), sum.Load())
}

func TestPoolTrySubmitNonblocking(t *testing.T) {
	p := NewPool[struct{}](1, WithNonblocking())
	defer p.Release()

	block := make(chan struct{})
	defer close(block)

	f, ok := p.TrySubmit(func() (struct{}, error) {
		<-block
		return struct{}{}, nil
	})
	require.True(t, ok)
	require.NotNil(t, f)

	// 唯一 worker 被占用，后续提交立即失败而不阻塞
	_, ok = p.TrySubmit(func() (struct{}, error) { return struct{}{}, nil })
	assert.False(t, ok)
}

func TestPoolWorkerPanic(t *testing.T) {
	p := NewPool[struct{}](1)
	defer p.Release()

	f := p.Submit(func() (struct{}, error) { panic("worker down") })
	_, err := f.Wait()
	require.Error(t, err)

	// 池在 panic 后仍可继续提交任务
	f2 := p.Submit(func() (struct{}, error) { return struct{}{}, nil })
	_, err = f2.Wait()
	assert.NoError(t, err)
}
