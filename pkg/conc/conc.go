// Package conc 封装 goroutine 的受控启动方式。
// 业务代码统一通过 conc.Go / conc.Pool 启动协程，不直接使用裸 go，
// 以保证 panic 恢复和结果回收的一致性。
package conc

import (
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// Result 协程的执行结果
type Result[T any] struct {
	Value T
	Err   error
}

// Future 协程的异步结果句柄
type Future[T any] struct {
	ch chan Result[T]
}

// Inner 返回结果 channel，用于 select
func (f *Future[T]) Inner() <-chan Result[T] {
	return f.ch
}

// Wait 阻塞等待结果
func (f *Future[T]) Wait() (T, error) {
	r := <-f.ch
	return r.Value, r.Err
}

// Go 启动一个受控协程并返回 Future
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{ch: make(chan Result[T], 1)}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.ch <- Result[T]{Value: zero, Err: fmt.Errorf("conc: goroutine panic: %v", r)}
			}
		}()
		v, err := fn()
		f.ch <- Result[T]{Value: v, Err: err}
	}()
	return f
}

// Pool 基于 ants 的固定大小工作池
type Pool[T any] struct {
	pool *ants.Pool
}

// PoolOption 工作池选项
type PoolOption func(*poolConfig)

type poolConfig struct {
	nonblocking bool
}

// WithNonblocking 池已满时提交立即失败，不阻塞调用方
func WithNonblocking() PoolOption {
	return func(c *poolConfig) { c.nonblocking = true }
}

// NewPool 创建工作池，size 为最大并发协程数
func NewPool[T any](size int, opts ...PoolOption) *Pool[T] {
	if size <= 0 {
		size = 1
	}
	var cfg poolConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := ants.NewPool(size, ants.WithNonblocking(cfg.nonblocking))
	if err != nil {
		// ants 仅在参数非法时返回错误，size 已兜底
		panic(err)
	}
	return &Pool[T]{pool: p}
}

// Submit 提交任务到工作池并返回 Future。
// 阻塞模式下池已满时等待空闲 worker；非阻塞模式下提交失败的
// 错误经由 Future 返回。
func (p *Pool[T]) Submit(fn func() (T, error)) *Future[T] {
	f := &Future[T]{ch: make(chan Result[T], 1)}
	if err := p.submit(fn, f); err != nil {
		var zero T
		f.ch <- Result[T]{Value: zero, Err: err}
	}
	return f
}

// TrySubmit 提交任务到工作池。池已满（非阻塞模式）时返回 false，
// 任务被丢弃，调用方决定降级处理。
func (p *Pool[T]) TrySubmit(fn func() (T, error)) (*Future[T], bool) {
	f := &Future[T]{ch: make(chan Result[T], 1)}
	if err := p.submit(fn, f); err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			return nil, false
		}
		var zero T
		f.ch <- Result[T]{Value: zero, Err: err}
	}
	return f, true
}

func (p *Pool[T]) submit(fn func() (T, error), f *Future[T]) error {
	return p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.ch <- Result[T]{Value: zero, Err: fmt.Errorf("conc: worker panic: %v", r)}
			}
		}()
		v, err := fn()
		f.ch <- Result[T]{Value: v, Err: err}
	})
}

// Running 返回当前运行中的 worker 数
func (p *Pool[T]) Running() int {
	return p.pool.Running()
}

// Release 关闭工作池
func (p *Pool[T]) Release() {
	p.pool.Release()
}
