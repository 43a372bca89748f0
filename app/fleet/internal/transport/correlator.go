package transport

import (
	"encoding/json"
	"sync"
	"time"
)

// pendingResult 单次请求的最终结果，payload 与 err 互斥
type pendingResult struct {
	payload json.RawMessage
	err     error
}

// pendingRequest 未决请求表项
type pendingRequest struct {
	action string
	// resultCh 容量为 1。表项从 pending 表摘除后恰好写入一次，
	// 保证每次请求只产生一个结果。
	resultCh chan pendingResult
	timer    *time.Timer
}

func (p *pendingRequest) deliver(payload json.RawMessage, err error) {
	p.resultCh <- pendingResult{payload: payload, err: err}
}

// correlator 按 requestId 关联出站请求与入站响应。
// 响应、超时、会话关闭三条路径竞争同一表项，持锁摘除者独占交付权。
type correlator struct {
	mu       sync.Mutex
	pending  map[string]*pendingRequest
	closed   bool
	closeErr error
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[string]*pendingRequest),
	}
}

// register 登记一个未决请求并启动超时定时器
func (c *correlator) register(requestID, action string, timeout time.Duration) (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		if c.closeErr != nil {
			return nil, c.closeErr
		}
		return nil, ErrSessionClosed
	}
	if _, ok := c.pending[requestID]; ok {
		return nil, ErrDuplicateRequestID
	}

	p := &pendingRequest{
		action:   action,
		resultCh: make(chan pendingResult, 1),
	}
	p.timer = time.AfterFunc(timeout, func() {
		c.fail(requestID, ErrActionTimeout)
	})
	c.pending[requestID] = p
	return p, nil
}

// take 摘除指定表项并停止其定时器。摘除成功者独占交付权。
func (c *correlator) take(requestID string) (*pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[requestID]
	if !ok {
		return nil, false
	}
	delete(c.pending, requestID)
	p.timer.Stop()
	return p, true
}

// fail 以错误完结指定请求。表项已被其他路径摘除时返回 false。
func (c *correlator) fail(requestID string, err error) bool {
	p, ok := c.take(requestID)
	if !ok {
		return false
	}
	p.deliver(nil, err)
	return true
}

// close 关闭关联表：所有未决请求以 err 完结，后续登记被拒绝。
// 返回被完结的请求数。
func (c *correlator) close(err error) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	c.closed = true
	c.closeErr = err
	drained := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		delete(c.pending, id)
		p.timer.Stop()
		drained = append(drained, p)
	}
	c.mu.Unlock()

	for _, p := range drained {
		p.deliver(nil, err)
	}
	return len(drained)
}

// len 返回未决请求数
func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
