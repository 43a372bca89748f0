package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/gamefleet/pkg/websocket"
)

// Identity 会话绑定的服务器身份
type Identity struct {
	ServerID string
	TenantID string
}

// Session 单条游戏服务器会话。
// 包装底层连接，持有心跳存活标记、身份绑定与未决请求表。
type Session struct {
	conn *websocket.Connection

	// alive 心跳存活标记：收到 pong 置位，探测前清零。
	// 探测时发现仍为清零状态即判定失活。
	alive atomic.Bool

	mu       sync.RWMutex
	identity *Identity

	pending *correlator

	createdAt time.Time
}

func newSession(conn *websocket.Connection) *Session {
	s := &Session{
		conn:      conn,
		pending:   newCorrelator(),
		createdAt: time.Now(),
	}
	// 新建会话视为存活，第一轮探测只发 ping 不判定
	s.alive.Store(true)
	return s
}

// ID 返回会话 ID（与底层连接 ID 相同）
func (s *Session) ID() string {
	return s.conn.ID()
}

// RemoteAddr 返回对端地址
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// CreatedAt 返回会话建立时间
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// MarkAlive 标记会话存活（收到 pong 时调用）
func (s *Session) MarkAlive() {
	s.alive.Store(true)
}

// beginProbe 开始一轮心跳探测：返回上一轮探测以来是否存活，并清零标记。
func (s *Session) beginProbe() bool {
	return s.alive.Swap(false)
}

// SetIdentity 绑定服务器身份。重复绑定返回 ErrAlreadyIdentified。
func (s *Session) SetIdentity(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		return ErrAlreadyIdentified
	}
	s.identity = &id
	return nil
}

// Identity 返回绑定的身份，未绑定时 ok 为 false
func (s *Session) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// Identified 返回会话是否已完成身份绑定
func (s *Session) Identified() bool {
	_, ok := s.Identity()
	return ok
}
