// pkg/websocket/server.go
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lk2023060901/gamefleet/pkg/conc"
	"github.com/lk2023060901/gamefleet/pkg/logger"
)

// Server WebSocket 服务端。
// 负责连接升级与读写循环的托管，协议语义交给 MessageHandler。
type Server struct {
	config   *ServerConfig
	upgrader *websocket.Upgrader
	logger   logger.Logger

	handler MessageHandler

	httpServer *http.Server

	workerPool *conc.Pool[struct{}]

	mu      sync.RWMutex
	conns   map[string]*Connection
	closed  bool
	started bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// ServerOption 服务端选项
type ServerOption func(*Server)

// WithLogger 设置日志
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHandler 设置消息处理器
func WithHandler(h MessageHandler) ServerOption {
	return func(s *Server) {
		s.handler = h
	}
}

// NewServer 创建服务端
func NewServer(cfg *ServerConfig, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		logger:  logger.Noop(),
		conns:   make(map[string]*Connection),
		closeCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = &websocket.Upgrader{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      cfg.CheckOrigin,
	}

	// 游戏服务器进程不是浏览器，默认不做同源检查
	if s.upgrader.CheckOrigin == nil {
		s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	poolSize := cfg.MaxConnections / 10
	if poolSize < 10 {
		poolSize = 10
	}
	s.workerPool = conc.NewPool[struct{}](poolSize)

	return s, nil
}

// Start 启动监听
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.ServeHTTP)
	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: mux,
	}
	s.mu.Unlock()

	conc.Go(func() (struct{}, error) {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("websocket listener exited", "error", err, "addr", s.config.Addr)
		}
		return struct{}{}, nil
	})

	s.logger.Info("websocket server listening", "addr", s.config.Addr, "path", s.config.Path)
	return nil
}

// Stop 停止监听并关闭所有连接
func (s *Server) Stop() error {
	return s.CloseWithContext(context.Background())
}

// ServeHTTP 实现 http.Handler 接口
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	s.handleConnection(conn)
}

// Upgrade 升级 HTTP 连接为 WebSocket
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrServerClosed
	}
	count := len(s.conns)
	s.mu.RUnlock()

	if count >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return nil, ErrTooManyConns
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	conn := NewConnection(wsConn, DefaultConnConfig(), WithConnectionLogger(s.logger))
	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil, ErrServerClosed
	}
	s.conns[conn.ID()] = conn
	s.mu.Unlock()

	return conn, nil
}

// handleConnection 托管一条连接的读写循环
func (s *Server) handleConnection(conn *Connection) {
	s.wg.Add(1)
	defer s.wg.Done()

	if s.handler != nil {
		if err := s.handler.OnConnect(conn); err != nil {
			s.logger.Warn("websocket OnConnect error", "error", err, "conn_id", conn.ID())
			s.removeConnection(conn, err)
			return
		}
	}

	s.workerPool.Submit(func() (struct{}, error) {
		conn.WriteLoop()
		return struct{}{}, nil
	})

	// 读取循环（阻塞）
	conn.ReadLoop(func(c *Connection, data []byte) error {
		if s.handler != nil {
			return s.handler.OnMessage(c, data)
		}
		return nil
	})

	s.removeConnection(conn, conn.CloseError())
}

// removeConnection 移除连接并触发断开回调
func (s *Server) removeConnection(conn *Connection, err error) {
	s.mu.Lock()
	delete(s.conns, conn.ID())
	s.mu.Unlock()

	_ = conn.Close()

	if s.handler != nil {
		s.handler.OnDisconnect(conn, err)
	}
}

// GetConnection 获取指定连接
func (s *Server) GetConnection(connID string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[connID]
	return conn, ok
}

// ConnectionCount 获取连接数
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// RangeConnections 遍历所有连接
func (s *Server) RangeConnections(f func(conn *Connection) bool) {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if !f(c) {
			return
		}
	}
}

// AdoptConnection 纳管一条外部建立的连接（例如主动拨出的连接），
// 与入站连接一样托管其读写循环与断开回调。
func (s *Server) AdoptConnection(conn *Connection) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.conns[conn.ID()] = conn
	s.mu.Unlock()

	s.workerPool.Submit(func() (struct{}, error) {
		s.handleConnection(conn)
		return struct{}{}, nil
	})
	return nil
}

// CloseWithContext 带上下文关闭服务端
func (s *Server) CloseWithContext(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	conc.Go(func() (struct{}, error) {
		s.wg.Wait()
		close(done)
		return struct{}{}, nil
	})

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.workerPool.Release()
	return nil
}
