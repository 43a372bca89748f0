// Package transport 实现管理面与游戏服务器之间的 WebSocket 会话层：
// 会话生命周期、协议级心跳、identify 握手接入与 request/response 关联。
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/gamefleet/app/fleet/internal/metrics"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/protocol"
	"github.com/lk2023060901/gamefleet/pkg/conc"
	"github.com/lk2023060901/gamefleet/pkg/logger"
	"github.com/lk2023060901/gamefleet/pkg/websocket"
)

// Router 会话事件的上层路由。由舰队管理器实现。
type Router interface {
	// HandleIdentify 处理 identify 握手，成功返回要绑定的身份。
	// 失败返回的错误会以 error 帧回给对端，连接保持打开以便重试。
	HandleIdentify(ctx context.Context, sessionID string, p *protocol.IdentifyPayload) (Identity, error)

	// HandleGameEvent 处理已识别会话上送的游戏事件
	HandleGameEvent(sessionID string, id Identity, p *protocol.GameEventPayload)

	// OnApplicationMessage 已识别会话收到任意应用层消息时的回调
	OnApplicationMessage(sessionID string, id Identity)

	// OnSessionClosed 会话关闭后的回调，恰好触发一次
	OnSessionClosed(sessionID string)
}

// Server 传输层服务端。
// 实现 websocket.MessageHandler，按帧类型分发；对上提供
// InvokeAction / SendEvent / CloseSession / ConnectOutbound。
type Server struct {
	cfg     *Config
	logger  logger.Logger
	metrics *metrics.Metrics

	ws     *websocket.Server
	dialer *websocket.Dialer

	routerMu sync.RWMutex
	router   Router

	mu       sync.RWMutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewServer 创建传输层服务端
func NewServer(cfg *Config, log logger.Logger, m *metrics.Metrics) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Noop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}

	s := &Server{
		cfg:      cfg,
		logger:   log.Named("transport"),
		metrics:  m,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}

	wsCfg := websocket.DefaultServerConfig()
	wsCfg.Addr = cfg.ListenAddr
	wsCfg.Path = cfg.Path
	wsCfg.MaxConnections = cfg.MaxConnections
	wsCfg.MaxMessageSize = cfg.MaxMessageSize

	ws, err := websocket.NewServer(wsCfg,
		websocket.WithLogger(s.logger),
		websocket.WithHandler(s),
	)
	if err != nil {
		return nil, err
	}
	s.ws = ws
	s.dialer = websocket.NewDialer(websocket.WithDialerLogger(s.logger))

	return s, nil
}

// SetRouter 设置上层路由。必须在 Start 前调用。
func (s *Server) SetRouter(r Router) {
	s.routerMu.Lock()
	s.router = r
	s.routerMu.Unlock()
}

func (s *Server) getRouter() Router {
	s.routerMu.RLock()
	defer s.routerMu.RUnlock()
	return s.router
}

// Start 启动监听与心跳循环
func (s *Server) Start() error {
	if err := s.ws.Start(); err != nil {
		return err
	}

	conc.Go(func() (struct{}, error) {
		s.heartbeatLoop()
		return struct{}{}, nil
	})

	return nil
}

// Stop 停止服务端，关闭所有会话
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	return s.ws.Stop()
}

// ServeHTTP 实现 http.Handler，升级入站连接
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.ws.ServeHTTP(w, r)
}

// OnConnect 实现 websocket.MessageHandler
func (s *Server) OnConnect(conn *websocket.Connection) error {
	s.mu.Lock()
	// 出站连接在纳管前已经登记过会话
	if _, ok := s.sessions[conn.ID()]; !ok {
		s.sessions[conn.ID()] = newSession(conn)
	}
	s.mu.Unlock()

	s.metrics.SessionsConnected.Inc()
	s.logger.Info("session connected", "session_id", conn.ID(), "remote_addr", conn.RemoteAddr())
	return nil
}

// OnMessage 实现 websocket.MessageHandler，按帧类型分发
func (s *Server) OnMessage(conn *websocket.Connection, data []byte) error {
	sess, ok := s.GetSession(conn.ID())
	if !ok {
		return nil
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn("malformed frame", "session_id", sess.ID(), "error", err)
		s.sendError(sess, "", protocol.CodeMalformedFrame, "malformed frame")
		return nil
	}

	switch frame.Type {
	case protocol.TypePing:
		s.sendFrame(sess, protocol.TypePong, nil, frame.RequestID)

	case protocol.TypePong:
		sess.MarkAlive()

	case protocol.TypeIdentify:
		s.handleIdentify(sess, frame)

	case protocol.TypeGameEvent:
		s.handleGameEvent(sess, frame)

	case protocol.TypeResponse:
		// 识别前不可能有未决请求，直接拒绝
		if !sess.Identified() {
			s.sendError(sess, frame.RequestID, protocol.CodeNotIdentified, "session not identified")
			return nil
		}
		s.handleResponse(sess, frame)

	case protocol.TypeError:
		s.handleErrorFrame(sess, frame)

	default:
		s.logger.Warn("unknown message type", "session_id", sess.ID(), "type", frame.Type)
		s.sendError(sess, frame.RequestID, protocol.CodeUnknownType, "unknown message type: "+string(frame.Type))
	}

	return nil
}

// OnDisconnect 实现 websocket.MessageHandler。
// 会话的全部派生状态在此统一清理，无论断开由何种路径触发。
func (s *Server) OnDisconnect(conn *websocket.Connection, err error) {
	s.mu.Lock()
	sess, ok := s.sessions[conn.ID()]
	if ok {
		delete(s.sessions, conn.ID())
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	failed := sess.pending.close(ErrSessionClosed)
	if failed > 0 {
		s.metrics.RequestsInflight.Sub(float64(failed))
		for i := 0; i < failed; i++ {
			s.metrics.ActionResults.WithLabelValues(metrics.ResultSessionClosed).Inc()
		}
	}

	s.metrics.SessionsConnected.Dec()
	if sess.Identified() {
		s.metrics.SessionsIdentified.Dec()
	}

	s.logger.Info("session disconnected",
		"session_id", sess.ID(),
		"remote_addr", sess.RemoteAddr(),
		"pending_failed", failed,
		"error", err,
	)

	if r := s.getRouter(); r != nil {
		r.OnSessionClosed(sess.ID())
	}
}

func (s *Server) handleIdentify(sess *Session, frame *protocol.Frame) {
	if sess.Identified() {
		s.sendError(sess, frame.RequestID, protocol.CodeAlreadyIdentified, "session already identified")
		return
	}

	var payload protocol.IdentifyPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			s.sendError(sess, frame.RequestID, protocol.CodeMalformedFrame, "malformed identify payload")
			return
		}
	}
	if err := payload.Validate(); err != nil {
		s.sendError(sess, frame.RequestID, protocol.CodeIdentificationFailed, err.Error())
		return
	}

	r := s.getRouter()
	if r == nil {
		s.sendError(sess, frame.RequestID, protocol.CodeIdentificationFailed, "identification unavailable")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	id, err := r.HandleIdentify(ctx, sess.ID(), &payload)
	if err != nil {
		s.logger.Warn("identification failed",
			"session_id", sess.ID(),
			"identity_token", payload.IdentityToken,
			"error", err,
		)
		// 连接保持打开，对端可重试
		s.sendError(sess, frame.RequestID, protocol.CodeIdentificationFailed, err.Error())
		return
	}

	if err := sess.SetIdentity(id); err != nil {
		s.sendError(sess, frame.RequestID, protocol.CodeAlreadyIdentified, "session already identified")
		return
	}

	s.metrics.SessionsIdentified.Inc()
	s.logger.Info("session identified",
		"session_id", sess.ID(),
		"server_id", id.ServerID,
		"tenant_id", id.TenantID,
	)

	s.sendFrame(sess, protocol.TypeIdentifyResponse,
		&protocol.IdentifyResponsePayload{ServerID: id.ServerID}, frame.RequestID)
}

func (s *Server) handleGameEvent(sess *Session, frame *protocol.Frame) {
	id, ok := sess.Identity()
	if !ok {
		// 未识别会话上送应用事件：断开以强制重新识别
		s.logger.Warn("game event before identify, dropping session", "session_id", sess.ID())
		_ = sess.conn.CloseWithError(ErrNotIdentified)
		return
	}

	var payload protocol.GameEventPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			s.sendError(sess, frame.RequestID, protocol.CodeMalformedFrame, "malformed game event payload")
			return
		}
	}

	r := s.getRouter()
	if r == nil {
		return
	}
	r.OnApplicationMessage(sess.ID(), id)
	r.HandleGameEvent(sess.ID(), id, &payload)
}

func (s *Server) handleResponse(sess *Session, frame *protocol.Frame) {
	if id, ok := sess.Identity(); ok {
		if r := s.getRouter(); r != nil {
			r.OnApplicationMessage(sess.ID(), id)
		}
	}

	p, ok := sess.pending.take(frame.RequestID)
	if !ok {
		// 已超时或重复响应，丢弃
		s.logger.Debug("response with no pending request", "session_id", sess.ID(), "request_id", frame.RequestID)
		return
	}

	if err := protocol.ValidateResponse(p.action, frame.Payload); err != nil {
		s.logger.Warn("response shape validation failed",
			"session_id", sess.ID(),
			"request_id", frame.RequestID,
			"action", p.action,
			"error", err,
		)
		s.sendError(sess, frame.RequestID, protocol.CodeValidationFailed, err.Error())
		p.deliver(nil, errors.Wrap(ErrValidationFailed, err.Error()))
		return
	}

	p.deliver(frame.Payload, nil)
}

func (s *Server) handleErrorFrame(sess *Session, frame *protocol.Frame) {
	var payload protocol.ErrorPayload
	if len(frame.Payload) > 0 {
		_ = json.Unmarshal(frame.Payload, &payload)
	}

	s.logger.Warn("peer error frame",
		"session_id", sess.ID(),
		"request_id", frame.RequestID,
		"code", payload.Code,
		"message", payload.Message,
	)

	// 对端以 error 帧应答某次请求时，以远端错误完结该请求
	if frame.RequestID != "" {
		if p, ok := sess.pending.take(frame.RequestID); ok {
			p.deliver(nil, errors.Newf("transport: peer error %s: %s", payload.Code, payload.Message))
		}
	}
}

// heartbeatLoop 心跳循环。每个周期探测全部会话：
// 上一轮未应答的会话强制关闭，其余会话发送 ping。
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepHeartbeats()
		}
	}
}

func (s *Server) sweepHeartbeats() {
	for _, sess := range s.snapshotSessions() {
		if !sess.beginProbe() {
			s.metrics.HeartbeatFailures.Inc()
			s.logger.Warn("heartbeat missed, closing session",
				"session_id", sess.ID(),
				"remote_addr", sess.RemoteAddr(),
			)
			s.CloseSession(sess.ID())
			continue
		}
		s.sendFrame(sess, protocol.TypePing, nil, "")
	}
}

func (s *Server) snapshotSessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// GetSession 按会话 ID 查找
func (s *Server) GetSession(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// SessionCount 返回当前会话数
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// InvokeAction 在指定会话上执行动作并等待关联响应。
// 每次调用恰好以下列之一完结：校验通过的响应负载、
// ErrActionTimeout、ErrValidationFailed、ErrSessionClosed。
func (s *Server) InvokeAction(ctx context.Context, sessionID, action string, args any) (json.RawMessage, error) {
	sess, ok := s.GetSession(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	var rawArgs json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, errors.Wrapf(err, "transport: failed to marshal args for %s", action)
		}
		rawArgs = data
	}

	frame, err := protocol.NewFrame(protocol.TypeRequest,
		&protocol.RequestPayload{Action: action, Args: rawArgs}, "")
	if err != nil {
		return nil, err
	}
	data, err := frame.Encode()
	if err != nil {
		return nil, err
	}

	p, err := sess.pending.register(frame.RequestID, action, s.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	s.metrics.RequestsInflight.Inc()

	if err := sess.conn.Send(ctx, data); err != nil {
		if sess.pending.fail(frame.RequestID, err) {
			<-p.resultCh
		}
		s.metrics.RequestsInflight.Dec()
		s.metrics.ActionResults.WithLabelValues(metrics.ResultSessionClosed).Inc()
		return nil, errors.Wrapf(err, "transport: failed to send %s to %s", action, sessionID)
	}

	select {
	case <-ctx.Done():
		// 摘除失败说明结果已在途，仍需取走
		sess.pending.fail(frame.RequestID, ctx.Err())
	case res := <-p.resultCh:
		return s.finishAction(res)
	}

	res := <-p.resultCh
	return s.finishAction(res)
}

func (s *Server) finishAction(res pendingResult) (json.RawMessage, error) {
	// 会话关闭路径的未决请求由 OnDisconnect 统一计量
	if !errors.Is(res.err, ErrSessionClosed) {
		s.metrics.RequestsInflight.Dec()
		s.metrics.ActionResults.WithLabelValues(resultLabel(res.err)).Inc()
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.payload, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrActionTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, ErrValidationFailed):
		return metrics.ResultValidationFailed
	case errors.Is(err, ErrSessionClosed):
		return metrics.ResultSessionClosed
	default:
		return metrics.ResultTimeout
	}
}

// SendEvent 向指定会话发送一条指定类型的消息，不等待应答。
// 会话不存在时记日志并返回 ErrSessionNotFound，调用方可按需忽略。
func (s *Server) SendEvent(sessionID, msgType string, payload any) error {
	sess, ok := s.GetSession(sessionID)
	if !ok {
		s.logger.Debug("send event to unknown session", "session_id", sessionID, "type", msgType)
		return ErrSessionNotFound
	}

	frame, err := protocol.NewFrame(protocol.MessageType(msgType), payload, "")
	if err != nil {
		return err
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return sess.conn.SendAsync(data)
}

// CloseSession 关闭指定会话。清理经由断开回调级联，恰好一次。
func (s *Server) CloseSession(sessionID string) error {
	sess, ok := s.GetSession(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return sess.conn.Close()
}

// ConnectOutbound 主动拨出建立会话并绑定既知身份（托管接入服务器）。
// 连接由服务端统一纳管，生命周期与入站会话一致。返回新会话 ID。
func (s *Server) ConnectOutbound(ctx context.Context, url string, id Identity) (string, error) {
	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return "", err
	}

	sess := newSession(conn)
	if err := sess.SetIdentity(id); err != nil {
		_ = conn.Close()
		return "", err
	}

	s.mu.Lock()
	s.sessions[conn.ID()] = sess
	s.mu.Unlock()

	if err := s.ws.AdoptConnection(conn); err != nil {
		s.mu.Lock()
		delete(s.sessions, conn.ID())
		s.mu.Unlock()
		_ = conn.Close()
		return "", err
	}

	s.metrics.SessionsIdentified.Inc()
	s.logger.Info("outbound session established",
		"session_id", sess.ID(),
		"server_id", id.ServerID,
		"url", url,
	)
	return sess.ID(), nil
}

// sendFrame 构造并异步发送一条消息
func (s *Server) sendFrame(sess *Session, t protocol.MessageType, payload any, requestID string) {
	frame, err := protocol.NewFrame(t, payload, requestID)
	if err != nil {
		s.logger.Error("failed to build frame", "session_id", sess.ID(), "type", t, "error", err)
		return
	}
	data, err := frame.Encode()
	if err != nil {
		s.logger.Error("failed to encode frame", "session_id", sess.ID(), "type", t, "error", err)
		return
	}
	if err := sess.conn.SendAsync(data); err != nil {
		s.logger.Debug("failed to send frame", "session_id", sess.ID(), "type", t, "error", err)
	}
}

func (s *Server) sendError(sess *Session, requestID, code, message string) {
	s.sendFrame(sess, protocol.TypeError, &protocol.ErrorPayload{Code: code, Message: message}, requestID)
}
