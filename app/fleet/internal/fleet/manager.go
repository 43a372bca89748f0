// Package fleet 维护 serverId 到会话的映射，驱动调和循环与静默回收，
// 并把游戏事件异步转发到外部队列。
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/lk2023060901/gamefleet/app/fleet/internal/forward"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/identify"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/metrics"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/platform"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/protocol"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/transport"
	"github.com/lk2023060901/gamefleet/pkg/conc"
	"github.com/lk2023060901/gamefleet/pkg/logger"
)

// Transport 管理器依赖的传输层操作
type Transport interface {
	InvokeAction(ctx context.Context, sessionID, action string, args any) (json.RawMessage, error)
	SendEvent(sessionID, msgType string, payload any) error
	CloseSession(sessionID string) error
	ConnectOutbound(ctx context.Context, url string, id transport.Identity) (string, error)
}

// entry 舰队映射表项
type entry struct {
	serverID  string
	tenantID  string
	sessionID string
	kind      platform.ServerKind

	// connectURL 托管接入服务器的出站地址，用于静默回收后重建连接
	connectURL string

	// generation 单调递增的绑定代数。同一 serverId 被新会话替换后，
	// 旧会话的关闭回调凭 sessionID 比对不再误删新表项。
	generation uint64

	// lastMessage 最近一条应用层消息的时间（UnixNano）
	lastMessage atomic.Int64
}

func (e *entry) touch() {
	e.lastMessage.Store(time.Now().UnixNano())
}

func (e *entry) lastMessageAt() time.Time {
	return time.Unix(0, e.lastMessage.Load())
}

// Entry 舰队映射的只读快照
type Entry struct {
	ServerID      string              `json:"serverId"`
	TenantID      string              `json:"tenantId"`
	SessionID     string              `json:"sessionId"`
	Kind          platform.ServerKind `json:"kind"`
	Generation    uint64              `json:"generation"`
	LastMessageAt time.Time           `json:"lastMessageAt"`
}

// Manager 舰队管理器。实现 transport.Router。
type Manager struct {
	cfg     *Config
	logger  logger.Logger
	metrics *metrics.Metrics

	ops       Transport
	flow      *identify.Flow
	discovery platform.FleetDiscovery
	forwarder forward.Forwarder

	forwardPool *conc.Pool[struct{}]
	dialLimiter *rate.Limiter

	mu         sync.Mutex
	entries    map[string]*entry // serverID → entry
	sessions   map[string]string // sessionID → serverID
	generation uint64

	cron    *cron.Cron
	started atomic.Bool
}

var _ transport.Router = (*Manager)(nil)

// NewManager 创建舰队管理器
func NewManager(
	cfg *Config,
	ops Transport,
	flow *identify.Flow,
	discovery platform.FleetDiscovery,
	forwarder forward.Forwarder,
	log logger.Logger,
	m *metrics.Metrics,
) (*Manager, error) {
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

	return &Manager{
		cfg:         cfg,
		logger:      log.Named("fleet"),
		metrics:     m,
		ops:         ops,
		flow:        flow,
		discovery:   discovery,
		forwarder:   forwarder,
		forwardPool: conc.NewPool[struct{}](cfg.ForwardWorkers, conc.WithNonblocking()),
		dialLimiter: rate.NewLimiter(rate.Limit(cfg.DialsPerSecond), cfg.DialBurst),
		entries:     make(map[string]*entry),
		sessions:    make(map[string]string),
	}, nil
}

// Start 启动调和与静默回收的周期任务
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.cfg.ReconcileInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReconcileInterval)
		defer cancel()
		m.Reconcile(ctx)
	}); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.cfg.StaleThreshold), func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StaleThreshold)
		defer cancel()
		m.SweepStale(ctx)
	}); err != nil {
		return err
	}
	m.cron.Start()

	// 启动后立即做一次调和，不等第一个周期
	conc.Go(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReconcileInterval)
		defer cancel()
		m.Reconcile(ctx)
		return struct{}{}, nil
	})

	return nil
}

// Stop 停止周期任务并释放工作池
func (m *Manager) Stop() error {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.forwardPool.Release()
	return nil
}

// HandleIdentify 实现 transport.Router：执行握手并注册舰队映射
func (m *Manager) HandleIdentify(ctx context.Context, sessionID string, p *protocol.IdentifyPayload) (transport.Identity, error) {
	tenant, server, err := m.flow.Run(ctx, p)
	if err != nil {
		return transport.Identity{}, err
	}

	m.bind(server.ID, tenant.ID, sessionID, server.Kind, server.ConnectURL)
	return transport.Identity{ServerID: server.ID, TenantID: tenant.ID}, nil
}

// HandleGameEvent 实现 transport.Router：异步转发事件信封。
// 转发为尽力而为：工作池打满时丢弃该事件，失败记日志与指标，
// 任何情况下都不阻塞入站消息路径。
func (m *Manager) HandleGameEvent(sessionID string, id transport.Identity, p *protocol.GameEventPayload) {
	env := &forward.Envelope{
		Type:     p.Type,
		Event:    p.Event,
		TenantID: id.TenantID,
		ServerID: id.ServerID,
	}

	_, ok := m.forwardPool.TrySubmit(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ForwardTimeout)
		defer cancel()

		if err := m.forwarder.Forward(ctx, env); err != nil {
			m.metrics.ForwardFailures.Inc()
			m.logger.Error("failed to forward game event",
				"server_id", id.ServerID,
				"tenant_id", id.TenantID,
				"event_type", p.Type,
				"error", err,
			)
			return struct{}{}, nil
		}
		m.metrics.EventsForwarded.Inc()
		return struct{}{}, nil
	})
	if !ok {
		m.metrics.ForwardFailures.Inc()
		m.logger.Error("forward pool saturated, dropping game event",
			"server_id", id.ServerID,
			"tenant_id", id.TenantID,
			"event_type", p.Type,
		)
	}
}

// OnApplicationMessage 实现 transport.Router：刷新静默时间戳
func (m *Manager) OnApplicationMessage(sessionID string, id transport.Identity) {
	m.mu.Lock()
	e, ok := m.entries[id.ServerID]
	m.mu.Unlock()
	if ok && e.sessionID == sessionID {
		e.touch()
	}
}

// OnSessionClosed 实现 transport.Router：移除舰队映射。
// 表项已被更新的会话接管时不做移除。
func (m *Manager) OnSessionClosed(sessionID string) {
	m.mu.Lock()
	serverID, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	var removed *entry
	if ok {
		if e, present := m.entries[serverID]; present && e.sessionID == sessionID {
			delete(m.entries, serverID)
			removed = e
		}
	}
	m.mu.Unlock()

	if removed != nil {
		m.logger.Info("fleet mapping removed",
			"server_id", removed.serverID,
			"tenant_id", removed.tenantID,
			"session_id", sessionID,
			"generation", removed.generation,
		)
	}
}

// bind 注册或替换 serverId 的会话映射。
// 映射替换后关闭旧会话；其关闭回调因 sessionID 不匹配不会误删新表项。
func (m *Manager) bind(serverID, tenantID, sessionID string, kind platform.ServerKind, connectURL string) {
	var replaced string

	m.mu.Lock()
	m.generation++
	e := &entry{
		serverID:   serverID,
		tenantID:   tenantID,
		sessionID:  sessionID,
		kind:       kind,
		connectURL: connectURL,
		generation: m.generation,
	}
	e.touch()

	if old, ok := m.entries[serverID]; ok && old.sessionID != sessionID {
		replaced = old.sessionID
		delete(m.sessions, old.sessionID)
	}
	m.entries[serverID] = e
	m.sessions[sessionID] = serverID
	m.mu.Unlock()

	m.logger.Info("fleet mapping registered",
		"server_id", serverID,
		"tenant_id", tenantID,
		"session_id", sessionID,
		"generation", e.generation,
	)

	if replaced != "" {
		m.logger.Warn("fleet mapping replaced, closing previous session",
			"server_id", serverID,
			"old_session_id", replaced,
		)
		_ = m.ops.CloseSession(replaced)
	}
}

// evict 主动移除 serverId 的映射并关闭其会话。
// 映射先于关闭移除：即使会话已不在传输层（例如出站连接在注册
// 前后夭折），表项也不会残留成调和永远跳过的孤儿。
// 随后迟到的关闭回调因映射已不存在而自然成为空操作。
func (m *Manager) evict(e *entry) {
	m.mu.Lock()
	if cur, ok := m.entries[e.serverID]; ok && cur.sessionID == e.sessionID {
		delete(m.entries, e.serverID)
		delete(m.sessions, e.sessionID)
	}
	m.mu.Unlock()

	if err := m.ops.CloseSession(e.sessionID); err != nil && !errors.Is(err, transport.ErrSessionNotFound) {
		m.logger.Warn("failed to close session",
			"server_id", e.serverID,
			"session_id", e.sessionID,
			"error", err,
		)
	}
}

// lookupSession 按 serverId 查当前会话
func (m *Manager) lookupSession(serverID string) (string, bool) {
	e, ok := m.lookupEntry(serverID)
	if !ok {
		return "", false
	}
	return e.sessionID, true
}

func (m *Manager) lookupEntry(serverID string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[serverID]
	return e, ok
}

// InvokeAction 对指定服务器执行动作并等待响应
func (m *Manager) InvokeAction(ctx context.Context, serverID, action string, args any) (json.RawMessage, error) {
	sessionID, ok := m.lookupSession(serverID)
	if !ok {
		return nil, ErrServerNotConnected
	}
	return m.ops.InvokeAction(ctx, sessionID, action, args)
}

// SendEvent 向指定服务器发送一条消息，不等待应答
func (m *Manager) SendEvent(serverID, msgType string, payload any) error {
	sessionID, ok := m.lookupSession(serverID)
	if !ok {
		return ErrServerNotConnected
	}
	return m.ops.SendEvent(sessionID, msgType, payload)
}

// Disconnect 主动断开指定服务器的会话并移除映射
func (m *Manager) Disconnect(serverID string) error {
	e, ok := m.lookupEntry(serverID)
	if !ok {
		return ErrServerNotConnected
	}
	m.evict(e)
	return nil
}

// Snapshot 返回当前舰队映射的只读快照
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, Entry{
			ServerID:      e.serverID,
			TenantID:      e.tenantID,
			SessionID:     e.sessionID,
			Kind:          e.kind,
			Generation:    e.generation,
			LastMessageAt: e.lastMessageAt(),
		})
	}
	return out
}

// Reconcile 执行一轮调和：对比期望舰队与当前映射，
// 为缺失的托管服务器建立出站连接，移除不再期望的映射。
// 单个租户或服务器的失败被隔离，不中断整轮。
func (m *Manager) Reconcile(ctx context.Context) {
	defer m.metrics.ReconcileRuns.Inc()

	tenants, err := m.discovery.ListActiveTenants(ctx)
	if err != nil {
		m.metrics.ReconcileErrors.Inc()
		m.logger.Error("reconcile: failed to list tenants", "error", err)
		return
	}

	desired := make(map[string]*platform.GameServer)
	failedTenants := make(map[string]bool)

	for _, tenant := range tenants {
		servers, err := m.discovery.ListEnabledReachableServers(ctx, tenant.ID)
		if err != nil {
			// 该租户本轮跳过：既不新增也不移除，避免误杀健康会话
			failedTenants[tenant.ID] = true
			m.metrics.ReconcileErrors.Inc()
			m.logger.Error("reconcile: failed to list servers",
				"tenant_id", tenant.ID,
				"error", err,
			)
			continue
		}
		for _, s := range servers {
			desired[s.ID] = s
		}
	}

	m.dialMissing(ctx, desired)
	m.removeUndesired(desired, failedTenants)
}

// dialMissing 为期望舰队中缺失的托管服务器建立出站连接。
// 外部接入服务器自行拨入，不主动拨出。
func (m *Manager) dialMissing(ctx context.Context, desired map[string]*platform.GameServer) {
	for _, server := range desired {
		if server.Kind != platform.KindManaged {
			continue
		}
		if _, connected := m.lookupSession(server.ID); connected {
			continue
		}
		m.dialServer(ctx, server.ID, server.TenantID, server.ConnectURL)
		if ctx.Err() != nil {
			return
		}
	}
}

// dialServer 出站拨号并注册托管服务器映射，受拨号限速约束
func (m *Manager) dialServer(ctx context.Context, serverID, tenantID, connectURL string) {
	if connectURL == "" {
		m.metrics.ReconcileErrors.Inc()
		m.logger.Warn("managed server missing connect url", "server_id", serverID)
		return
	}

	if err := m.dialLimiter.Wait(ctx); err != nil {
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	sessionID, err := m.ops.ConnectOutbound(dialCtx, connectURL, transport.Identity{
		ServerID: serverID,
		TenantID: tenantID,
	})
	cancel()
	if err != nil {
		m.metrics.ReconcileErrors.Inc()
		m.logger.Error("failed to dial server",
			"server_id", serverID,
			"tenant_id", tenantID,
			"url", connectURL,
			"error", err,
		)
		return
	}

	m.bind(serverID, tenantID, sessionID, platform.KindManaged, connectURL)
}

// removeUndesired 移除不在期望舰队中的映射。
// 发现失败的租户本轮不做移除。
func (m *Manager) removeUndesired(desired map[string]*platform.GameServer, failedTenants map[string]bool) {
	m.mu.Lock()
	var drop []*entry
	for serverID, e := range m.entries {
		if failedTenants[e.tenantID] {
			continue
		}
		if _, want := desired[serverID]; !want {
			drop = append(drop, e)
		}
	}
	m.mu.Unlock()

	for _, e := range drop {
		m.logger.Info("reconcile: removing undesired server",
			"server_id", e.serverID,
			"tenant_id", e.tenantID,
			"session_id", e.sessionID,
		)
		m.evict(e)
	}
}

// SweepStale 回收超过静默阈值未收到应用层消息的会话。
// 托管接入服务器拆除后立即重建出站连接；外部接入服务器
// 由对端重连并重新识别恢复。
func (m *Manager) SweepStale(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.StaleThreshold)

	m.mu.Lock()
	var stale []*entry
	for _, e := range m.entries {
		if e.lastMessageAt().Before(cutoff) {
			stale = append(stale, e)
		}
	}
	m.mu.Unlock()

	for _, e := range stale {
		m.metrics.StaleReconnects.Inc()
		m.logger.Warn("stale session, recycling",
			"server_id", e.serverID,
			"tenant_id", e.tenantID,
			"session_id", e.sessionID,
			"last_message_at", e.lastMessageAt(),
		)
		m.evict(e)

		if e.kind == platform.KindManaged && e.connectURL != "" {
			m.dialServer(ctx, e.serverID, e.tenantID, e.connectURL)
		}
	}
}
