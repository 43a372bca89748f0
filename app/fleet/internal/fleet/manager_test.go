package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/gamefleet/app/fleet/internal/forward"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/identify"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/platform"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/protocol"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/transport"
	"github.com/lk2023060901/gamefleet/pkg/logger"
)

type stubOps struct {
	mu       sync.Mutex
	closed   []string
	closeErr map[string]error
	dialed   []string
	dialErr  map[string]error
	nextID   int

	invokedSessions []string
	sentSessions    []string
}

func (o *stubOps) InvokeAction(ctx context.Context, sessionID, action string, args any) (json.RawMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invokedSessions = append(o.invokedSessions, sessionID)
	return json.RawMessage(`{"ok":true}`), nil
}

func (o *stubOps) SendEvent(sessionID, msgType string, payload any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sentSessions = append(o.sentSessions, sessionID)
	return nil
}

func (o *stubOps) CloseSession(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, sessionID)
	if err, ok := o.closeErr[sessionID]; ok {
		return err
	}
	return nil
}

func (o *stubOps) ConnectOutbound(ctx context.Context, url string, id transport.Identity) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err, ok := o.dialErr[url]; ok {
		return "", err
	}
	o.dialed = append(o.dialed, url)
	o.nextID++
	return fmt.Sprintf("sess-out-%d", o.nextID), nil
}

func (o *stubOps) closedSessions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.closed...)
}

func (o *stubOps) dialedURLs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.dialed...)
}

type stubDiscovery struct {
	tenants    []*platform.Tenant
	tenantsErr error
	servers    map[string][]*platform.GameServer
	serversErr map[string]error
}

func (d *stubDiscovery) ListActiveTenants(ctx context.Context) ([]*platform.Tenant, error) {
	if d.tenantsErr != nil {
		return nil, d.tenantsErr
	}
	return d.tenants, nil
}

func (d *stubDiscovery) ListEnabledReachableServers(ctx context.Context, tenantID string) ([]*platform.GameServer, error) {
	if err, ok := d.serversErr[tenantID]; ok {
		return nil, err
	}
	return d.servers[tenantID], nil
}

type stubForwarder struct {
	mu        sync.Mutex
	envelopes []*forward.Envelope
	err       error
}

func (f *stubForwarder) Forward(ctx context.Context, env *forward.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.envelopes = append(f.envelopes, env)
	return nil
}

type stubResolver struct {
	tenants map[string]*platform.Tenant
}

func (r *stubResolver) ResolveRegistrationToken(ctx context.Context, token string) (*platform.Tenant, error) {
	t, ok := r.tenants[token]
	if !ok {
		return nil, platform.ErrTokenNotFound
	}
	return t, nil
}

type memRegistry struct {
	mu      sync.Mutex
	nextID  int
	servers []*platform.GameServer
}

func (r *memRegistry) FindServers(ctx context.Context, tenantID string, filter platform.ServerFilter) ([]*platform.GameServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*platform.GameServer
	for _, s := range r.servers {
		if s.TenantID == tenantID && s.IdentityToken == filter.IdentityToken {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRegistry) CreateServer(ctx context.Context, tenantID string, attrs platform.CreateServerAttrs) (*platform.GameServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s := &platform.GameServer{
		ID:            fmt.Sprintf("server-%d", r.nextID),
		TenantID:      tenantID,
		IdentityToken: attrs.IdentityToken,
		Name:          attrs.Name,
		Kind:          attrs.Kind,
		Enabled:       true,
		Reachable:     true,
	}
	r.servers = append(r.servers, s)
	return s, nil
}

func (r *memRegistry) GetServer(ctx context.Context, tenantID, serverID string) (*platform.GameServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.servers {
		if s.TenantID == tenantID && s.ID == serverID {
			return s, nil
		}
	}
	return nil, platform.ErrServerNotFound
}

func newTestManager(t *testing.T, ops *stubOps, discovery platform.FleetDiscovery, fwd forward.Forwarder) *Manager {
	t.Helper()

	resolver := &stubResolver{tenants: map[string]*platform.Tenant{
		"reg-1": {ID: "tenant-1", Name: "Tenant One"},
	}}
	flow := identify.NewFlow(resolver, &memRegistry{}, logger.Noop())

	if discovery == nil {
		discovery = &stubDiscovery{}
	}
	if fwd == nil {
		fwd = &stubForwarder{}
	}

	m, err := NewManager(DefaultConfig(), ops, flow, discovery, fwd, logger.Noop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.forwardPool.Release() })
	return m
}

func TestHandleIdentifyRegistersMapping(t *testing.T) {
	ops := &stubOps{}
	m := newTestManager(t, ops, nil, nil)

	id, err := m.HandleIdentify(t.Context(), "sess-1", &protocol.IdentifyPayload{
		IdentityToken:     "abc",
		RegistrationToken: "reg-1",
	})
	require.NoError(t, err)
	require.Equal(t, "tenant-1", id.TenantID)
	require.NotEmpty(t, id.ServerID)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, id.ServerID, snap[0].ServerID)
	require.Equal(t, "sess-1", snap[0].SessionID)
	require.Equal(t, platform.KindExternal, snap[0].Kind)
}

func TestHandleIdentifyRejectsUnknownToken(t *testing.T) {
	m := newTestManager(t, &stubOps{}, nil, nil)

	_, err := m.HandleIdentify(t.Context(), "sess-1", &protocol.IdentifyPayload{
		IdentityToken:     "abc",
		RegistrationToken: "reg-unknown",
	})
	require.ErrorIs(t, err, platform.ErrTokenNotFound)
	require.Empty(t, m.Snapshot())
}

// 同一 serverId 被新会话接管后，旧会话的关闭回调不得移除新映射
func TestRebindDoesNotLoseNewerSession(t *testing.T) {
	ops := &stubOps{}
	m := newTestManager(t, ops, nil, nil)

	m.bind("srv-1", "tenant-1", "sess-old", platform.KindExternal, "")
	m.bind("srv-1", "tenant-1", "sess-new", platform.KindExternal, "")

	// 旧会话被关闭
	require.Equal(t, []string{"sess-old"}, ops.closedSessions())

	// 旧会话的关闭回调迟到
	m.OnSessionClosed("sess-old")

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "sess-new", snap[0].SessionID)
	require.Greater(t, snap[0].Generation, uint64(1))

	// 新会话关闭才移除映射
	m.OnSessionClosed("sess-new")
	require.Empty(t, m.Snapshot())
}

func TestOnSessionClosedIsIdempotent(t *testing.T) {
	m := newTestManager(t, &stubOps{}, nil, nil)

	m.bind("srv-1", "tenant-1", "sess-1", platform.KindExternal, "")
	m.OnSessionClosed("sess-1")
	m.OnSessionClosed("sess-1")
	require.Empty(t, m.Snapshot())
}

func TestHandleGameEventForwardsEnvelope(t *testing.T) {
	fwd := &stubForwarder{}
	m := newTestManager(t, &stubOps{}, nil, fwd)

	m.bind("srv-1", "tenant-1", "sess-1", platform.KindExternal, "")
	m.HandleGameEvent("sess-1", transport.Identity{ServerID: "srv-1", TenantID: "tenant-1"},
		&protocol.GameEventPayload{
			Type:  "playerJoined",
			Event: json.RawMessage(`{"player":"alice"}`),
		})

	require.Eventually(t, func() bool {
		fwd.mu.Lock()
		defer fwd.mu.Unlock()
		return len(fwd.envelopes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	env := fwd.envelopes[0]
	require.Equal(t, "playerJoined", env.Type)
	require.Equal(t, "tenant-1", env.TenantID)
	require.Equal(t, "srv-1", env.ServerID)
}

func TestReconcileDialsMissingManagedServers(t *testing.T) {
	ops := &stubOps{}
	discovery := &stubDiscovery{
		tenants: []*platform.Tenant{{ID: "tenant-1"}},
		servers: map[string][]*platform.GameServer{
			"tenant-1": {
				{ID: "srv-managed", TenantID: "tenant-1", Kind: platform.KindManaged, ConnectURL: "ws://host-1/ws"},
				{ID: "srv-external", TenantID: "tenant-1", Kind: platform.KindExternal},
			},
		},
	}
	m := newTestManager(t, ops, discovery, nil)

	m.Reconcile(t.Context())

	// 托管服务器被拨出并注册，外部接入服务器不拨出
	require.Equal(t, []string{"ws://host-1/ws"}, ops.dialedURLs())
	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "srv-managed", snap[0].ServerID)

	// 已连接的服务器下一轮不重复拨出
	m.Reconcile(t.Context())
	require.Len(t, ops.dialedURLs(), 1)
}

func TestReconcileRemovesUndesiredServers(t *testing.T) {
	ops := &stubOps{}
	discovery := &stubDiscovery{
		tenants: []*platform.Tenant{{ID: "tenant-1"}},
		servers: map[string][]*platform.GameServer{"tenant-1": {}},
	}
	m := newTestManager(t, ops, discovery, nil)

	m.bind("srv-gone", "tenant-1", "sess-1", platform.KindManaged, "")
	m.Reconcile(t.Context())

	require.Equal(t, []string{"sess-1"}, ops.closedSessions())
}

// 租户发现失败时该租户的现有映射本轮保留
func TestReconcileSkipsRemovalsForFailedTenant(t *testing.T) {
	ops := &stubOps{}
	discovery := &stubDiscovery{
		tenants: []*platform.Tenant{{ID: "tenant-1"}, {ID: "tenant-2"}},
		servers: map[string][]*platform.GameServer{"tenant-2": {}},
		serversErr: map[string]error{
			"tenant-1": errors.New("backend unavailable"),
		},
	}
	m := newTestManager(t, ops, discovery, nil)

	m.bind("srv-1", "tenant-1", "sess-1", platform.KindExternal, "")
	m.bind("srv-2", "tenant-2", "sess-2", platform.KindManaged, "")

	m.Reconcile(t.Context())

	// tenant-1 的映射保留，tenant-2 的被移除
	require.Equal(t, []string{"sess-2"}, ops.closedSessions())
	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "srv-1", snap[0].ServerID)
}

func TestReconcileIsolatesDialFailures(t *testing.T) {
	ops := &stubOps{dialErr: map[string]error{
		"ws://bad/ws": errors.New("connection refused"),
	}}
	discovery := &stubDiscovery{
		tenants: []*platform.Tenant{{ID: "tenant-1"}},
		servers: map[string][]*platform.GameServer{
			"tenant-1": {
				{ID: "srv-bad", TenantID: "tenant-1", Kind: platform.KindManaged, ConnectURL: "ws://bad/ws"},
				{ID: "srv-good", TenantID: "tenant-1", Kind: platform.KindManaged, ConnectURL: "ws://good/ws"},
			},
		},
	}
	m := newTestManager(t, ops, discovery, nil)

	m.Reconcile(t.Context())

	require.Equal(t, []string{"ws://good/ws"}, ops.dialedURLs())
	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "srv-good", snap[0].ServerID)
}

func TestSweepStaleRecyclesSilentSessions(t *testing.T) {
	ops := &stubOps{}
	m := newTestManager(t, ops, nil, nil)

	m.bind("srv-quiet", "tenant-1", "sess-quiet", platform.KindExternal, "")
	m.bind("srv-chatty", "tenant-1", "sess-chatty", platform.KindExternal, "")

	// srv-quiet 静默超过阈值
	m.mu.Lock()
	m.entries["srv-quiet"].lastMessage.Store(time.Now().Add(-time.Hour).UnixNano())
	m.mu.Unlock()

	m.SweepStale(t.Context())

	require.Equal(t, []string{"sess-quiet"}, ops.closedSessions())

	// 映射同步移除，静默服务器的重连走重新识别
	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "srv-chatty", snap[0].ServerID)
}

// 静默的托管接入服务器拆除后立即重建出站连接，
// 即使旧会话已不在传输层也不得残留映射
func TestSweepStaleReestablishesManagedServer(t *testing.T) {
	ops := &stubOps{closeErr: map[string]error{
		"sess-dead": transport.ErrSessionNotFound,
	}}
	m := newTestManager(t, ops, nil, nil)

	m.bind("srv-m", "tenant-1", "sess-dead", platform.KindManaged, "ws://host-1/ws")
	m.mu.Lock()
	m.entries["srv-m"].lastMessage.Store(time.Now().Add(-time.Hour).UnixNano())
	m.mu.Unlock()

	m.SweepStale(t.Context())

	require.Equal(t, []string{"sess-dead"}, ops.closedSessions())
	require.Equal(t, []string{"ws://host-1/ws"}, ops.dialedURLs())

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "srv-m", snap[0].ServerID)
	require.Equal(t, "sess-out-1", snap[0].SessionID)
}

func TestInvokeActionRoutesByServerID(t *testing.T) {
	ops := &stubOps{}
	m := newTestManager(t, ops, nil, nil)

	m.bind("srv-1", "tenant-1", "sess-1", platform.KindExternal, "")

	result, err := m.InvokeAction(t.Context(), "srv-1", protocol.ActionGetPlayer, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(result))
	require.Equal(t, []string{"sess-1"}, ops.invokedSessions)

	_, err = m.InvokeAction(t.Context(), "srv-unknown", protocol.ActionGetPlayer, nil)
	require.ErrorIs(t, err, ErrServerNotConnected)
}

func TestSendEventRoutesByServerID(t *testing.T) {
	ops := &stubOps{}
	m := newTestManager(t, ops, nil, nil)

	m.bind("srv-1", "tenant-1", "sess-1", platform.KindExternal, "")

	require.NoError(t, m.SendEvent("srv-1", "announcement", map[string]string{"text": "hello"}))
	require.Equal(t, []string{"sess-1"}, ops.sentSessions)

	require.ErrorIs(t, m.SendEvent("srv-unknown", "announcement", nil), ErrServerNotConnected)
}

// 会话已不在传输层时，调和移除仍须清掉映射，
// 不得留下 lookupSession 永远命中的孤儿表项
func TestReconcileRemovesMappingForDeadSession(t *testing.T) {
	ops := &stubOps{closeErr: map[string]error{
		"sess-dead": transport.ErrSessionNotFound,
	}}
	discovery := &stubDiscovery{
		tenants: []*platform.Tenant{{ID: "tenant-1"}},
		servers: map[string][]*platform.GameServer{"tenant-1": {}},
	}
	m := newTestManager(t, ops, discovery, nil)

	m.bind("srv-gone", "tenant-1", "sess-dead", platform.KindManaged, "")
	m.Reconcile(t.Context())

	require.Equal(t, []string{"sess-dead"}, ops.closedSessions())
	require.Empty(t, m.Snapshot())
}

func TestDisconnectRemovesMapping(t *testing.T) {
	ops := &stubOps{}
	m := newTestManager(t, ops, nil, nil)

	m.bind("srv-1", "tenant-1", "sess-1", platform.KindExternal, "")

	require.NoError(t, m.Disconnect("srv-1"))
	require.Equal(t, []string{"sess-1"}, ops.closedSessions())
	require.Empty(t, m.Snapshot())

	require.ErrorIs(t, m.Disconnect("srv-1"), ErrServerNotConnected)
}

// blockedForwarder 占住转发 worker，直到 release 被关闭
type blockedForwarder struct {
	entered chan struct{}
	release chan struct{}
}

func (f *blockedForwarder) Forward(ctx context.Context, env *forward.Envelope) error {
	f.entered <- struct{}{}
	<-f.release
	return nil
}

// 转发工作池打满时事件被丢弃，调用方（会话读循环）不被阻塞
func TestHandleGameEventDoesNotBlockWhenPoolSaturated(t *testing.T) {
	fwd := &blockedForwarder{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	defer close(fwd.release)

	resolver := &stubResolver{tenants: map[string]*platform.Tenant{}}
	flow := identify.NewFlow(resolver, &memRegistry{}, logger.Noop())

	cfg := DefaultConfig()
	cfg.ForwardWorkers = 1
	m, err := NewManager(cfg, &stubOps{}, flow, &stubDiscovery{}, fwd, logger.Noop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.forwardPool.Release() })

	id := transport.Identity{ServerID: "srv-1", TenantID: "tenant-1"}
	ev := &protocol.GameEventPayload{Type: "playerJoined", Event: json.RawMessage(`{}`)}

	// 唯一 worker 被占用
	m.HandleGameEvent("sess-1", id, ev)
	<-fwd.entered

	done := make(chan struct{})
	go func() {
		m.HandleGameEvent("sess-1", id, ev)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleGameEvent blocked on saturated forward pool")
	}
}
