package platform

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StaticConfig 配置文件内置的租户与服务器清单。
// 用于单机部署与开发环境，生产环境由 CRUD 服务实现协作方接口。
type StaticConfig struct {
	Tenants []StaticTenant `mapstructure:"tenants"`
}

// StaticTenant 静态租户条目
type StaticTenant struct {
	ID                string         `mapstructure:"id"`
	Name              string         `mapstructure:"name"`
	RegistrationToken string         `mapstructure:"registration_token"`
	Servers           []StaticServer `mapstructure:"servers"`
}

// StaticServer 静态服务器条目
type StaticServer struct {
	ID            string `mapstructure:"id"`
	IdentityToken string `mapstructure:"identity_token"`
	Name          string `mapstructure:"name"`
	Kind          string `mapstructure:"kind"`
	Enabled       bool   `mapstructure:"enabled"`
	Reachable     bool   `mapstructure:"reachable"`
	ConnectURL    string `mapstructure:"connect_url"`
}

// Static 基于配置清单的协作方实现。
// identify 创建的服务器档案保存在内存中，进程重启后丢失。
type Static struct {
	mu      sync.Mutex
	tenants []*Tenant
	tokens  map[string]*Tenant // registrationToken → tenant
	servers []*GameServer
}

var (
	_ DomainResolver = (*Static)(nil)
	_ ServerRegistry = (*Static)(nil)
	_ FleetDiscovery = (*Static)(nil)
)

// NewStatic 从配置清单构建协作方实现
func NewStatic(cfg *StaticConfig) *Static {
	s := &Static{
		tokens: make(map[string]*Tenant),
	}
	if cfg == nil {
		return s
	}

	for _, tc := range cfg.Tenants {
		tenant := &Tenant{ID: tc.ID, Name: tc.Name}
		s.tenants = append(s.tenants, tenant)
		if tc.RegistrationToken != "" {
			s.tokens[tc.RegistrationToken] = tenant
		}
		for _, sc := range tc.Servers {
			kind := ServerKind(sc.Kind)
			if kind == "" {
				kind = KindExternal
			}
			s.servers = append(s.servers, &GameServer{
				ID:            sc.ID,
				TenantID:      tc.ID,
				IdentityToken: sc.IdentityToken,
				Name:          sc.Name,
				Kind:          kind,
				Enabled:       sc.Enabled,
				Reachable:     sc.Reachable,
				ConnectURL:    sc.ConnectURL,
			})
		}
	}
	return s
}

// ResolveRegistrationToken 实现 DomainResolver
func (s *Static) ResolveRegistrationToken(ctx context.Context, token string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tokens[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return tenant, nil
}

// FindServers 实现 ServerRegistry
func (s *Static) FindServers(ctx context.Context, tenantID string, filter ServerFilter) ([]*GameServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*GameServer
	for _, srv := range s.servers {
		if srv.TenantID != tenantID {
			continue
		}
		if filter.IdentityToken != "" && srv.IdentityToken != filter.IdentityToken {
			continue
		}
		out = append(out, srv)
	}
	return out, nil
}

// CreateServer 实现 ServerRegistry
func (s *Static) CreateServer(ctx context.Context, tenantID string, attrs CreateServerAttrs) (*GameServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv := &GameServer{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		IdentityToken: attrs.IdentityToken,
		Name:          attrs.Name,
		Kind:          attrs.Kind,
		Enabled:       true,
		Reachable:     true,
	}
	s.servers = append(s.servers, srv)
	return srv, nil
}

// GetServer 实现 ServerRegistry
func (s *Static) GetServer(ctx context.Context, tenantID, serverID string) (*GameServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, srv := range s.servers {
		if srv.TenantID == tenantID && srv.ID == serverID {
			return srv, nil
		}
	}
	return nil, ErrServerNotFound
}

// ListActiveTenants 实现 FleetDiscovery
func (s *Static) ListActiveTenants(ctx context.Context) ([]*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Tenant(nil), s.tenants...), nil
}

// ListEnabledReachableServers 实现 FleetDiscovery
func (s *Static) ListEnabledReachableServers(ctx context.Context, tenantID string) ([]*GameServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*GameServer
	for _, srv := range s.servers {
		if srv.TenantID == tenantID && srv.Enabled && srv.Reachable {
			out = append(out, srv)
		}
	}
	return out, nil
}
