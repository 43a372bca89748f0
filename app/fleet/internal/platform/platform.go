// Package platform 定义连接层依赖的外部协作方接口：
// 租户解析、服务器档案、舰队发现。实现方在 CRUD/持久层，不在本服务内。
package platform

import "context"

// ServerKind 服务器接入方式
type ServerKind string

const (
	// KindExternal 外部接入：服务器自行拨入并通过 identify 注册，调和循环不主动拨出
	KindExternal ServerKind = "external"
	// KindManaged 托管接入：调和循环主动拨出建立连接
	KindManaged ServerKind = "managed"
)

// Tenant 租户（域）
type Tenant struct {
	ID   string
	Name string
}

// GameServer 游戏服务器档案
type GameServer struct {
	ID            string
	TenantID      string
	IdentityToken string
	Name          string
	Kind          ServerKind
	Enabled       bool
	Reachable     bool

	// ConnectURL 托管接入服务器的拨出地址
	ConnectURL string
}

// ServerFilter 服务器查询条件
type ServerFilter struct {
	IdentityToken string
}

// CreateServerAttrs 创建服务器档案的属性
type CreateServerAttrs struct {
	IdentityToken string
	Name          string
	Kind          ServerKind
}

// DomainResolver 注册凭证到租户的解析
type DomainResolver interface {
	// ResolveRegistrationToken 解析注册凭证；凭证无效或过期返回 ErrTokenNotFound
	ResolveRegistrationToken(ctx context.Context, token string) (*Tenant, error)
}

// ServerRegistry 服务器档案仓库
type ServerRegistry interface {
	FindServers(ctx context.Context, tenantID string, filter ServerFilter) ([]*GameServer, error)
	CreateServer(ctx context.Context, tenantID string, attrs CreateServerAttrs) (*GameServer, error)
	GetServer(ctx context.Context, tenantID, serverID string) (*GameServer, error)
}

// FleetDiscovery 期望舰队发现
type FleetDiscovery interface {
	ListActiveTenants(ctx context.Context) ([]*Tenant, error)
	// ListEnabledReachableServers 返回租户下启用且当前可达的服务器
	ListEnabledReachableServers(ctx context.Context, tenantID string) ([]*GameServer, error)
}
