// Package identify 实现连接的身份握手：
// 解析注册凭证得到租户，再按身份凭证查找或创建该租户下的服务器档案。
package identify

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/gamefleet/app/fleet/internal/platform"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/protocol"
	"github.com/lk2023060901/gamefleet/pkg/logger"
)

// Flow 身份握手流程。无连接状态，可被并发调用。
type Flow struct {
	resolver platform.DomainResolver
	registry platform.ServerRegistry
	logger   logger.Logger
}

// NewFlow 创建握手流程
func NewFlow(resolver platform.DomainResolver, registry platform.ServerRegistry, log logger.Logger) *Flow {
	if log == nil {
		log = logger.Noop()
	}
	return &Flow{
		resolver: resolver,
		registry: registry,
		logger:   log.Named("identify"),
	}
}

// Run 执行一次握手。同一租户下相同身份凭证总是解析到同一条服务器档案。
func (f *Flow) Run(ctx context.Context, p *protocol.IdentifyPayload) (*platform.Tenant, *platform.GameServer, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	tenant, err := f.resolver.ResolveRegistrationToken(ctx, p.RegistrationToken)
	if err != nil {
		return nil, nil, errors.Wrap(err, "identify: failed to resolve registration token")
	}

	server, err := f.findOrCreateServer(ctx, tenant, p)
	if err != nil {
		return nil, nil, err
	}

	return tenant, server, nil
}

func (f *Flow) findOrCreateServer(ctx context.Context, tenant *platform.Tenant, p *protocol.IdentifyPayload) (*platform.GameServer, error) {
	servers, err := f.registry.FindServers(ctx, tenant.ID, platform.ServerFilter{
		IdentityToken: p.IdentityToken,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "identify: failed to look up server for tenant %s", tenant.ID)
	}
	if len(servers) > 0 {
		return servers[0], nil
	}

	name := p.Name
	if name == "" {
		name = p.IdentityToken
	}

	server, err := f.registry.CreateServer(ctx, tenant.ID, platform.CreateServerAttrs{
		IdentityToken: p.IdentityToken,
		Name:          name,
		Kind:          platform.KindExternal,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "identify: failed to create server for tenant %s", tenant.ID)
	}

	f.logger.Info("server record created",
		"tenant_id", tenant.ID,
		"server_id", server.ID,
		"name", name,
	)
	return server, nil
}
