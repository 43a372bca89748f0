package identify

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/gamefleet/app/fleet/internal/platform"
	"github.com/lk2023060901/gamefleet/app/fleet/internal/protocol"
	"github.com/lk2023060901/gamefleet/pkg/logger"
)

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
	creates int
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
	r.creates++
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

func newTestFlow() (*Flow, *memRegistry) {
	resolver := &stubResolver{tenants: map[string]*platform.Tenant{
		"reg-1": {ID: "tenant-1", Name: "Tenant One"},
	}}
	registry := &memRegistry{}
	return NewFlow(resolver, registry, logger.Noop()), registry
}

func TestRunCreatesServerOnFirstIdentify(t *testing.T) {
	flow, registry := newTestFlow()

	tenant, server, err := flow.Run(t.Context(), &protocol.IdentifyPayload{
		IdentityToken:     "abc",
		RegistrationToken: "reg-1",
		Name:              "EU West 1",
	})
	require.NoError(t, err)
	require.Equal(t, "tenant-1", tenant.ID)
	require.Equal(t, "EU West 1", server.Name)
	require.Equal(t, platform.KindExternal, server.Kind)
	require.Equal(t, 1, registry.creates)
}

func TestRunIsIdempotentPerIdentityToken(t *testing.T) {
	flow, registry := newTestFlow()

	payload := &protocol.IdentifyPayload{
		IdentityToken:     "abc",
		RegistrationToken: "reg-1",
	}

	_, first, err := flow.Run(t.Context(), payload)
	require.NoError(t, err)

	_, second, err := flow.Run(t.Context(), payload)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, registry.creates)
}

func TestRunDefaultsNameToIdentityToken(t *testing.T) {
	flow, _ := newTestFlow()

	_, server, err := flow.Run(t.Context(), &protocol.IdentifyPayload{
		IdentityToken:     "abc",
		RegistrationToken: "reg-1",
	})
	require.NoError(t, err)
	require.Equal(t, "abc", server.Name)
}

func TestRunRejectsUnknownRegistrationToken(t *testing.T) {
	flow, registry := newTestFlow()

	_, _, err := flow.Run(t.Context(), &protocol.IdentifyPayload{
		IdentityToken:     "abc",
		RegistrationToken: "reg-unknown",
	})
	require.ErrorIs(t, err, platform.ErrTokenNotFound)
	require.Equal(t, 0, registry.creates)
}

func TestRunRejectsMissingFields(t *testing.T) {
	flow, registry := newTestFlow()

	_, _, err := flow.Run(t.Context(), &protocol.IdentifyPayload{
		RegistrationToken: "reg-1",
	})
	require.ErrorIs(t, err, protocol.ErrMissingIdentityToken)

	_, _, err = flow.Run(t.Context(), &protocol.IdentifyPayload{
		IdentityToken: "abc",
	})
	require.ErrorIs(t, err, protocol.ErrMissingRegistrationToken)
	require.Equal(t, 0, registry.creates)
}
