package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/pipeline"
)

const defaultPermissionCacheTTL = 30 * time.Second

// PermissionResolver computes effective permissions as the union of assigned
// roles plus a baseline every authenticated account holds.
type PermissionResolver struct {
	store    port.PermissionStore
	baseline domain.Permissions
	cache    *gocache.Cache
	group    singleflight.Group
}

// NewPermissionResolver constructs a resolver caching results for ttl.
func NewPermissionResolver(store port.PermissionStore, baseline domain.Permissions, ttl time.Duration) *PermissionResolver {
	if ttl <= 0 {
		ttl = defaultPermissionCacheTTL
	}
	return &PermissionResolver{
		store:    store,
		baseline: baseline,
		cache:    gocache.New(ttl, 2*ttl),
	}
}

// EffectivePermissions returns the permission set of an account.
func (r *PermissionResolver) EffectivePermissions(ctx context.Context, accountID string) (domain.Permissions, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.PermNone, pipeline.ErrUnauthenticated
	}
	if cached, ok := r.cache.Get(accountID); ok {
		return cached.(domain.Permissions), nil
	}

	v, err, _ := r.group.Do(accountID, func() (any, error) {
		roles, err := r.store.AssignedRoles(ctx, accountID)
		if err != nil {
			return domain.PermNone, fmt.Errorf("list assigned roles: %w", err)
		}
		perms := domain.EffectivePermissions(roles).Union(r.baseline)
		r.cache.SetDefault(accountID, perms)
		return perms, nil
	})
	if err != nil {
		return domain.PermNone, err
	}
	return v.(domain.Permissions), nil
}

// Authorize fails with pipeline.ErrForbidden unless every required flag is held.
func (r *PermissionResolver) Authorize(ctx context.Context, accountID string, required domain.Permissions) error {
	perms, err := r.EffectivePermissions(ctx, accountID)
	if err != nil {
		return err
	}
	if missing := perms.Missing(required); missing != domain.PermNone {
		return pipeline.ErrForbidden.WithDetail("missing", missing.Names())
	}
	return nil
}

// Invalidate drops the cached set of an account after its roles change.
func (r *PermissionResolver) Invalidate(accountID string) {
	r.cache.Delete(strings.TrimSpace(accountID))
}

// OperatorAuthorizer grants every permission. It is wired only into the
// operator CLI, which runs with direct store access.
type OperatorAuthorizer struct{}

// Authorize always succeeds.
func (OperatorAuthorizer) Authorize(context.Context, string, domain.Permissions) error { return nil }

var (
	_ pipeline.Authorizer = (*PermissionResolver)(nil)
	_ pipeline.Authorizer = OperatorAuthorizer{}
)
