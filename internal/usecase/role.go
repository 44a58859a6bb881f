package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/pipeline"
	"github.com/arklim/credential-engine/internal/repository"
)

var (
	// ErrRoleNotFound indicates the named role does not exist.
	ErrRoleNotFound = domain.NewError(domain.KindNotFound, "role_not_found", "role not found")
	// ErrRoleNotAssigned indicates the account does not hold the role.
	ErrRoleNotAssigned = domain.NewError(domain.KindNotFound, "role_not_assigned", "role is not assigned to the account")
)

// EnsureRoleCommand creates a role or replaces its permissions.
type EnsureRoleCommand struct {
	Name        string
	Description *string
	Permissions []string
}

func (EnsureRoleCommand) CommandName() string { return "roles.ensure" }

func (c EnsureRoleCommand) Validate() error {
	if err := required("name", c.Name); err != nil {
		return err
	}
	_, err := domain.ParsePermissions(c.Permissions)
	return err
}

func (EnsureRoleCommand) RequiredPermission() domain.Permissions { return domain.PermRolesManage }

// GrantRoleCommand assigns a role to an account.
type GrantRoleCommand struct {
	AccountID string
	RoleName  string
}

func (GrantRoleCommand) CommandName() string { return "roles.grant" }

func (c GrantRoleCommand) Validate() error {
	return firstError(required("account_id", c.AccountID), required("role", c.RoleName))
}

func (GrantRoleCommand) RequiredPermission() domain.Permissions { return domain.PermRolesManage }

// RevokeRoleCommand removes a role from an account.
type RevokeRoleCommand struct {
	AccountID string
	RoleName  string
}

func (RevokeRoleCommand) CommandName() string { return "roles.revoke" }

func (c RevokeRoleCommand) Validate() error {
	return firstError(required("account_id", c.AccountID), required("role", c.RoleName))
}

func (RevokeRoleCommand) RequiredPermission() domain.Permissions { return domain.PermRolesManage }

// ListRolesCommand lists the roles of an account. Self restricts the read to
// the caller and needs only the baseline permission.
type ListRolesCommand struct {
	AccountID string
	Self      bool
}

func (ListRolesCommand) CommandName() string { return "roles.list" }

func (c ListRolesCommand) Validate() error { return required("account_id", c.AccountID) }

func (c ListRolesCommand) RequiredPermission() domain.Permissions {
	if c.Self {
		return domain.PermAccountsSelf
	}
	return domain.PermAccountsRead
}

// AccountRoles is the role listing of an account with the permissions they grant.
type AccountRoles struct {
	AccountID   string
	Roles       []domain.Role
	Permissions domain.Permissions
}

// RoleService manages roles and their assignment.
type RoleService struct {
	pipeline *pipeline.Pipeline
	roles    port.RoleAdmin
	accounts port.AccountRepository
	resolver *PermissionResolver
	now      func() time.Time
}

// NewRoleService constructs a RoleService. resolver may be nil when no cache
// needs invalidating.
func NewRoleService(p *pipeline.Pipeline, roles port.RoleAdmin, accounts port.AccountRepository, resolver *PermissionResolver) *RoleService {
	return &RoleService{
		pipeline: p,
		roles:    roles,
		accounts: accounts,
		resolver: resolver,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EnsureRole upserts a role by name.
func (s *RoleService) EnsureRole(ctx context.Context, cmd EnsureRoleCommand) (domain.Role, error) {
	return pipeline.Execute(ctx, s.pipeline, cmd, func(ctx context.Context, _ *pipeline.Scope, cmd EnsureRoleCommand) (domain.Role, error) {
		perms, err := domain.ParsePermissions(cmd.Permissions)
		if err != nil {
			return domain.Role{}, err
		}
		name := strings.TrimSpace(cmd.Name)

		role := domain.Role{ID: uuid.NewString(), Name: name, Description: cmd.Description, Permissions: perms}
		existing, err := s.roles.GetRoleByName(ctx, name)
		switch {
		case err == nil:
			role.ID = existing.ID
		case !errors.Is(err, repository.ErrNotFound):
			return domain.Role{}, fmt.Errorf("get role: %w", err)
		}

		if err := s.roles.UpsertRole(ctx, role); err != nil {
			return domain.Role{}, fmt.Errorf("upsert role: %w", err)
		}
		return role, nil
	})
}

// GrantRole assigns the named role. Granting an assigned role is a no-op.
func (s *RoleService) GrantRole(ctx context.Context, cmd GrantRoleCommand) (domain.Role, error) {
	return pipeline.Execute(ctx, s.pipeline, cmd, func(ctx context.Context, scope *pipeline.Scope, cmd GrantRoleCommand) (domain.Role, error) {
		role, err := s.resolveRole(ctx, cmd.AccountID, cmd.RoleName)
		if err != nil {
			return domain.Role{}, err
		}
		err = s.roles.AssignRole(ctx, domain.RoleAssignment{AccountID: cmd.AccountID, RoleID: role.ID, AssignedAt: s.now()})
		if err != nil {
			return domain.Role{}, fmt.Errorf("assign role: %w", err)
		}
		s.invalidate(scope, cmd.AccountID)
		return *role, nil
	})
}

// RevokeRole removes the named role from the account.
func (s *RoleService) RevokeRole(ctx context.Context, cmd RevokeRoleCommand) (domain.Role, error) {
	return pipeline.Execute(ctx, s.pipeline, cmd, func(ctx context.Context, scope *pipeline.Scope, cmd RevokeRoleCommand) (domain.Role, error) {
		role, err := s.resolveRole(ctx, cmd.AccountID, cmd.RoleName)
		if err != nil {
			return domain.Role{}, err
		}
		if err := s.roles.RevokeRole(ctx, cmd.AccountID, role.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.Role{}, ErrRoleNotAssigned.WithDetail("role", role.Name)
			}
			return domain.Role{}, fmt.Errorf("revoke role: %w", err)
		}
		s.invalidate(scope, cmd.AccountID)
		return *role, nil
	})
}

// ListRoles returns the roles of an account and its effective permissions.
func (s *RoleService) ListRoles(ctx context.Context, cmd ListRolesCommand) (AccountRoles, error) {
	return pipeline.Execute(ctx, s.pipeline, cmd, func(ctx context.Context, _ *pipeline.Scope, cmd ListRolesCommand) (AccountRoles, error) {
		if cmd.Self {
			if err := requireSelf(ctx, cmd.AccountID); err != nil {
				return AccountRoles{}, err
			}
		}
		if _, err := s.accounts.FindByID(ctx, cmd.AccountID); err != nil {
			return AccountRoles{}, err
		}
		roles, err := s.roles.AssignedRoles(ctx, cmd.AccountID)
		if err != nil {
			return AccountRoles{}, fmt.Errorf("list assigned roles: %w", err)
		}
		perms := domain.EffectivePermissions(roles)
		if s.resolver != nil {
			perms = perms.Union(s.resolver.baseline)
		}
		return AccountRoles{AccountID: cmd.AccountID, Roles: roles, Permissions: perms}, nil
	})
}

// AssignedRoles lists the roles of an account without an authorization check.
// Only the operator CLI calls it.
func (s *RoleService) AssignedRoles(ctx context.Context, accountID string) ([]domain.Role, error) {
	return s.roles.AssignedRoles(ctx, strings.TrimSpace(accountID))
}

func (s *RoleService) resolveRole(ctx context.Context, accountID, name string) (*domain.Role, error) {
	if _, err := s.accounts.FindByID(ctx, accountID); err != nil {
		return nil, err
	}
	role, err := s.roles.GetRoleByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoleNotFound.WithDetail("role", name)
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

func (s *RoleService) invalidate(scope *pipeline.Scope, accountID string) {
	if s.resolver == nil {
		return
	}
	scope.AfterCommit(func(context.Context) error {
		s.resolver.Invalidate(accountID)
		return nil
	})
}
