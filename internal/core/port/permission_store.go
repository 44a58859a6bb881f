package port

import (
	"context"

	"github.com/arklim/credential-engine/internal/core/domain"
)

// PermissionStore is the read-only role lookup used to resolve permissions.
type PermissionStore interface {
	AssignedRoles(ctx context.Context, accountID string) ([]domain.Role, error)
}

// RoleAdmin manages roles and their assignment.
type RoleAdmin interface {
	PermissionStore
	UpsertRole(ctx context.Context, role domain.Role) error
	GetRoleByName(ctx context.Context, name string) (*domain.Role, error)
	AssignRole(ctx context.Context, assignment domain.RoleAssignment) error
	RevokeRole(ctx context.Context, accountID, roleID string) error
}
