package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/repository"
)

func TestRoleRepository_AssignedRoles(t *testing.T) {
	mock := newMockPool(t)
	repo := NewRoleRepository(mock)

	rows := pgxmock.NewRows([]string{"id", "name", "description", "permissions"}).
		AddRow("role-1", "ops", nil, []string{"accounts:unlock", "accounts:read"}).
		AddRow("role-2", "support", "front line", []string{"accounts:read"})
	mock.ExpectQuery(`SELECT r\.id, r\.name, r\.description, r\.permissions FROM iam\.roles r JOIN iam\.account_roles ar ON ar\.role_id = r\.id WHERE ar\.account_id = \$1 ORDER BY r\.name ASC`).
		WithArgs("acc-1").
		WillReturnRows(rows)

	roles, err := repo.AssignedRoles(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("AssignedRoles returned error: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	if roles[0].Permissions != domain.PermAccountsRead|domain.PermAccountsUnlock || roles[0].Description != nil {
		t.Fatalf("unexpected first role %+v", roles[0])
	}
	if roles[1].Description == nil || *roles[1].Description != "front line" {
		t.Fatalf("expected description to be populated")
	}
	expectationsMet(t, mock)
}

func TestRoleRepository_AssignedRolesRejectsUnknownPermission(t *testing.T) {
	mock := newMockPool(t)
	repo := NewRoleRepository(mock)

	rows := pgxmock.NewRows([]string{"id", "name", "description", "permissions"}).
		AddRow("role-1", "legacy", nil, []string{"users:impersonate"})
	mock.ExpectQuery(`SELECT .* FROM iam\.roles r`).WithArgs("acc-1").WillReturnRows(rows)

	if _, err := repo.AssignedRoles(context.Background(), "acc-1"); !errors.Is(err, domain.ErrUnknownPermission) {
		t.Fatalf("expected unknown permission, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestRoleRepository_UpsertAndLookup(t *testing.T) {
	mock := newMockPool(t)
	repo := NewRoleRepository(mock)

	role := domain.Role{ID: "role-9", Name: "auditor", Permissions: domain.PermAccountsRead | domain.PermTokensRevoke}
	mock.ExpectExec(`INSERT INTO iam\.roles \(id,name,description,permissions\) VALUES \(\$1,\$2,\$3,\$4\) ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("role-9", "auditor", nil, []string{"accounts:read", "tokens:revoke"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := repo.UpsertRole(context.Background(), role); err != nil {
		t.Fatalf("UpsertRole returned error: %v", err)
	}

	mock.ExpectExec(`INSERT INTO iam\.roles`).
		WithArgs(anyArgs(4)...).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "roles_name_key"})
	if err := repo.UpsertRole(context.Background(), domain.Role{ID: "role-10", Name: "Auditor"}); !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("expected conflict on duplicate name, got %v", err)
	}

	rows := pgxmock.NewRows([]string{"id", "name", "description", "permissions"}).
		AddRow("role-9", "auditor", nil, []string{"accounts:read", "tokens:revoke"})
	mock.ExpectQuery(`SELECT id, name, description, permissions FROM iam\.roles WHERE lower\(name\) = lower\(\$1\)`).
		WithArgs("AUDITOR").
		WillReturnRows(rows)
	found, err := repo.GetRoleByName(context.Background(), "AUDITOR")
	if err != nil {
		t.Fatalf("GetRoleByName returned error: %v", err)
	}
	if found.ID != "role-9" || found.Permissions != role.Permissions {
		t.Fatalf("unexpected role %+v", found)
	}

	mock.ExpectQuery(`SELECT .* FROM iam\.roles`).WithArgs("nobody").WillReturnError(pgx.ErrNoRows)
	if _, err := repo.GetRoleByName(context.Background(), "nobody"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestRoleRepository_AssignAndRevoke(t *testing.T) {
	mock := newMockPool(t)
	repo := NewRoleRepository(mock)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO iam\.account_roles .* ON CONFLICT DO NOTHING`).
		WithArgs("acc-1", "role-1", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	if err := repo.AssignRole(context.Background(), domain.RoleAssignment{AccountID: "acc-1", RoleID: "role-1", AssignedAt: at}); err != nil {
		t.Fatalf("re-assigning must be a no-op, got %v", err)
	}

	mock.ExpectExec(`INSERT INTO iam\.account_roles`).
		WithArgs("acc-1", "role-x", at).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})
	if err := repo.AssignRole(context.Background(), domain.RoleAssignment{AccountID: "acc-1", RoleID: "role-x", AssignedAt: at}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found for a missing role, got %v", err)
	}

	mock.ExpectExec(`DELETE FROM iam\.account_roles WHERE account_id = \$1 AND role_id = \$2`).
		WithArgs("acc-1", "role-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	if err := repo.RevokeRole(context.Background(), "acc-1", "role-1"); err != nil {
		t.Fatalf("RevokeRole returned error: %v", err)
	}

	mock.ExpectExec(`DELETE FROM iam\.account_roles`).
		WithArgs("acc-1", "role-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	if err := repo.RevokeRole(context.Background(), "acc-1", "role-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	expectationsMet(t, mock)
}
