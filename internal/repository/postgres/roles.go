package postgres

import (
	"context"
	"database/sql"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/repository"
)

// RoleRepository implements port.RoleAdmin using PostgreSQL.
type RoleRepository struct {
	db      DB
	builder squirrel.StatementBuilderType
}

// NewRoleRepository constructs a new role repository.
func NewRoleRepository(db DB) *RoleRepository {
	return &RoleRepository{db: db, builder: newBuilder()}
}

// AssignedRoles lists the roles of an account ordered by name.
func (r *RoleRepository) AssignedRoles(ctx context.Context, accountID string) ([]domain.Role, error) {
	stmt, args, err := r.builder.Select("r.id", "r.name", "r.description", "r.permissions").
		From("iam.roles r").
		Join("iam.account_roles ar ON ar.role_id = r.id").
		Where(squirrel.Eq{"ar.account_id": accountID}).
		OrderBy("r.name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list account roles sql: %w", err)
	}

	rows, err := conn(ctx, r.db).Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query account roles: %w", err)
	}
	defer rows.Close()

	roles := make([]domain.Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account roles: %w", err)
	}
	return roles, nil
}

// UpsertRole creates a role or replaces its name, description and permissions.
func (r *RoleRepository) UpsertRole(ctx context.Context, role domain.Role) error {
	stmt, args, err := r.builder.Insert("iam.roles").
		Columns("id", "name", "description", "permissions").
		Values(role.ID, role.Name, optionalString(role.Description), role.Permissions.Names()).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, permissions = EXCLUDED.permissions").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert role sql: %w", err)
	}

	if _, err := conn(ctx, r.db).Exec(ctx, stmt, args...); err != nil {
		if code, _ := pgErrorCode(err); code == pgUniqueViolation {
			return domain.NewError(domain.KindConflict, "role_name_taken", "role name already in use")
		}
		return fmt.Errorf("upsert role: %w", err)
	}
	return nil
}

// GetRoleByName retrieves a role by case-insensitive name.
func (r *RoleRepository) GetRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	stmt, args, err := r.builder.Select("id", "name", "description", "permissions").
		From("iam.roles").
		Where("lower(name) = lower(?)", name).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select role sql: %w", err)
	}

	role, err := scanRole(conn(ctx, r.db).QueryRow(ctx, stmt, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return role, nil
}

// AssignRole links a role to an account. Re-assigning is a no-op.
func (r *RoleRepository) AssignRole(ctx context.Context, assignment domain.RoleAssignment) error {
	stmt, args, err := r.builder.Insert("iam.account_roles").
		Columns("account_id", "role_id", "assigned_at").
		Values(assignment.AccountID, assignment.RoleID, assignment.AssignedAt.UTC()).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build assign role sql: %w", err)
	}

	if _, err := conn(ctx, r.db).Exec(ctx, stmt, args...); err != nil {
		if code, _ := pgErrorCode(err); code == pgForeignKeyViolation {
			return repository.ErrNotFound
		}
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// RevokeRole removes a role assignment.
func (r *RoleRepository) RevokeRole(ctx context.Context, accountID, roleID string) error {
	stmt, args, err := r.builder.Delete("iam.account_roles").
		Where(squirrel.Eq{"account_id": accountID, "role_id": roleID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke role sql: %w", err)
	}

	tag, err := conn(ctx, r.db).Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// scanRole reads a role row. Unknown permission names fail the scan rather
// than silently narrowing the set.
func scanRole(row pgx.Row) (*domain.Role, error) {
	var (
		role        domain.Role
		description sql.NullString
		names       []string
	)
	if err := row.Scan(&role.ID, &role.Name, &description, &names); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("scan role: %w", err)
	}
	perms, err := domain.ParsePermissions(names)
	if err != nil {
		return nil, fmt.Errorf("decode role %s permissions: %w", role.Name, err)
	}
	role.Description = nullableStringPtr(description)
	role.Permissions = perms
	return &role, nil
}

var _ port.RoleAdmin = (*RoleRepository)(nil)
