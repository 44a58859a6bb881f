package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Accounts   *AccountRepository
	Tokens     *TokenRepository
	Roles      *RoleRepository
	UnitOfWork *UnitOfWork
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Accounts:   NewAccountRepository(db),
		Tokens:     NewTokenRepository(db),
		Roles:      NewRoleRepository(db),
		UnitOfWork: NewUnitOfWork(db),
	}
}

// Migrate applies the embedded schema files in name order. Every statement is idempotent.
func Migrate(ctx context.Context, db DB) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
