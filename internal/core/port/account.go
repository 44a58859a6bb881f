package port

import (
	"context"

	"github.com/arklim/credential-engine/internal/core/domain"
)

// AccountRepository persists Account aggregates.
// Update must reject a write whose persisted version no longer matches storage.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email domain.Email) (*domain.Account, error)
	Add(ctx context.Context, account *domain.Account) error
	Update(ctx context.Context, account *domain.Account) error
	Remove(ctx context.Context, id string) error
}

// UnitOfWork scopes a set of writes to one transaction carried on the context.
type UnitOfWork interface {
	Begin(ctx context.Context) (context.Context, error)
	SaveChanges(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DomainEventDispatcher delivers events after their transaction committed.
type DomainEventDispatcher interface {
	Dispatch(ctx context.Context, events []domain.Event) error
}
