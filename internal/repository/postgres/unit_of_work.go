package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/repository"
)

// UnitOfWork implements port.UnitOfWork with one pgx transaction per command.
type UnitOfWork struct {
	db DB
}

// NewUnitOfWork constructs a unit of work over db.
func NewUnitOfWork(db DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Begin opens a transaction and carries it on the returned context.
func (u *UnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	if state := txFrom(ctx); state != nil && !state.done {
		return nil, errors.New("postgres: transaction already open")
	}
	tx, err := u.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, txKey{}, &txState{tx: tx}), nil
}

// SaveChanges only checks the transaction; statements run as repositories are called.
func (u *UnitOfWork) SaveChanges(ctx context.Context) error {
	if state := txFrom(ctx); state == nil || state.done {
		return repository.ErrNoTransaction
	}
	return nil
}

// Commit commits the open transaction.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	state := txFrom(ctx)
	if state == nil || state.done {
		return repository.ErrNoTransaction
	}
	state.done = true
	if err := state.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the open transaction. Rolling back twice is a no-op.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	state := txFrom(ctx)
	if state == nil {
		return repository.ErrNoTransaction
	}
	if state.done {
		return nil
	}
	state.done = true
	// The handler context may already be cancelled; the rollback must still reach the server.
	if err := state.tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

var _ port.UnitOfWork = (*UnitOfWork)(nil)
