package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/credential-engine/internal/repository"
)

func TestUnitOfWork_RoutesStatementsThroughTransaction(t *testing.T) {
	mock := newMockPool(t)
	uow := NewUnitOfWork(mock)
	tokens := NewTokenRepository(mock)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE iam\.tokens SET revoked_at`).
		WithArgs(at, "logout", "acc-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	ctx, err := uow.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tokens.RevokeForAccount(ctx, "acc-1", "logout", at); err != nil {
		t.Fatalf("RevokeForAccount: %v", err)
	}
	if err := uow.SaveChanges(ctx); err != nil {
		t.Fatalf("SaveChanges: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := uow.Commit(ctx); !errors.Is(err, repository.ErrNoTransaction) {
		t.Fatalf("expected a second commit to fail, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestUnitOfWork_RollbackIsIdempotent(t *testing.T) {
	mock := newMockPool(t)
	uow := NewUnitOfWork(mock)

	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx, err := uow.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := uow.Begin(ctx); err == nil {
		t.Fatalf("expected nested Begin to fail")
	}
	if err := uow.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := uow.Rollback(ctx); err != nil {
		t.Fatalf("second Rollback must be a no-op, got %v", err)
	}
	if err := uow.SaveChanges(ctx); !errors.Is(err, repository.ErrNoTransaction) {
		t.Fatalf("expected no transaction after rollback, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestUnitOfWork_OutsideTransaction(t *testing.T) {
	uow := NewUnitOfWork(newMockPool(t))
	ctx := context.Background()

	if err := uow.SaveChanges(ctx); !errors.Is(err, repository.ErrNoTransaction) {
		t.Fatalf("SaveChanges: expected no transaction, got %v", err)
	}
	if err := uow.Commit(ctx); !errors.Is(err, repository.ErrNoTransaction) {
		t.Fatalf("Commit: expected no transaction, got %v", err)
	}
	if err := uow.Rollback(ctx); !errors.Is(err, repository.ErrNoTransaction) {
		t.Fatalf("Rollback: expected no transaction, got %v", err)
	}
}
