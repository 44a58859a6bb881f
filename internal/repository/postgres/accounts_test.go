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
)

var accountRowColumns = []string{
	"id", "username", "email", "password_hash", "phone", "status", "failed_login_attempts", "lockout_end",
	"two_factor", "email_verification", "password_reset", "login_history", "merged_into",
	"created_at", "updated_at", "version",
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func expectationsMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestAccountRepository_FindByID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	lockout := created.Add(15 * time.Minute)
	history := []byte(`[{"At":"2026-03-01T09:00:00Z","IP":"198.51.100.7","UserAgent":"curl"}]`)
	status := int64(domain.StatusActive | domain.StatusLocked)

	rows := pgxmock.NewRows(accountRowColumns).AddRow(
		"acc-1", "alice", "alice@example.com", "$argon2id$hash", "+15550101", status, int64(5), lockout,
		[]byte(nil), []byte(nil), []byte(nil), history, nil,
		created, created, int64(7),
	)
	mock.ExpectQuery(`SELECT .* FROM iam\.accounts WHERE id = \$1`).WithArgs("acc-1").WillReturnRows(rows)

	account, err := repo.FindByID(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if account.Email() != "alice@example.com" || account.FailedLoginAttempts() != 5 {
		t.Fatalf("unexpected account %+v", account.Snapshot())
	}
	if !account.IsLocked() || account.LockoutEnd() == nil || !account.LockoutEnd().Equal(lockout) {
		t.Fatalf("expected lockout to round-trip")
	}
	if got := account.LoginHistory(); len(got) != 1 || got[0].IP != "198.51.100.7" {
		t.Fatalf("unexpected login history %+v", got)
	}
	if account.Version() != 7 || account.PersistedVersion() != 7 || account.HasPendingChanges() {
		t.Fatalf("restored account must count as stored at version 7")
	}
	expectationsMet(t, mock)
}

func TestAccountRepository_FindByEmailNotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)

	mock.ExpectQuery(`SELECT .* FROM iam\.accounts WHERE email = \$1`).
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindByEmail(context.Background(), domain.Email("ghost@example.com"))
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestAccountRepository_AddMapsUniqueViolations(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)

	account, err := domain.NewAccount("acc-2", "bob", "bob@example.com", "$argon2id$hash", nil, time.Now())
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	mock.ExpectExec(`INSERT INTO iam\.accounts`).
		WithArgs(anyArgs(len(accountColumns))...).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "accounts_email_key"})
	if err := repo.Add(context.Background(), account); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected e-mail taken, got %v", err)
	}

	mock.ExpectExec(`INSERT INTO iam\.accounts`).
		WithArgs(anyArgs(len(accountColumns))...).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "accounts_pkey"})
	if err := repo.Add(context.Background(), account); !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("expected conflict for duplicate id, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestAccountRepository_UpdateChecksVersion(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	account := domain.RestoreAccount(domain.AccountSnapshot{
		ID:           "acc-3",
		Username:     "carol",
		Email:        "carol@example.com",
		PasswordHash: "$argon2id$hash",
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      4,
	})
	if err := account.RequirePasswordChange(now); err != nil {
		t.Fatalf("RequirePasswordChange: %v", err)
	}

	args := append(anyArgs(len(accountColumns)-2), int64(5), "acc-3", int64(4))
	mock.ExpectExec(`UPDATE iam\.accounts SET .* WHERE id = \$16 AND version = \$17`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.Update(context.Background(), account); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	mock.ExpectExec(`UPDATE iam\.accounts`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT version FROM iam\.accounts WHERE id = \$1`).
		WithArgs("acc-3").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(6)))

	err := repo.Update(context.Background(), account)
	var de *domain.Error
	if !errors.As(err, &de) || !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if de.Details["actual_version"] != int64(6) || de.Details["expected_version"] != int64(4) {
		t.Fatalf("unexpected conflict details %v", de.Details)
	}
	expectationsMet(t, mock)
}

func TestAccountRepository_UpdateMissingAccount(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)
	now := time.Now().UTC()

	account := domain.RestoreAccount(domain.AccountSnapshot{
		ID: "acc-gone", Username: "dave", Email: "dave@example.com", PasswordHash: "h",
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now, Version: 1,
	})

	mock.ExpectExec(`UPDATE iam\.accounts`).
		WithArgs(anyArgs(len(accountColumns)+1)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT version FROM iam\.accounts`).
		WithArgs("acc-gone").
		WillReturnError(pgx.ErrNoRows)

	if err := repo.Update(context.Background(), account); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestAccountRepository_Remove(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAccountRepository(mock)

	mock.ExpectExec(`DELETE FROM iam\.accounts WHERE id = \$1`).
		WithArgs("acc-4").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	if err := repo.Remove(context.Background(), "acc-4"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	expectationsMet(t, mock)
}
