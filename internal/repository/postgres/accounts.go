package postgres

import (
	"context"
	"database/sql"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
)

const accountsTable = "iam.accounts"

var accountColumns = []string{
	"id",
	"username",
	"email",
	"password_hash",
	"phone",
	"status",
	"failed_login_attempts",
	"lockout_end",
	"two_factor",
	"email_verification",
	"password_reset",
	"login_history",
	"merged_into",
	"created_at",
	"updated_at",
	"version",
}

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db      DB
	builder squirrel.StatementBuilderType
}

// NewAccountRepository wires a PostgreSQL-backed account repository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db, builder: newBuilder()}
}

// FindByID retrieves an account by identifier.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}
	return r.scanOne(conn(ctx, r.db).QueryRow(ctx, stmt, args...))
}

// FindByEmail retrieves an account by normalised e-mail.
func (r *AccountRepository) FindByEmail(ctx context.Context, email domain.Email) (*domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"email": string(email)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by email sql: %w", err)
	}
	return r.scanOne(conn(ctx, r.db).QueryRow(ctx, stmt, args...))
}

// Add inserts a new account row.
func (r *AccountRepository) Add(ctx context.Context, account *domain.Account) error {
	snap := account.Snapshot()
	values, err := accountValues(snap)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert(accountsTable).
		Columns(accountColumns...).
		Values(values...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := conn(ctx, r.db).Exec(ctx, stmt, args...); err != nil {
		if code, constraint := pgErrorCode(err); code == pgUniqueViolation {
			if constraint == "accounts_email_key" {
				return domain.ErrEmailTaken
			}
			return domain.ErrVersionConflict.WithDetail("account_id", snap.ID)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Update writes the account only if the stored version still equals the
// version it was loaded with.
func (r *AccountRepository) Update(ctx context.Context, account *domain.Account) error {
	snap := account.Snapshot()
	values, err := accountValues(snap)
	if err != nil {
		return err
	}

	query := r.builder.Update(accountsTable)
	// id is the first column and stays in the WHERE clause.
	for i, column := range accountColumns[1:] {
		query = query.Set(column, values[i+1])
	}
	stmt, args, err := query.
		Where(squirrel.Eq{"id": snap.ID, "version": account.PersistedVersion()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update account sql: %w", err)
	}

	exec := conn(ctx, r.db)
	tag, err := exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var actual int64
	err = exec.QueryRow(ctx, "SELECT version FROM iam.accounts WHERE id = $1", snap.ID).Scan(&actual)
	if err != nil {
		if isNoRows(err) {
			return domain.ErrAccountNotFound
		}
		return fmt.Errorf("read account version: %w", err)
	}
	return domain.ErrVersionConflict.
		WithDetail("expected_version", account.PersistedVersion()).
		WithDetail("actual_version", actual)
}

// Remove deletes an account row.
func (r *AccountRepository) Remove(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete(accountsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete account sql: %w", err)
	}

	tag, err := conn(ctx, r.db).Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func accountValues(snap domain.AccountSnapshot) ([]any, error) {
	twoFactor, err := marshalJSON(snap.TwoFactor)
	if err != nil {
		return nil, err
	}
	emailVerification, err := marshalJSON(snap.EmailVerification)
	if err != nil {
		return nil, err
	}
	passwordReset, err := marshalJSON(snap.PasswordReset)
	if err != nil {
		return nil, err
	}
	history, err := marshalJSON(snap.LoginHistory)
	if err != nil {
		return nil, err
	}

	return []any{
		snap.ID,
		snap.Username,
		string(snap.Email),
		string(snap.PasswordHash),
		optionalString(snap.Phone),
		int64(snap.Status),
		int64(snap.FailedLoginAttempts),
		optionalTime(snap.LockoutEnd),
		twoFactor,
		emailVerification,
		passwordReset,
		history,
		optionalText(snap.MergedInto),
		snap.CreatedAt.UTC(),
		snap.UpdatedAt.UTC(),
		snap.Version,
	}, nil
}

func (r *AccountRepository) scanOne(row pgx.Row) (*domain.Account, error) {
	var (
		snap              domain.AccountSnapshot
		email             string
		passwordHash      string
		phone             sql.NullString
		status            int64
		failedAttempts    int64
		lockoutEnd        sql.NullTime
		twoFactor         []byte
		emailVerification []byte
		passwordReset     []byte
		history           []byte
		mergedInto        sql.NullString
	)

	if err := row.Scan(
		&snap.ID,
		&snap.Username,
		&email,
		&passwordHash,
		&phone,
		&status,
		&failedAttempts,
		&lockoutEnd,
		&twoFactor,
		&emailVerification,
		&passwordReset,
		&history,
		&mergedInto,
		&snap.CreatedAt,
		&snap.UpdatedAt,
		&snap.Version,
	); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	snap.Email = domain.Email(email)
	snap.PasswordHash = domain.PasswordHash(passwordHash)
	snap.Phone = nullableStringPtr(phone)
	snap.Status = domain.AccountStatus(status)
	snap.FailedLoginAttempts = int(failedAttempts)
	snap.LockoutEnd = nullableTimePtr(lockoutEnd)
	if mergedInto.Valid {
		snap.MergedInto = mergedInto.String
	}

	if err := unmarshalJSON(twoFactor, &snap.TwoFactor); err != nil {
		return nil, fmt.Errorf("decode two-factor key: %w", err)
	}
	if err := unmarshalJSON(emailVerification, &snap.EmailVerification); err != nil {
		return nil, fmt.Errorf("decode e-mail verification: %w", err)
	}
	if err := unmarshalJSON(passwordReset, &snap.PasswordReset); err != nil {
		return nil, fmt.Errorf("decode password reset: %w", err)
	}
	if err := unmarshalJSON(history, &snap.LoginHistory); err != nil {
		return nil, fmt.Errorf("decode login history: %w", err)
	}

	return domain.RestoreAccount(snap), nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
