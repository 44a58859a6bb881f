package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/repository"
)

const tokensTable = "iam.tokens"

var tokenColumns = []string{
	"id",
	"account_id",
	"token_hash",
	"token_type",
	"family_id",
	"issued_at",
	"expires_at",
	"used_at",
	"revoked_at",
	"revoke_reason",
	"metadata",
}

// TokenRepository implements port.TokenRepository using PostgreSQL tables.
type TokenRepository struct {
	db      DB
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a new token repository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db, builder: newBuilder()}
}

// Create inserts a token record.
func (r *TokenRepository) Create(ctx context.Context, record domain.TokenRecord) error {
	metadata, err := marshalMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("prepare token metadata: %w", err)
	}

	stmt, args, err := r.builder.Insert(tokensTable).
		Columns(tokenColumns...).
		Values(
			record.ID,
			record.AccountID,
			record.TokenHash,
			string(record.Type),
			optionalText(record.FamilyID),
			record.IssuedAt.UTC(),
			optionalTime(record.ExpiresAt),
			optionalTime(record.UsedAt),
			optionalTime(record.RevokedAt),
			optionalText(record.RevokeReason),
			metadata,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert token sql: %w", err)
	}

	if _, err := conn(ctx, r.db).Exec(ctx, stmt, args...); err != nil {
		if code, _ := pgErrorCode(err); code == pgUniqueViolation {
			return domain.NewError(domain.KindConflict, "token_exists", "token already recorded")
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetByHash retrieves a token record by its digest.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*domain.TokenRecord, error) {
	stmt, args, err := r.builder.Select(tokenColumns...).
		From(tokensTable).
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select token sql: %w", err)
	}
	return scanToken(conn(ctx, r.db).QueryRow(ctx, stmt, args...))
}

// Consume marks the record used with a conditional update, so only one
// concurrent caller observes a returned row.
func (r *TokenRepository) Consume(ctx context.Context, hash string, at time.Time) (*domain.TokenRecord, error) {
	at = at.UTC()
	stmt, args, err := r.builder.Update(tokensTable).
		Set("used_at", at).
		Where(squirrel.Eq{"token_hash": hash, "used_at": nil, "revoked_at": nil}).
		Where(squirrel.Or{
			squirrel.Eq{"expires_at": nil},
			squirrel.Gt{"expires_at": at},
		}).
		Suffix("RETURNING " + strings.Join(tokenColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build consume token sql: %w", err)
	}

	record, err := scanToken(conn(ctx, r.db).QueryRow(ctx, stmt, args...))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	current, err := r.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return current, repository.ErrAlreadyConsumed
}

// RevokeFamily revokes every unrevoked record of a family.
func (r *TokenRepository) RevokeFamily(ctx context.Context, familyID string, reason string, at time.Time) (int, error) {
	return r.revokeWhere(ctx, squirrel.Eq{"family_id": familyID}, reason, at)
}

// RevokeForAccount revokes every unrevoked record of an account.
func (r *TokenRepository) RevokeForAccount(ctx context.Context, accountID string, reason string, at time.Time) (int, error) {
	return r.revokeWhere(ctx, squirrel.Eq{"account_id": accountID}, reason, at)
}

func (r *TokenRepository) revokeWhere(ctx context.Context, match squirrel.Eq, reason string, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update(tokensTable).
		Set("revoked_at", at.UTC()).
		Set("revoke_reason", optionalText(reason)).
		Where(match).
		Where(squirrel.Eq{"revoked_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke tokens sql: %w", err)
	}

	tag, err := conn(ctx, r.db).Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanToken(row pgx.Row) (*domain.TokenRecord, error) {
	var (
		record       domain.TokenRecord
		tokenType    string
		familyID     sql.NullString
		expiresAt    sql.NullTime
		usedAt       sql.NullTime
		revokedAt    sql.NullTime
		revokeReason sql.NullString
		metadata     []byte
	)

	if err := row.Scan(
		&record.ID,
		&record.AccountID,
		&record.TokenHash,
		&tokenType,
		&familyID,
		&record.IssuedAt,
		&expiresAt,
		&usedAt,
		&revokedAt,
		&revokeReason,
		&metadata,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}

	record.Type = domain.TokenType(tokenType)
	record.IssuedAt = record.IssuedAt.UTC()
	if familyID.Valid {
		record.FamilyID = familyID.String
	}
	record.ExpiresAt = nullableTimePtr(expiresAt)
	record.UsedAt = nullableTimePtr(usedAt)
	record.RevokedAt = nullableTimePtr(revokedAt)
	if revokeReason.Valid {
		record.RevokeReason = revokeReason.String
	}

	meta, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	record.Metadata = meta
	return &record, nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)
