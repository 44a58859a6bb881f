package port

import (
	"context"
	"time"

	"github.com/arklim/credential-engine/internal/core/domain"
)

// TokenRepository stores issued token records by digest.
type TokenRepository interface {
	Create(ctx context.Context, record domain.TokenRecord) error
	GetByHash(ctx context.Context, hash string) (*domain.TokenRecord, error)
	// Consume marks an active record used. Exactly one concurrent caller wins;
	// the rest receive repository.ErrAlreadyConsumed.
	Consume(ctx context.Context, hash string, at time.Time) (*domain.TokenRecord, error)
	RevokeFamily(ctx context.Context, familyID string, reason string, at time.Time) (int, error)
	RevokeForAccount(ctx context.Context, accountID string, reason string, at time.Time) (int, error)
}
