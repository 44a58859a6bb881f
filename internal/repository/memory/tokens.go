package memory

import (
	"context"
	"time"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/repository"
)

// TokenRepository implements port.TokenRepository over a Store.
type TokenRepository struct {
	store *Store
}

// NewTokenRepository constructs the repository.
func NewTokenRepository(store *Store) *TokenRepository {
	return &TokenRepository{store: store}
}

// Create stores a new record keyed by its digest.
func (r *TokenRepository) Create(ctx context.Context, record domain.TokenRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.tokens[record.TokenHash]; exists {
		return domain.NewError(domain.KindConflict, "token_exists", "token already recorded")
	}
	r.store.tokens[record.TokenHash] = record
	r.store.remember(ctx, tokenKey(record.TokenHash), func() {
		delete(r.store.tokens, record.TokenHash)
	})
	return nil
}

// GetByHash returns the record for a digest.
func (r *TokenRepository) GetByHash(_ context.Context, hash string) (*domain.TokenRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	record, ok := r.store.tokens[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &record, nil
}

// Consume marks the record used if it is still active.
func (r *TokenRepository) Consume(ctx context.Context, hash string, at time.Time) (*domain.TokenRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	record, ok := r.store.tokens[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	previous := record
	if !record.IsActive(at) {
		return &previous, repository.ErrAlreadyConsumed
	}

	record.MarkUsed(at)
	r.store.tokens[hash] = record
	r.store.remember(ctx, tokenKey(hash), func() {
		r.store.tokens[hash] = previous
	})
	return &record, nil
}

// RevokeFamily revokes every unrevoked record of a family.
func (r *TokenRepository) RevokeFamily(ctx context.Context, familyID string, reason string, at time.Time) (int, error) {
	return r.revokeWhere(ctx, reason, at, func(rec domain.TokenRecord) bool {
		return rec.FamilyID == familyID
	})
}

// RevokeForAccount revokes every unrevoked record of an account.
func (r *TokenRepository) RevokeForAccount(ctx context.Context, accountID string, reason string, at time.Time) (int, error) {
	return r.revokeWhere(ctx, reason, at, func(rec domain.TokenRecord) bool {
		return rec.AccountID == accountID
	})
}

func (r *TokenRepository) revokeWhere(ctx context.Context, reason string, at time.Time, match func(domain.TokenRecord) bool) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	count := 0
	for hash, record := range r.store.tokens {
		if !match(record) {
			continue
		}
		previous := record
		if !record.Revoke(at, reason) {
			continue
		}
		r.store.tokens[hash] = record
		h := hash
		r.store.remember(ctx, tokenKey(h), func() {
			r.store.tokens[h] = previous
		})
		count++
	}
	return count, nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)
