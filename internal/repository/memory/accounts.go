package memory

import (
	"context"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
)

// AccountRepository implements port.AccountRepository over a Store.
type AccountRepository struct {
	store *Store
}

// NewAccountRepository constructs the repository.
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

// FindByID loads an account.
func (r *AccountRepository) FindByID(_ context.Context, id string) (*domain.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	snap, ok := r.store.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return domain.RestoreAccount(snap), nil
}

// FindByEmail loads an account by normalised e-mail.
func (r *AccountRepository) FindByEmail(_ context.Context, email domain.Email) (*domain.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id, ok := r.store.emails[email]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return domain.RestoreAccount(r.store.accounts[id]), nil
}

// Add inserts a new account, enforcing e-mail uniqueness.
func (r *AccountRepository) Add(ctx context.Context, account *domain.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	snap := account.Snapshot()
	if _, exists := r.store.accounts[snap.ID]; exists {
		return domain.ErrVersionConflict.WithDetail("account_id", snap.ID)
	}
	if _, taken := r.store.emails[snap.Email]; taken {
		return domain.ErrEmailTaken
	}

	r.store.accounts[snap.ID] = snap
	r.store.emails[snap.Email] = snap.ID
	r.store.remember(ctx, accountKey(snap.ID), func() {
		delete(r.store.accounts, snap.ID)
		delete(r.store.emails, snap.Email)
	})
	return nil
}

// Update replaces the stored account if its version still matches.
func (r *AccountRepository) Update(ctx context.Context, account *domain.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	snap := account.Snapshot()
	previous, ok := r.store.accounts[snap.ID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if previous.Version != account.PersistedVersion() {
		return domain.ErrVersionConflict.
			WithDetail("expected_version", account.PersistedVersion()).
			WithDetail("actual_version", previous.Version)
	}

	r.store.accounts[snap.ID] = snap
	r.store.remember(ctx, accountKey(snap.ID), func() {
		r.store.accounts[snap.ID] = previous
	})
	return nil
}

// Remove deletes an account.
func (r *AccountRepository) Remove(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	previous, ok := r.store.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	delete(r.store.accounts, id)
	delete(r.store.emails, previous.Email)
	r.store.remember(ctx, accountKey(id), func() {
		r.store.accounts[id] = previous
		r.store.emails[previous.Email] = id
	})
	return nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
