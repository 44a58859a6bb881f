package memory

import (
	"context"
	"time"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
)

// VerificationCodeStore implements port.VerificationCodeStore over a Store.
type VerificationCodeStore struct {
	store *Store
}

// NewVerificationCodeStore constructs the store.
func NewVerificationCodeStore(store *Store) *VerificationCodeStore {
	return &VerificationCodeStore{store: store}
}

func codeKey(subject string, t domain.CodeType) string {
	return string(t) + ":" + subject
}

// Save replaces any outstanding code of the same type for subject.
func (s *VerificationCodeStore) Save(_ context.Context, subject string, code *domain.VerificationCode) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	s.store.codes[codeKey(subject, code.Type())] = code.State()
	return nil
}

// Redeem verifies and records the attempt under the store lock.
func (s *VerificationCodeStore) Redeem(_ context.Context, subject string, codeType domain.CodeType, candidate string, at time.Time) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	key := codeKey(subject, codeType)
	state, ok := s.store.codes[key]
	if !ok {
		return domain.ErrNoPendingCode.WithDetail("type", string(codeType))
	}

	code := domain.RestoreVerificationCode(state)
	err := code.Redeem(candidate, at)
	s.store.codes[key] = code.State()
	return err
}

// Delete discards the outstanding code.
func (s *VerificationCodeStore) Delete(_ context.Context, subject string, codeType domain.CodeType) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	delete(s.store.codes, codeKey(subject, codeType))
	return nil
}

var _ port.VerificationCodeStore = (*VerificationCodeStore)(nil)
