package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/arklim/credential-engine/internal/core/port"
)

// RevocationStore implements port.AccessRevocationStore with expiring in-process entries.
type RevocationStore struct {
	families *gocache.Cache
	subjects *gocache.Cache
}

// NewRevocationStore constructs a store that sweeps expired entries every cleanup interval.
func NewRevocationStore(cleanup time.Duration) *RevocationStore {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &RevocationStore{
		families: gocache.New(gocache.NoExpiration, cleanup),
		subjects: gocache.New(gocache.NoExpiration, cleanup),
	}
}

// RevokeFamily denies the family's access tokens for ttl.
func (s *RevocationStore) RevokeFamily(_ context.Context, familyID, reason string, ttl time.Duration) error {
	familyID = strings.TrimSpace(familyID)
	if familyID == "" {
		return errors.New("family id must not be empty")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	s.families.Set(familyID, reason, ttl)
	return nil
}

// RevokeSubject denies access tokens issued at or before the cut-off.
func (s *RevocationStore) RevokeSubject(_ context.Context, accountID string, before time.Time, ttl time.Duration) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return errors.New("account id must not be empty")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	s.subjects.Set(accountID, before, ttl)
	return nil
}

// IsRevoked checks the family marker, then the subject cut-off.
func (s *RevocationStore) IsRevoked(_ context.Context, claims port.AccessClaims) (bool, string, error) {
	if claims.FamilyID != "" {
		if reason, ok := s.families.Get(claims.FamilyID); ok {
			r, _ := reason.(string)
			return true, r, nil
		}
	}
	if cutoff, ok := s.subjects.Get(claims.Subject); ok {
		if before, _ := cutoff.(time.Time); !claims.IssuedAt.After(before) {
			return true, "sessions_revoked", nil
		}
	}
	return false, "", nil
}

var _ port.AccessRevocationStore = (*RevocationStore)(nil)
