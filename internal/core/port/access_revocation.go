package port

import (
	"context"
	"time"
)

// AccessRevocationStore denies still-unexpired access tokens after their
// refresh family or their account's sessions were revoked. Entries only
// need to live as long as the access token lifetime.
type AccessRevocationStore interface {
	RevokeFamily(ctx context.Context, familyID, reason string, ttl time.Duration) error
	RevokeSubject(ctx context.Context, accountID string, before time.Time, ttl time.Duration) error
	IsRevoked(ctx context.Context, claims AccessClaims) (bool, string, error)
}
