package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/credential-engine/internal/core/port"
)

const defaultRevocationPrefix = "revoked"

// RevocationRepository keeps access-token revocation markers in Redis.
// Family markers hold the reason; subject markers hold a unix-nano cut-off.
type RevocationRepository struct {
	client *red.Client
	prefix string
}

// NewRevocationRepository wires a Redis client into a revocation repository.
func NewRevocationRepository(client *red.Client, keyPrefix string) *RevocationRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}

	return &RevocationRepository{client: client, prefix: prefix}
}

// RevokeFamily marks every access token of the family revoked for ttl.
func (r *RevocationRepository) RevokeFamily(ctx context.Context, familyID, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	key := r.key("family", familyID)
	if key == "" {
		return errors.New("family id must not be empty")
	}

	if err := r.client.Set(ctx, key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked family: %w", err)
	}
	return nil
}

// RevokeSubject denies access tokens of the account issued at or before the cut-off.
func (r *RevocationRepository) RevokeSubject(ctx context.Context, accountID string, before time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	key := r.key("subject", accountID)
	if key == "" {
		return errors.New("account id must not be empty")
	}

	if err := r.client.Set(ctx, key, strconv.FormatInt(before.UnixNano(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked subject: %w", err)
	}
	return nil
}

// IsRevoked checks the family marker first, then the subject cut-off.
func (r *RevocationRepository) IsRevoked(ctx context.Context, claims port.AccessClaims) (bool, string, error) {
	if key := r.key("family", claims.FamilyID); key != "" {
		reason, err := r.client.Get(ctx, key).Result()
		switch {
		case err == nil:
			return true, reason, nil
		case !errors.Is(err, red.Nil):
			return false, "", fmt.Errorf("redis get revoked family: %w", err)
		}
	}

	key := r.key("subject", claims.Subject)
	if key == "" {
		return false, "", errors.New("subject must not be empty")
	}
	raw, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("redis get revoked subject: %w", err)
	}

	cutoff, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, "", fmt.Errorf("parse subject cut-off: %w", err)
	}
	if !claims.IssuedAt.After(time.Unix(0, cutoff)) {
		return true, "sessions_revoked", nil
	}
	return false, "", nil
}

func (r *RevocationRepository) key(kind, id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", r.prefix, kind, trimmed)
}

var _ port.AccessRevocationStore = (*RevocationRepository)(nil)
