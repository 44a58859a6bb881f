package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// TokenType enumerates bearer credential purposes.
type TokenType string

const (
	TokenAccess            TokenType = "access"
	TokenRefresh           TokenType = "refresh"
	TokenEmailVerification TokenType = "email_verification"
	TokenPasswordReset     TokenType = "password_reset"
	TokenTwoFactor         TokenType = "two_factor"
	TokenAPIKey            TokenType = "api_key"
	TokenSession           TokenType = "session"
	TokenLoginChallenge    TokenType = "login_challenge"
)

const (
	minTokenLength = 16
	maxTokenLength = 512

	urlSafeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
)

// allowsNonExpiring lists the long-lived key types that may omit an expiry.
func (t TokenType) allowsNonExpiring() bool {
	return t == TokenAPIKey
}

// Token is an opaque bearer credential. Values are immutable.
type Token struct {
	value     string
	tokenType TokenType
	issuedAt  time.Time
	expiresAt *time.Time
}

// NewToken wraps existing token material after validating its shape.
func NewToken(value string, t TokenType, issuedAt time.Time, expiresAt *time.Time) (Token, error) {
	if len(value) < minTokenLength || len(value) > maxTokenLength {
		return Token{}, ErrInvalidTokenValue
	}
	for i := 0; i < len(value); i++ {
		if !isURLSafe(value[i]) {
			return Token{}, ErrInvalidTokenValue
		}
	}
	if expiresAt == nil && !t.allowsNonExpiring() {
		return Token{}, ErrNonExpiringNotAllowed
	}
	return Token{value: value, tokenType: t, issuedAt: issuedAt.UTC(), expiresAt: utcCopy(expiresAt)}, nil
}

// GenerateToken produces length random URL-safe characters valid for validity.
func GenerateToken(random RandomSource, t TokenType, length int, validity time.Duration, now time.Time) (Token, error) {
	if validity <= 0 {
		return Token{}, ErrNonExpiringNotAllowed
	}
	value, err := randomToken(random, length)
	if err != nil {
		return Token{}, err
	}
	now = now.UTC()
	expires := now.Add(validity)
	return Token{value: value, tokenType: t, issuedAt: now, expiresAt: &expires}, nil
}

// GenerateNonExpiringToken produces a token without expiry for key types that opt in.
func GenerateNonExpiringToken(random RandomSource, t TokenType, length int, now time.Time) (Token, error) {
	if !t.allowsNonExpiring() {
		return Token{}, ErrNonExpiringNotAllowed
	}
	value, err := randomToken(random, length)
	if err != nil {
		return Token{}, err
	}
	return Token{value: value, tokenType: t, issuedAt: now.UTC()}, nil
}

func randomToken(random RandomSource, length int) (string, error) {
	if length < minTokenLength || length > maxTokenLength {
		return "", ErrInvalidTokenValue.WithDetail("length", length)
	}
	// 64 symbols divide 256 evenly, so masking the low six bits is unbiased.
	buf, err := readRandom(random, length)
	if err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = urlSafeAlphabet[b&63]
	}
	return string(buf), nil
}

func isURLSafe(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		return true
	}
	return false
}

func (t Token) Value() string { return t.value }
func (t Token) Type() TokenType { return t.tokenType }
func (t Token) IssuedAt() time.Time { return t.issuedAt }
func (t Token) ExpiresAt() *time.Time { return utcCopy(t.expiresAt) }
func (t Token) IsZero() bool { return t.value == "" }

// IsValid reports whether the token is unexpired at now.
func (t Token) IsValid(now time.Time) bool {
	return t.value != "" && (t.expiresAt == nil || now.Before(*t.expiresAt))
}

// Expire returns a successor whose validity ends at now.
func (t Token) Expire(now time.Time) Token {
	at := now.UTC()
	t.expiresAt = &at
	return t
}

// Hash returns the at-rest digest of the token.
func (t Token) Hash() string {
	return HashTokenValue(t.value)
}

// Digest captures what the account keeps for a pending token.
func (t Token) Digest() TokenDigest {
	d := TokenDigest{Type: t.tokenType, Hash: t.Hash(), IssuedAt: t.issuedAt}
	if t.expiresAt != nil {
		d.ExpiresAt = *t.expiresAt
	}
	return d
}

// HashTokenValue calculates the SHA-256 hex digest of a raw token.
func HashTokenValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// TokenDigest is a stored, non-reversible reference to an issued token.
type TokenDigest struct {
	Type      TokenType
	Hash      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Matches compares a raw token against the digest in constant time.
func (d TokenDigest) Matches(raw string) bool {
	given := HashTokenValue(raw)
	return subtle.ConstantTimeCompare([]byte(d.Hash), []byte(given)) == 1
}

// Check validates purpose, expiry, and value, in that order.
func (d TokenDigest) Check(t TokenType, raw string, now time.Time) error {
	if d.Type != t {
		return ErrTokenMismatch
	}
	if !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt) {
		return ErrTokenExpired
	}
	if !d.Matches(raw) {
		return ErrTokenMismatch
	}
	return nil
}

func utcCopy(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// TokenRecord is a persisted token reference with rotation support.
type TokenRecord struct {
	ID           string
	AccountID    string
	TokenHash    string
	Type         TokenType
	FamilyID     string
	IssuedAt     time.Time
	ExpiresAt    *time.Time
	UsedAt       *time.Time
	RevokedAt    *time.Time
	RevokeReason string
	Metadata     map[string]any
}

// NewTokenRecord describes a freshly issued token for storage.
func NewTokenRecord(id, accountID, familyID string, t Token) TokenRecord {
	return TokenRecord{
		ID:        id,
		AccountID: accountID,
		TokenHash: t.Hash(),
		Type:      t.Type(),
		FamilyID:  familyID,
		IssuedAt:  t.IssuedAt(),
		ExpiresAt: t.ExpiresAt(),
	}
}

// IsExpired reports whether the token has elapsed its validity window.
func (r TokenRecord) IsExpired(at time.Time) bool {
	return r.ExpiresAt != nil && !at.Before(*r.ExpiresAt)
}

// IsRevoked reports whether the token has been explicitly revoked.
func (r TokenRecord) IsRevoked() bool {
	return r.RevokedAt != nil
}

// IsActive returns true when the token can still be presented.
func (r TokenRecord) IsActive(at time.Time) bool {
	if r.IsRevoked() || r.UsedAt != nil {
		return false
	}
	return !r.IsExpired(at)
}

// MarkUsed records the moment the token was exchanged.
// Returns true if the token was previously unused.
func (r *TokenRecord) MarkUsed(at time.Time) bool {
	if r.UsedAt != nil {
		return false
	}
	timeCopy := at.UTC()
	r.UsedAt = &timeCopy
	return true
}

// Revoke marks the token as revoked.
// Returns true if the token transitioned to the revoked state.
func (r *TokenRecord) Revoke(at time.Time, reason string) bool {
	if r.RevokedAt != nil {
		return false
	}
	timeCopy := at.UTC()
	r.RevokedAt = &timeCopy
	r.RevokeReason = reason
	return true
}
