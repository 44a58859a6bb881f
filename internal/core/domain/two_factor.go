package domain

import (
	"encoding/base32"
	"net/url"
	"strings"
	"time"

	uuid "github.com/google/uuid"
)

const twoFactorSecretBytes = 20

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TwoFactorVerifier checks a one-time password against a shared secret.
type TwoFactorVerifier interface {
	Verify(secret string, code string, at time.Time) (bool, error)
}

// TwoFactorSecretKey is a TOTP shared secret. Transitions return successors.
type TwoFactorSecretKey struct {
	ID          string
	Secret      string
	Issuer      string
	CreatedAt   time.Time
	Active      bool
	ActivatedAt *time.Time
	LastUsedAt  *time.Time
}

// GenerateTwoFactorSecret creates an inactive key from 20 random bytes.
func GenerateTwoFactorSecret(random RandomSource, issuer string, now time.Time) (TwoFactorSecretKey, error) {
	raw, err := readRandom(random, twoFactorSecretBytes)
	if err != nil {
		return TwoFactorSecretKey{}, err
	}
	return TwoFactorSecretKey{
		ID:        uuid.NewString(),
		Secret:    secretEncoding.EncodeToString(raw),
		Issuer:    strings.TrimSpace(issuer),
		CreatedAt: now.UTC(),
	}, nil
}

// Activate returns the key marked active at now.
func (k TwoFactorSecretKey) Activate(now time.Time) TwoFactorSecretKey {
	at := now.UTC()
	k.Active = true
	k.ActivatedAt = &at
	return k
}

// Deactivate returns the key marked inactive.
func (k TwoFactorSecretKey) Deactivate() TwoFactorSecretKey {
	k.Active = false
	return k
}

// RecordUsage returns the key with its last use stamped.
func (k TwoFactorSecretKey) RecordUsage(now time.Time) TwoFactorSecretKey {
	at := now.UTC()
	k.LastUsedAt = &at
	return k
}

// IsUsable reports whether codes may be checked against the key.
func (k TwoFactorSecretKey) IsUsable() bool {
	return k.Active && k.Secret != ""
}

// ProvisioningURI renders the otpauth URI consumed by authenticator apps.
func (k TwoFactorSecretKey) ProvisioningURI(accountName string) string {
	label := accountName
	if k.Issuer != "" {
		label = k.Issuer + ":" + accountName
	}
	q := url.Values{}
	q.Set("secret", k.Secret)
	if k.Issuer != "" {
		q.Set("issuer", k.Issuer)
	}
	q.Set("algorithm", "SHA1")
	q.Set("digits", "6")
	q.Set("period", "30")
	return "otpauth://totp/" + url.PathEscape(label) + "?" + q.Encode()
}
