package domain

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	// MinPasswordLength is the minimum number of characters in a password.
	MinPasswordLength = 8
	// MaxPasswordLength bounds hashing cost for hostile input.
	MaxPasswordLength = 128

	maxUsernameLength = 64
)

// Password is a validated plaintext password. It is never persisted.
type Password struct {
	value string
}

// NewPassword validates length bounds; strength policy lives in the validation step.
func NewPassword(plain string) (Password, error) {
	n := utf8.RuneCountInString(plain)
	if n < MinPasswordLength {
		return Password{}, ErrPasswordTooShort.WithDetail("min_length", MinPasswordLength)
	}
	if n > MaxPasswordLength {
		return Password{}, ErrPasswordTooLong.WithDetail("max_length", MaxPasswordLength)
	}
	return Password{value: plain}, nil
}

// Reveal returns the plaintext for hashing.
func (p Password) Reveal() string {
	return p.value
}

// String masks the password in logs and fmt output.
func (p Password) String() string {
	return "********"
}

// PasswordHash is an opaque, non-reversible password digest.
type PasswordHash string

// IsZero reports whether no hash is present.
func (h PasswordHash) IsZero() bool {
	return strings.TrimSpace(string(h)) == ""
}

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// Email is a normalised, case-insensitive e-mail address.
type Email string

// NewEmail trims, lower-cases, and validates an address.
func NewEmail(raw string) (Email, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" || len(normalized) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndex(normalized, "@")
	if at <= 0 || !strings.Contains(normalized[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return Email(normalized), nil
}

// String returns the normalised address.
func (e Email) String() string {
	return string(e)
}

// NormalizeUsername trims and validates a username.
func NormalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
		return "", ErrInvalidUsername
	}
	for _, r := range username {
		if r <= ' ' || r == '@' {
			return "", ErrInvalidUsername
		}
	}
	return username, nil
}
