package domain

import (
	"crypto/subtle"
	"strings"
	"time"
)

// CodeType identifies what a verification code proves.
type CodeType string

const (
	CodeEmailVerification CodeType = "email_verification"
	CodePhoneVerification CodeType = "phone_verification"
	CodeTwoFactor         CodeType = "two_factor"
	CodePasswordReset     CodeType = "password_reset"
	CodeLoginChallenge    CodeType = "login_challenge"
)

const (
	// DefaultCodeMaxAttempts caps guesses per code.
	DefaultCodeMaxAttempts = 3
	// DefaultCodeLength is used when a type has no specific policy.
	DefaultCodeLength = 6
	// DefaultCodeValidity is used when a type has no specific policy.
	DefaultCodeValidity = 10 * time.Minute

	minCodeLength = 4
	maxCodeLength = 32

	numericAlphabet      = "0123456789"
	alphanumericAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// CodePolicy describes how codes of one type are generated.
type CodePolicy struct {
	Length       int
	Validity     time.Duration
	Alphanumeric bool
}

var codePolicies = map[CodeType]CodePolicy{
	CodeEmailVerification: {Length: 6, Validity: 24 * time.Hour},
	CodePhoneVerification: {Length: 6, Validity: 10 * time.Minute},
	CodeTwoFactor:         {Length: 6, Validity: 5 * time.Minute},
	CodePasswordReset:     {Length: 8, Validity: time.Hour, Alphanumeric: true},
	CodeLoginChallenge:    {Length: 6, Validity: 10 * time.Minute},
}

// PolicyFor returns the generation policy for a code type.
func PolicyFor(t CodeType) CodePolicy {
	if p, ok := codePolicies[t]; ok {
		return p
	}
	return CodePolicy{Length: DefaultCodeLength, Validity: DefaultCodeValidity}
}

// VerificationCode is a short-lived, attempt-limited, single-use secret.
type VerificationCode struct {
	value       string
	codeType    CodeType
	createdAt   time.Time
	expiresAt   time.Time
	attempts    int
	maxAttempts int
	used        bool
	usedAt      *time.Time
}

// GenerateNumeric produces a random digit code.
func GenerateNumeric(random RandomSource, t CodeType, length int, validity time.Duration, now time.Time) (*VerificationCode, error) {
	return generateCode(random, t, length, validity, now, numericAlphabet)
}

// GenerateAlphanumeric produces a random upper-case alphanumeric code.
func GenerateAlphanumeric(random RandomSource, t CodeType, length int, validity time.Duration, now time.Time) (*VerificationCode, error) {
	return generateCode(random, t, length, validity, now, alphanumericAlphabet)
}

// GenerateForType applies the type's policy.
func GenerateForType(random RandomSource, t CodeType, now time.Time) (*VerificationCode, error) {
	p := PolicyFor(t)
	if p.Alphanumeric {
		return GenerateAlphanumeric(random, t, p.Length, p.Validity, now)
	}
	return GenerateNumeric(random, t, p.Length, p.Validity, now)
}

func generateCode(random RandomSource, t CodeType, length int, validity time.Duration, now time.Time, alphabet string) (*VerificationCode, error) {
	if length == 0 {
		length = PolicyFor(t).Length
	}
	if validity <= 0 {
		validity = PolicyFor(t).Validity
	}
	if length < minCodeLength || length > maxCodeLength {
		return nil, ErrInvalidCodeLength.WithDetail("length", length)
	}

	value, err := randomString(random, alphabet, length)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	return &VerificationCode{
		value:       value,
		codeType:    t,
		createdAt:   now,
		expiresAt:   now.Add(validity),
		maxAttempts: DefaultCodeMaxAttempts,
	}, nil
}

// randomString draws uniformly from alphabet using rejection sampling.
func randomString(random RandomSource, alphabet string, length int) (string, error) {
	n := len(alphabet)
	limit := 256 - 256%n
	out := make([]byte, 0, length)
	for len(out) < length {
		buf, err := readRandom(random, length-len(out)+8)
		if err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%n])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// VerificationCodeState is the persisted form of a code.
type VerificationCodeState struct {
	Value       string
	Type        CodeType
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	Used        bool
	UsedAt      *time.Time
}

// RestoreVerificationCode rebuilds a code loaded from storage.
func RestoreVerificationCode(s VerificationCodeState) *VerificationCode {
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultCodeMaxAttempts
	}
	return &VerificationCode{
		value:       s.Value,
		codeType:    s.Type,
		createdAt:   s.CreatedAt.UTC(),
		expiresAt:   s.ExpiresAt.UTC(),
		attempts:    s.Attempts,
		maxAttempts: maxAttempts,
		used:        s.Used,
		usedAt:      copyTime(s.UsedAt),
	}
}

// State exports the code for storage.
func (c *VerificationCode) State() VerificationCodeState {
	return VerificationCodeState{
		Value:       c.value,
		Type:        c.codeType,
		CreatedAt:   c.createdAt,
		ExpiresAt:   c.expiresAt,
		Attempts:    c.attempts,
		MaxAttempts: c.maxAttempts,
		Used:        c.used,
		UsedAt:      copyTime(c.usedAt),
	}
}

// WithMaxAttempts overrides the attempt budget of a freshly generated code.
func (c *VerificationCode) WithMaxAttempts(n int) *VerificationCode {
	if n > 0 && c.attempts == 0 {
		c.maxAttempts = n
	}
	return c
}

func (c *VerificationCode) Value() string { return c.value }
func (c *VerificationCode) Type() CodeType { return c.codeType }
func (c *VerificationCode) CreatedAt() time.Time { return c.createdAt }
func (c *VerificationCode) ExpiresAt() time.Time { return c.expiresAt }
func (c *VerificationCode) AttemptCount() int { return c.attempts }
func (c *VerificationCode) MaxAttempts() int { return c.maxAttempts }
func (c *VerificationCode) IsUsed() bool { return c.used }
func (c *VerificationCode) UsedAt() *time.Time { return copyTime(c.usedAt) }

// IsExpired reports whether the validity window has passed.
func (c *VerificationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.expiresAt)
}

// IsValid reports whether the code can still be redeemed.
func (c *VerificationCode) IsValid(now time.Time) bool {
	return c.Check(now) == nil
}

// Check returns the typed reason the code cannot be redeemed, or nil.
func (c *VerificationCode) Check(now time.Time) error {
	switch {
	case c.used:
		return ErrCodeUsed
	case c.IsExpired(now):
		return ErrCodeExpired
	case c.attempts >= c.maxAttempts:
		return ErrCodeExhausted
	}
	return nil
}

// RemainingAttempts reports how many guesses are left.
func (c *VerificationCode) RemainingAttempts() int {
	if c.used {
		return 0
	}
	if left := c.maxAttempts - c.attempts; left > 0 {
		return left
	}
	return 0
}

// Verify consumes one attempt and marks the code used on a match.
// An invalid code is left untouched and always fails.
func (c *VerificationCode) Verify(candidate string, now time.Time) bool {
	if !c.IsValid(now) {
		return false
	}
	c.attempts++

	expected := []byte(strings.ToUpper(c.value))
	given := []byte(strings.ToUpper(strings.TrimSpace(candidate)))
	if subtle.ConstantTimeCompare(expected, given) != 1 {
		return false
	}

	at := now.UTC()
	c.used = true
	c.usedAt = &at
	return true
}

// Redeem wraps Verify with a typed failure explaining the rejection.
func (c *VerificationCode) Redeem(candidate string, now time.Time) error {
	if err := c.Check(now); err != nil {
		return err
	}
	if c.Verify(candidate, now) {
		return nil
	}
	if c.attempts >= c.maxAttempts {
		return ErrCodeExhausted
	}
	return ErrCodeMismatch.WithDetail("remaining_attempts", c.RemainingAttempts())
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
