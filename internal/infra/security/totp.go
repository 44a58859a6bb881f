package security

import (
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/arklim/credential-engine/internal/core/domain"
)

// ErrMissingSecret is returned when the shared secret is empty.
var ErrMissingSecret = errors.New("totp secret is required")

// TOTPVerifier checks RFC 6238 codes with a tolerance of Skew periods either side.
type TOTPVerifier struct {
	Period uint
	Skew   uint
	Digits otp.Digits
}

// NewTOTPVerifier returns a verifier with 30 second periods, six digits, and one step of skew.
func NewTOTPVerifier(skew uint) *TOTPVerifier {
	return &TOTPVerifier{Period: 30, Skew: skew, Digits: otp.DigitsSix}
}

func (v *TOTPVerifier) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    v.Period,
		Skew:      v.Skew,
		Digits:    v.Digits,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Verify reports whether code is valid for secret at the given instant.
func (v *TOTPVerifier) Verify(secret, code string, at time.Time) (bool, error) {
	if strings.TrimSpace(secret) == "" {
		return false, ErrMissingSecret
	}
	code = strings.TrimSpace(code)
	if len(code) != v.Digits.Length() {
		return false, nil
	}

	ok, err := totp.ValidateCustom(code, strings.ToUpper(secret), at.UTC(), v.opts())
	if err != nil {
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// Generate produces the code for secret at the given instant.
func (v *TOTPVerifier) Generate(secret string, at time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrMissingSecret
	}
	return totp.GenerateCodeCustom(strings.ToUpper(secret), at.UTC(), v.opts())
}

var _ domain.TwoFactorVerifier = (*TOTPVerifier)(nil)
