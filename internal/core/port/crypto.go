package port

import (
	"time"

	"github.com/arklim/credential-engine/internal/core/domain"
)

// PasswordContext lists account attributes a password must not resemble.
type PasswordContext struct {
	Username string
	Email    string
	Phone    *string
}

// PasswordPolicyValidator enforces password strength requirements.
type PasswordPolicyValidator interface {
	Validate(password string, ctx PasswordContext) error
}

// Argon2Params captures tunable parameters for the Argon2id hashing algorithm.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// ConfigurablePasswordHasher allows runtime adjustment of Argon2id parameters.
type ConfigurablePasswordHasher interface {
	domain.PasswordHasher
	Configure(params Argon2Params) error
	Parameters() Argon2Params
}

// AccessClaims are the verified contents of an access token.
type AccessClaims struct {
	Subject   string
	TokenID   string
	FamilyID  string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessTokenIssuer signs and verifies short-lived access tokens.
type AccessTokenIssuer interface {
	Issue(claims AccessClaims) (string, error)
	Parse(token string) (*AccessClaims, error)
}
