package security

import (
	"errors"
	"fmt"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
)

const (
	defaultMinPasswordLength   = 10
	defaultMinCharacterClasses = 3
	defaultMinZxcvbnScore      = 3
)

// PasswordPolicyConfig tunes the strength rules.
type PasswordPolicyConfig struct {
	MinLength           int
	MinCharacterClasses int
	MinStrengthScore    int
}

// DefaultPasswordPolicyConfig returns the built-in thresholds.
func DefaultPasswordPolicyConfig() PasswordPolicyConfig {
	return PasswordPolicyConfig{
		MinLength:           defaultMinPasswordLength,
		MinCharacterClasses: defaultMinCharacterClasses,
		MinStrengthScore:    defaultMinZxcvbnScore,
	}
}

// DefaultPasswordValidator returns the validator enforcing length, character class, and zxcvbn strength checks.
func DefaultPasswordValidator() *PasswordValidator {
	return DefaultPasswordPolicyConfig().validator()
}

func (c PasswordPolicyConfig) validator(userInputs ...string) *PasswordValidator {
	return NewPasswordValidator(
		MinLengthRule(c.MinLength),
		MaxLengthRule(domain.MaxPasswordLength),
		RequireCharacterClassesRule(c.MinCharacterClasses),
		RequireNotContainingRule(userInputs...),
		RequirePasswordStrengthRule(c.MinStrengthScore, userInputs...),
	)
}

// PasswordPolicy adapts the validator to port.PasswordPolicyValidator.
type PasswordPolicy struct {
	factory func(inputs []string) *PasswordValidator
}

// NewPasswordPolicy builds a policy that penalises passwords resembling account attributes.
func NewPasswordPolicy(cfg PasswordPolicyConfig) *PasswordPolicy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = domain.MinPasswordLength
	}
	return &PasswordPolicy{
		factory: func(inputs []string) *PasswordValidator {
			return cfg.validator(inputs...)
		},
	}
}

// NewPasswordPolicyFromValidator wraps an existing validator without contextual checks.
func NewPasswordPolicyFromValidator(validator *PasswordValidator) *PasswordPolicy {
	if validator == nil {
		validator = DefaultPasswordValidator()
	}
	return &PasswordPolicy{
		factory: func(_ []string) *PasswordValidator {
			return validator
		},
	}
}

// Validate returns a validation-kind domain error naming the violated rule.
func (p *PasswordPolicy) Validate(password string, ctx port.PasswordContext) error {
	if p == nil || p.factory == nil {
		return fmt.Errorf("password policy not configured")
	}

	inputs := make([]string, 0, 3)
	if ctx.Username != "" {
		inputs = append(inputs, ctx.Username)
	}
	if ctx.Email != "" {
		inputs = append(inputs, ctx.Email)
	}
	if ctx.Phone != nil && *ctx.Phone != "" {
		inputs = append(inputs, *ctx.Phone)
	}

	err := p.factory(inputs).Validate(password)
	if err == nil {
		return nil
	}

	var violation *PasswordValidationError
	if errors.As(err, &violation) {
		return domain.NewError(domain.KindValidation, "password_"+violation.Code, violation.Message)
	}
	return err
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)
