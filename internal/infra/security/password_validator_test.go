package security

import (
	"errors"
	"strings"
	"testing"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
)

func TestDefaultPasswordValidatorSuccess(t *testing.T) {
	validator := DefaultPasswordValidator()

	password := "C0mplex!Passphrase#2025"
	if strength := zxcvbn.PasswordStrength(password, nil); strength.Score < defaultMinZxcvbnScore {
		t.Fatalf("test password unexpectedly weak: score=%d", strength.Score)
	}
	if err := validator.Validate(password); err != nil {
		t.Fatalf("expected password to pass validation, got %v", err)
	}
}

func TestDefaultPasswordValidatorViolations(t *testing.T) {
	validator := DefaultPasswordValidator()

	assertViolation := func(password, expectedCode string) {
		err := validator.Validate(password)
		if err == nil {
			t.Fatalf("expected validation error for %s", expectedCode)
		}
		var vErr *PasswordValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected PasswordValidationError, got %T", err)
		}
		if vErr.Code != expectedCode {
			t.Fatalf("expected %s code, got %s", expectedCode, vErr.Code)
		}
	}

	assertViolation("Short1!", "min_length")
	assertViolation("lowercasepassword", "character_classes")
	assertViolation("Password123", "weak_password")
}

func TestCustomPasswordValidator(t *testing.T) {
	validator := NewPasswordValidator(
		MinLengthRule(4),
		RequireSymbolRule(),
		RequireDifferentFrom("existing"),
	)

	if err := validator.Validate("existing"); err == nil {
		t.Fatalf("expected validation error when new password equals comparator")
	}

	if err := validator.Validate("diff"); err == nil {
		t.Fatalf("expected validation error for missing symbol")
	}

	if err := validator.Validate("diff!"); err != nil {
		t.Fatalf("expected password to pass custom validation, got %v", err)
	}
}

func TestPasswordPolicyRejectsAccountDetails(t *testing.T) {
	policy := NewPasswordPolicy(DefaultPasswordPolicyConfig())

	err := policy.Validate("Janedoe!Quartz#2025", port.PasswordContext{Username: "janedoe", Email: "jane@example.com"})
	if err == nil {
		t.Fatalf("expected password containing the username to be rejected")
	}
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation kind, got %v", err)
	}
	var de *domain.Error
	if !errors.As(err, &de) || de.Code != "password_personal_information" {
		t.Fatalf("expected password_personal_information, got %v", err)
	}

	if err := policy.Validate("C0mplex!Passphrase#2025", port.PasswordContext{Username: "janedoe"}); err != nil {
		t.Fatalf("expected unrelated strong password to pass, got %v", err)
	}
}

func TestPasswordPolicyMaxLength(t *testing.T) {
	policy := NewPasswordPolicy(DefaultPasswordPolicyConfig())

	long := strings.Repeat("Ab1!", 40)
	err := policy.Validate(long, port.PasswordContext{})
	var de *domain.Error
	if !errors.As(err, &de) || de.Code != "password_max_length" {
		t.Fatalf("expected password_max_length, got %v", err)
	}
}
