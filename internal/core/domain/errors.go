package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can branch without string matching.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindConflict        ErrorKind = "conflict"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindForbidden       ErrorKind = "forbidden"
	KindNotFound        ErrorKind = "not_found"
	KindInvalidState    ErrorKind = "invalid_state"
	KindRateLimited     ErrorKind = "rate_limited"
	KindExpired         ErrorKind = "expired"
	KindExhausted       ErrorKind = "exhausted"
	KindInternal        ErrorKind = "internal"
)

// Error is the typed failure returned for expected business conditions.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]any
}

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Is matches another *Error by code, so sentinels survive WithDetail copies.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithDetail returns a copy of the error carrying an additional detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Details: details}
}

// NewError builds a typed failure.
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Errorf builds a typed validation-style failure with a formatted message.
func Errorf(kind ErrorKind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of err; untyped errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	// ErrInvalidEmail indicates the e-mail address failed validation.
	ErrInvalidEmail = NewError(KindValidation, "invalid_email", "email address is invalid")
	// ErrInvalidUsername indicates the username failed validation.
	ErrInvalidUsername = NewError(KindValidation, "invalid_username", "username is invalid")
	// ErrPasswordTooShort indicates the password is below the minimum length.
	ErrPasswordTooShort = NewError(KindValidation, "password_too_short", "password is too short")
	// ErrPasswordTooLong indicates the password exceeds the maximum length.
	ErrPasswordTooLong = NewError(KindValidation, "password_too_long", "password is too long")
	// ErrIncorrectPassword indicates the supplied current password does not verify.
	ErrIncorrectPassword = NewError(KindValidation, "incorrect_password", "current password is incorrect")
	// ErrPasswordReused indicates the new password matches the current one.
	ErrPasswordReused = NewError(KindValidation, "password_reused", "new password must differ from the current password")

	// ErrAccountTerminal indicates the account is deleted or merged.
	ErrAccountTerminal = NewError(KindInvalidState, "account_terminal", "account no longer accepts changes")
	// ErrAccountInactive indicates the account is blocked, suspended, or inactive.
	ErrAccountInactive = NewError(KindInvalidState, "account_inactive", "account is not active")
	// ErrAlreadyVerified indicates the e-mail address was verified before.
	ErrAlreadyVerified = NewError(KindInvalidState, "already_verified", "email address is already verified")
	// ErrPhoneNotPending indicates no phone verification is outstanding.
	ErrPhoneNotPending = NewError(KindInvalidState, "phone_not_pending", "phone verification is not pending")

	// ErrTwoFactorAlreadyEnabled rejects a second enrollment while a key is active.
	ErrTwoFactorAlreadyEnabled = NewError(KindInvalidState, "two_factor_enabled", "two-factor authentication is already enabled")
	// ErrTwoFactorNotEnrolled rejects confirmation or disable without enrollment.
	ErrTwoFactorNotEnrolled = NewError(KindInvalidState, "two_factor_not_enrolled", "two-factor enrollment has not been started")
	// ErrTwoFactorNotEnabled rejects code checks while no active key exists.
	ErrTwoFactorNotEnabled = NewError(KindInvalidState, "two_factor_not_enabled", "two-factor authentication is not enabled")
	// ErrInvalidTwoFactorCode indicates the one-time password did not verify.
	ErrInvalidTwoFactorCode = NewError(KindValidation, "invalid_two_factor_code", "two-factor code is invalid")

	// ErrNoPendingToken indicates no token of the requested purpose is outstanding.
	ErrNoPendingToken = NewError(KindInvalidState, "no_pending_token", "no token is pending for this operation")
	// ErrTokenMismatch indicates the presented token does not match.
	ErrTokenMismatch = NewError(KindValidation, "token_mismatch", "token is invalid")
	// ErrTokenExpired indicates the token validity window has passed.
	ErrTokenExpired = NewError(KindExpired, "token_expired", "token has expired")
	// ErrInvalidTokenValue indicates raw token material is malformed.
	ErrInvalidTokenValue = NewError(KindValidation, "invalid_token_value", "token value is malformed")
	// ErrNonExpiringNotAllowed rejects a non-expiring token for a type that requires expiry.
	ErrNonExpiringNotAllowed = NewError(KindValidation, "non_expiring_not_allowed", "token type requires an expiry")

	// ErrCodeExpired indicates the verification code expired.
	ErrCodeExpired = NewError(KindExpired, "code_expired", "verification code has expired")
	// ErrCodeExhausted indicates the attempt budget is spent.
	ErrCodeExhausted = NewError(KindExhausted, "code_exhausted", "verification code attempts exhausted")
	// ErrCodeUsed indicates the code was already consumed.
	ErrCodeUsed = NewError(KindInvalidState, "code_used", "verification code was already used")
	// ErrCodeMismatch indicates the candidate did not match.
	ErrCodeMismatch = NewError(KindValidation, "code_mismatch", "verification code is invalid")
	// ErrNoPendingCode indicates no code of the requested type is outstanding.
	ErrNoPendingCode = NewError(KindInvalidState, "no_pending_code", "no verification code is pending")
	// ErrInvalidCodeLength rejects code lengths outside the supported range.
	ErrInvalidCodeLength = NewError(KindValidation, "invalid_code_length", "verification code length is out of range")

	// ErrVersionConflict indicates a write based on a stale aggregate version.
	ErrVersionConflict = NewError(KindConflict, "version_conflict", "account was modified concurrently")
	// ErrEmailTaken indicates another account owns the e-mail address.
	ErrEmailTaken = NewError(KindConflict, "email_taken", "email address is already registered")
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = NewError(KindNotFound, "account_not_found", "account not found")
	// ErrUnknownPermission indicates a permission name outside the catalogue.
	ErrUnknownPermission = NewError(KindValidation, "unknown_permission", "unknown permission")
)
