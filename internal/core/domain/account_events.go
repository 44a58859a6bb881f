package domain

import (
	"fmt"
	"time"

	uuid "github.com/google/uuid"
)

// EventType enumerates every change an Account can undergo.
type EventType string

const (
	EventAccountRegistered          EventType = "account.registered"
	EventLoggedIn                   EventType = "account.logged_in"
	EventLoginFailed                EventType = "account.login_failed"
	EventAccountLocked              EventType = "account.locked"
	EventAccountUnlocked            EventType = "account.unlocked"
	EventPasswordChanged            EventType = "account.password_changed"
	EventPasswordChangeRequired     EventType = "account.password_change_required"
	EventEmailVerificationIssued    EventType = "account.email_verification_issued"
	EventEmailVerified              EventType = "account.email_verified"
	EventPhoneVerified              EventType = "account.phone_verified"
	EventPasswordResetRequested     EventType = "account.password_reset_requested"
	EventPasswordResetCompleted     EventType = "account.password_reset_completed"
	EventTwoFactorEnrollmentStarted EventType = "account.two_factor_enrollment_started"
	EventTwoFactorEnabled           EventType = "account.two_factor_enabled"
	EventTwoFactorUsed              EventType = "account.two_factor_used"
	EventTwoFactorDisabled          EventType = "account.two_factor_disabled"
	EventAccountSuspended           EventType = "account.suspended"
	EventAccountBlocked             EventType = "account.blocked"
	EventAccountReactivated         EventType = "account.reactivated"
	EventAccountDeleted             EventType = "account.deleted"
	EventAccountMerged              EventType = "account.merged"
)

// Event is a domain event raised by the Account aggregate.
// Attributes carry the public payload; secret material stays unexported.
type Event struct {
	ID         string
	Type       EventType
	AccountID  string
	OccurredAt time.Time
	Version    int64
	Attributes map[string]string

	passwordHash PasswordHash
	digest       *TokenDigest
	twoFactor    *TwoFactorSecretKey
	lockoutEnd   *time.Time
	login        *LoginRecord
	mergedInto   string
}

func newEvent(t EventType, accountID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		AccountID:  accountID,
		OccurredAt: at.UTC(),
		Attributes: map[string]string{},
	}
}

func (e Event) with(key, value string) Event {
	if value != "" {
		e.Attributes[key] = value
	}
	return e
}

// apply routes an event to its state handler. Unknown types are programmer errors.
func (a *Account) apply(e Event) {
	switch e.Type {
	case EventAccountRegistered:
		a.onRegistered(e)
	case EventLoggedIn:
		a.onLoggedIn(e)
	case EventLoginFailed:
		a.onLoginFailed(e)
	case EventAccountLocked:
		a.onLocked(e)
	case EventAccountUnlocked:
		a.onUnlocked(e)
	case EventPasswordChanged:
		a.onPasswordChanged(e)
	case EventPasswordChangeRequired:
		a.onPasswordChangeRequired(e)
	case EventEmailVerificationIssued:
		a.onEmailVerificationIssued(e)
	case EventEmailVerified:
		a.onEmailVerified(e)
	case EventPhoneVerified:
		a.onPhoneVerified(e)
	case EventPasswordResetRequested:
		a.onPasswordResetRequested(e)
	case EventPasswordResetCompleted:
		a.onPasswordResetCompleted(e)
	case EventTwoFactorEnrollmentStarted:
		a.onTwoFactorEnrollmentStarted(e)
	case EventTwoFactorEnabled:
		a.onTwoFactorEnabled(e)
	case EventTwoFactorUsed:
		a.onTwoFactorUsed(e)
	case EventTwoFactorDisabled:
		a.onTwoFactorDisabled(e)
	case EventAccountSuspended:
		a.onSuspended(e)
	case EventAccountBlocked:
		a.onBlocked(e)
	case EventAccountReactivated:
		a.onReactivated(e)
	case EventAccountDeleted:
		a.onDeleted(e)
	case EventAccountMerged:
		a.onMerged(e)
	default:
		panic(fmt.Sprintf("account: unhandled event type %q", e.Type))
	}
	a.updatedAt = e.OccurredAt
}

func (a *Account) onRegistered(e Event) {
	a.createdAt = e.OccurredAt
}

func (a *Account) onLoggedIn(e Event) {
	a.failedLoginAttempts = 0
	a.lockoutEnd = nil
	a.status = a.status.Without(StatusLocked)
	if e.login != nil {
		a.loginHistory = append([]LoginRecord{*e.login}, a.loginHistory...)
		if len(a.loginHistory) > MaxLoginHistory {
			a.loginHistory = a.loginHistory[:MaxLoginHistory]
		}
	}
}

func (a *Account) onLoginFailed(Event) {
	a.failedLoginAttempts++
}

func (a *Account) onLocked(e Event) {
	a.lockoutEnd = copyTime(e.lockoutEnd)
	a.status = a.status.With(StatusLocked)
}

func (a *Account) onUnlocked(Event) {
	a.failedLoginAttempts = 0
	a.lockoutEnd = nil
	a.status = a.status.Without(StatusLocked)
}

func (a *Account) onPasswordChanged(e Event) {
	a.passwordHash = e.passwordHash
	a.passwordReset = nil
	a.status = a.status.Without(StatusPasswordChangeRequired)
}

func (a *Account) onPasswordChangeRequired(Event) {
	a.status = a.status.With(StatusPasswordChangeRequired)
}

func (a *Account) onEmailVerificationIssued(e Event) {
	a.emailVerification = e.digest
}

func (a *Account) onEmailVerified(Event) {
	a.emailVerification = nil
	a.status = a.status.Without(StatusEmailVerificationPending)
	if a.status.Has(StatusPending) {
		a.status = a.status.Without(StatusPending).With(StatusActive)
	}
}

func (a *Account) onPhoneVerified(Event) {
	a.status = a.status.Without(StatusPhoneVerificationPending)
}

func (a *Account) onPasswordResetRequested(e Event) {
	a.passwordReset = e.digest
}

func (a *Account) onPasswordResetCompleted(e Event) {
	a.passwordHash = e.passwordHash
	a.passwordReset = nil
	a.status = a.status.Without(StatusPasswordChangeRequired)
}

func (a *Account) onTwoFactorEnrollmentStarted(e Event) {
	a.twoFactor = e.twoFactor
}

func (a *Account) onTwoFactorEnabled(e Event) {
	a.twoFactor = e.twoFactor
}

func (a *Account) onTwoFactorUsed(e Event) {
	a.twoFactor = e.twoFactor
}

func (a *Account) onTwoFactorDisabled(Event) {
	a.twoFactor = nil
}

func (a *Account) onSuspended(Event) {
	a.status = a.status.With(StatusSuspended)
}

func (a *Account) onBlocked(Event) {
	a.status = a.status.With(StatusBlocked)
}

func (a *Account) onReactivated(Event) {
	a.status = a.status.Without(StatusSuspended | StatusBlocked | StatusInactive)
}

func (a *Account) onDeleted(Event) {
	a.status = a.status.With(StatusDeleted)
	a.emailVerification = nil
	a.passwordReset = nil
	a.twoFactor = nil
}

func (a *Account) onMerged(e Event) {
	a.status = a.status.With(StatusMerged)
	a.mergedInto = e.mergedInto
	a.emailVerification = nil
	a.passwordReset = nil
	a.twoFactor = nil
}
