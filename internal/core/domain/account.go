package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxLoginHistory bounds the successful-login entries kept on an account.
const MaxLoginHistory = 20

// LockoutPolicy controls when repeated failures lock an account.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy locks for 15 minutes after five failures.
var DefaultLockoutPolicy = LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}

func (p LockoutPolicy) normalized() LockoutPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultLockoutPolicy.MaxAttempts
	}
	if p.Duration <= 0 {
		p.Duration = DefaultLockoutPolicy.Duration
	}
	return p
}

// LoginAttempt captures one password presentation.
type LoginAttempt struct {
	Password  string
	IP        string
	UserAgent string
	At        time.Time
}

// LoginRecord is one entry of the login history, newest first.
type LoginRecord struct {
	At        time.Time
	IP        string
	UserAgent string
}

// LoginResult enumerates the business outcomes of a login attempt.
type LoginResult string

const (
	LoginSuccess         LoginResult = "success"
	LoginInvalidPassword LoginResult = "invalid_password"
	LoginAccountLocked   LoginResult = "account_locked"
	LoginNotVerified     LoginResult = "not_verified"
)

// PendingAction names a follow-up the caller must complete after login.
type PendingAction string

const (
	ActionVerifyEmail    PendingAction = "verify_email"
	ActionVerifyPhone    PendingAction = "verify_phone"
	ActionChangePassword PendingAction = "change_password"
	ActionTwoFactor      PendingAction = "two_factor"
)

// LoginOutcome reports the result of Login.
type LoginOutcome struct {
	Result            LoginResult
	PendingActions    []PendingAction
	RemainingAttempts int
	LockedUntil       *time.Time
}

// Requires reports whether the outcome lists the given follow-up.
func (o LoginOutcome) Requires(action PendingAction) bool {
	for _, a := range o.PendingActions {
		if a == action {
			return true
		}
	}
	return false
}

// Account is the aggregate root for identity and credential state.
type Account struct {
	id                  string
	username            string
	email               Email
	passwordHash        PasswordHash
	phone               *string
	status              AccountStatus
	failedLoginAttempts int
	lockoutEnd          *time.Time
	twoFactor           *TwoFactorSecretKey
	emailVerification   *TokenDigest
	passwordReset       *TokenDigest
	loginHistory        []LoginRecord
	mergedInto          string
	createdAt           time.Time
	updatedAt           time.Time
	version             int64

	persistedVersion int64
	events           []Event
}

// NewAccount registers a new account in the Pending state.
func NewAccount(id, username string, email Email, hash PasswordHash, phone *string, now time.Time) (*Account, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewError(KindValidation, "invalid_account_id", "account id is required")
	}
	name, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	email, err = NewEmail(string(email))
	if err != nil {
		return nil, err
	}
	if hash.IsZero() {
		return nil, NewError(KindValidation, "invalid_password_hash", "password hash is required")
	}

	status := StatusPending | StatusEmailVerificationPending
	var phoneCopy *string
	if phone != nil && strings.TrimSpace(*phone) != "" {
		p := strings.TrimSpace(*phone)
		phoneCopy = &p
		status = status.With(StatusPhoneVerificationPending)
	}

	a := &Account{
		id:           id,
		username:     name,
		email:        email,
		passwordHash: hash,
		phone:        phoneCopy,
		status:       status,
	}
	a.record(newEvent(EventAccountRegistered, id, now).
		with("username", name).
		with("email", email.String()))
	return a, nil
}

// record applies events and advances the version once for the whole change.
func (a *Account) record(events ...Event) {
	a.version++
	for _, e := range events {
		e.Version = a.version
		a.apply(e)
		a.events = append(a.events, e)
	}
}

func (a *Account) ensureMutable() error {
	if a.status.IsTerminal() {
		return ErrAccountTerminal.WithDetail("status", a.status.String())
	}
	return nil
}

func (a *Account) ensureCanAuthenticate() error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if a.status&(StatusBlocked|StatusSuspended|StatusInactive|StatusExpired) != 0 {
		return ErrAccountInactive.WithDetail("status", a.status.String())
	}
	return nil
}

// CheckActive fails unless the account may hold credentials and sessions.
func (a *Account) CheckActive() error {
	return a.ensureCanAuthenticate()
}

// Login verifies a password and applies lockout accounting.
// Failed attempts are an outcome, not an error, so the caller persists them.
// Suspended, blocked, inactive, and expired accounts count failures like any
// other; their state is reported only once the password verified.
func (a *Account) Login(hasher PasswordHasher, attempt LoginAttempt, policy LockoutPolicy) (LoginOutcome, error) {
	if err := a.ensureMutable(); err != nil {
		return LoginOutcome{}, err
	}
	policy = policy.normalized()
	now := attempt.At.UTC()

	// Locked accounts never reach the hasher.
	if a.IsLockedOut(now) {
		return LoginOutcome{Result: LoginAccountLocked, LockedUntil: copyTime(a.lockoutEnd)}, nil
	}

	ok, err := hasher.Verify(attempt.Password, string(a.passwordHash))
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("verify password: %w", err)
	}

	if !ok {
		attempts := a.failedLoginAttempts + 1
		failed := newEvent(EventLoginFailed, a.id, now).
			with("ip", attempt.IP).
			with("attempts", strconv.Itoa(attempts))
		if attempts < policy.MaxAttempts {
			a.record(failed)
			return LoginOutcome{Result: LoginInvalidPassword, RemainingAttempts: policy.MaxAttempts - attempts}, nil
		}

		until := now.Add(policy.Duration)
		locked := newEvent(EventAccountLocked, a.id, now).
			with("locked_until", until.Format(time.RFC3339)).
			with("attempts", strconv.Itoa(attempts))
		locked.lockoutEnd = &until
		a.record(failed, locked)
		return LoginOutcome{Result: LoginInvalidPassword, LockedUntil: copyTime(&until)}, nil
	}

	if err := a.ensureCanAuthenticate(); err != nil {
		return LoginOutcome{}, err
	}

	e := newEvent(EventLoggedIn, a.id, now).
		with("ip", attempt.IP).
		with("user_agent", attempt.UserAgent)
	e.login = &LoginRecord{At: now, IP: attempt.IP, UserAgent: attempt.UserAgent}
	a.record(e)

	outcome := LoginOutcome{Result: LoginSuccess, PendingActions: a.pendingActions()}
	if a.status.Has(StatusPending) {
		outcome.Result = LoginNotVerified
	}
	return outcome, nil
}

func (a *Account) pendingActions() []PendingAction {
	var actions []PendingAction
	if a.status.Has(StatusEmailVerificationPending) {
		actions = append(actions, ActionVerifyEmail)
	}
	if a.status.Has(StatusPhoneVerificationPending) {
		actions = append(actions, ActionVerifyPhone)
	}
	if a.status.Has(StatusPasswordChangeRequired) {
		actions = append(actions, ActionChangePassword)
	}
	if a.IsTwoFactorEnabled() {
		actions = append(actions, ActionTwoFactor)
	}
	return actions
}

// Unlock clears lockout state and the failure counter.
func (a *Account) Unlock(at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	a.record(newEvent(EventAccountUnlocked, a.id, at))
	return nil
}

// ChangePassword replaces the hash after proving knowledge of the current password.
func (a *Account) ChangePassword(hasher PasswordHasher, current string, next Password, at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}

	ok, err := hasher.Verify(current, string(a.passwordHash))
	if err != nil {
		return fmt.Errorf("verify current password: %w", err)
	}
	if !ok {
		return ErrIncorrectPassword
	}

	reused, err := hasher.Verify(next.Reveal(), string(a.passwordHash))
	if err != nil {
		return fmt.Errorf("verify password reuse: %w", err)
	}
	if reused {
		return ErrPasswordReused
	}

	hash, err := hasher.Hash(next.Reveal())
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	e := newEvent(EventPasswordChanged, a.id, at).with("method", "change")
	e.passwordHash = PasswordHash(hash)
	a.record(e)
	return nil
}

// RequirePasswordChange forces a password change on next login.
func (a *Account) RequirePasswordChange(at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	a.record(newEvent(EventPasswordChangeRequired, a.id, at))
	return nil
}

// EnableTwoFactor starts enrollment and returns the inactive secret.
// A pending, unconfirmed secret is replaced.
func (a *Account) EnableTwoFactor(random RandomSource, issuer string, at time.Time) (TwoFactorSecretKey, error) {
	if err := a.ensureMutable(); err != nil {
		return TwoFactorSecretKey{}, err
	}
	if a.IsTwoFactorEnabled() {
		return TwoFactorSecretKey{}, ErrTwoFactorAlreadyEnabled
	}

	key, err := GenerateTwoFactorSecret(random, issuer, at)
	if err != nil {
		return TwoFactorSecretKey{}, fmt.Errorf("generate two-factor secret: %w", err)
	}

	e := newEvent(EventTwoFactorEnrollmentStarted, a.id, at).with("key_id", key.ID)
	e.twoFactor = &key
	a.record(e)
	return key, nil
}

// ConfirmTwoFactor activates the pending secret once the caller proves possession.
func (a *Account) ConfirmTwoFactor(verifier TwoFactorVerifier, code string, at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if a.twoFactor == nil {
		return ErrTwoFactorNotEnrolled
	}
	if a.twoFactor.Active {
		return ErrTwoFactorAlreadyEnabled
	}

	ok, err := verifier.Verify(a.twoFactor.Secret, code, at)
	if err != nil {
		return fmt.Errorf("verify two-factor code: %w", err)
	}
	if !ok {
		return ErrInvalidTwoFactorCode
	}

	activated := a.twoFactor.Activate(at).RecordUsage(at)
	e := newEvent(EventTwoFactorEnabled, a.id, at).with("key_id", activated.ID)
	e.twoFactor = &activated
	a.record(e)
	return nil
}

// VerifyTwoFactor checks a code against the active secret and stamps its usage.
func (a *Account) VerifyTwoFactor(verifier TwoFactorVerifier, code string, at time.Time) error {
	if err := a.ensureCanAuthenticate(); err != nil {
		return err
	}
	if !a.IsTwoFactorEnabled() {
		return ErrTwoFactorNotEnabled
	}

	ok, err := verifier.Verify(a.twoFactor.Secret, code, at)
	if err != nil {
		return fmt.Errorf("verify two-factor code: %w", err)
	}
	if !ok {
		return ErrInvalidTwoFactorCode
	}

	used := a.twoFactor.RecordUsage(at)
	e := newEvent(EventTwoFactorUsed, a.id, at).with("key_id", used.ID)
	e.twoFactor = &used
	a.record(e)
	return nil
}

// DisableTwoFactor removes the secret, pending or active.
func (a *Account) DisableTwoFactor(at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if a.twoFactor == nil {
		return ErrTwoFactorNotEnrolled
	}
	a.record(newEvent(EventTwoFactorDisabled, a.id, at).with("key_id", a.twoFactor.ID))
	return nil
}

// IssueEmailVerification generates a verification token and keeps its digest.
func (a *Account) IssueEmailVerification(random RandomSource, length int, validity time.Duration, at time.Time) (Token, error) {
	if err := a.ensureMutable(); err != nil {
		return Token{}, err
	}
	if !a.status.Has(StatusEmailVerificationPending) {
		return Token{}, ErrAlreadyVerified
	}

	token, err := GenerateToken(random, TokenEmailVerification, length, validity, at)
	if err != nil {
		return Token{}, fmt.Errorf("generate verification token: %w", err)
	}

	digest := token.Digest()
	e := newEvent(EventEmailVerificationIssued, a.id, at).
		with("email", a.email.String()).
		with("expires_at", digest.ExpiresAt.Format(time.RFC3339))
	e.digest = &digest
	a.record(e)
	return token, nil
}

// VerifyEmail redeems the pending verification token.
// Failures leave the account untouched.
func (a *Account) VerifyEmail(raw string, at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if !a.status.Has(StatusEmailVerificationPending) {
		return ErrAlreadyVerified
	}
	if a.emailVerification == nil {
		return ErrNoPendingToken.WithDetail("type", string(TokenEmailVerification))
	}
	if err := a.emailVerification.Check(TokenEmailVerification, raw, at); err != nil {
		return err
	}

	a.record(newEvent(EventEmailVerified, a.id, at).with("email", a.email.String()))
	return nil
}

// ConfirmPhone clears the pending phone verification once its code was redeemed.
func (a *Account) ConfirmPhone(at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if a.phone == nil || !a.status.Has(StatusPhoneVerificationPending) {
		return ErrPhoneNotPending
	}
	a.record(newEvent(EventPhoneVerified, a.id, at))
	return nil
}

// RequestPasswordReset generates a reset token and keeps its digest.
// A newer request supersedes any outstanding token.
func (a *Account) RequestPasswordReset(random RandomSource, length int, validity time.Duration, at time.Time) (Token, error) {
	if err := a.ensureMutable(); err != nil {
		return Token{}, err
	}

	token, err := GenerateToken(random, TokenPasswordReset, length, validity, at)
	if err != nil {
		return Token{}, fmt.Errorf("generate reset token: %w", err)
	}

	digest := token.Digest()
	e := newEvent(EventPasswordResetRequested, a.id, at).
		with("email", a.email.String()).
		with("expires_at", digest.ExpiresAt.Format(time.RFC3339))
	e.digest = &digest
	a.record(e)
	return token, nil
}

// CompletePasswordReset redeems the reset token and installs the new password.
func (a *Account) CompletePasswordReset(hasher PasswordHasher, raw string, next Password, at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if a.passwordReset == nil {
		return ErrNoPendingToken.WithDetail("type", string(TokenPasswordReset))
	}
	if err := a.passwordReset.Check(TokenPasswordReset, raw, at); err != nil {
		return err
	}

	hash, err := hasher.Hash(next.Reveal())
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	e := newEvent(EventPasswordResetCompleted, a.id, at).with("method", "reset")
	e.passwordHash = PasswordHash(hash)
	a.record(e)
	return nil
}

// Suspend marks the account suspended.
func (a *Account) Suspend(reason string, at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	a.record(newEvent(EventAccountSuspended, a.id, at).with("reason", reason))
	return nil
}

// Block marks the account blocked.
func (a *Account) Block(reason string, at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	a.record(newEvent(EventAccountBlocked, a.id, at).with("reason", reason))
	return nil
}

// Reactivate lifts suspension, blocking, and inactivity.
func (a *Account) Reactivate(at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if a.status&(StatusSuspended|StatusBlocked|StatusInactive) == 0 {
		return NewError(KindInvalidState, "account_not_restricted", "account is not suspended or blocked")
	}
	a.record(newEvent(EventAccountReactivated, a.id, at))
	return nil
}

// Delete moves the account into the terminal Deleted state.
func (a *Account) Delete(reason string, at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	a.record(newEvent(EventAccountDeleted, a.id, at).with("reason", reason))
	return nil
}

// MergeInto moves the account into the terminal Merged state.
func (a *Account) MergeInto(targetID string, at time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" || targetID == a.id {
		return NewError(KindValidation, "invalid_merge_target", "merge target must be another account")
	}
	e := newEvent(EventAccountMerged, a.id, at).with("merged_into", targetID)
	e.mergedInto = targetID
	a.record(e)
	return nil
}

func (a *Account) ID() string { return a.id }
func (a *Account) Username() string { return a.username }
func (a *Account) Email() Email { return a.email }
func (a *Account) PasswordHash() PasswordHash { return a.passwordHash }
func (a *Account) Status() AccountStatus { return a.status }
func (a *Account) FailedLoginAttempts() int { return a.failedLoginAttempts }
func (a *Account) MergedInto() string { return a.mergedInto }
func (a *Account) CreatedAt() time.Time { return a.createdAt }
func (a *Account) UpdatedAt() time.Time { return a.updatedAt }
func (a *Account) Version() int64 { return a.version }
func (a *Account) PersistedVersion() int64 { return a.persistedVersion }
func (a *Account) LockoutEnd() *time.Time { return copyTime(a.lockoutEnd) }
func (a *Account) IsNew() bool { return a.persistedVersion == 0 }
func (a *Account) HasPendingChanges() bool { return a.version != a.persistedVersion }
func (a *Account) IsLocked() bool { return a.status.Has(StatusLocked) }
func (a *Account) IsTwoFactorEnabled() bool { return a.twoFactor != nil && a.twoFactor.IsUsable() }
func (a *Account) IsEmailVerified() bool { return !a.status.Has(StatusEmailVerificationPending) }

// Phone returns the phone number, if any.
func (a *Account) Phone() *string {
	if a.phone == nil {
		return nil
	}
	p := *a.phone
	return &p
}

// TwoFactor returns a copy of the current secret, pending or active.
func (a *Account) TwoFactor() *TwoFactorSecretKey {
	if a.twoFactor == nil {
		return nil
	}
	k := *a.twoFactor
	return &k
}

// LoginHistory returns successful logins, newest first.
func (a *Account) LoginHistory() []LoginRecord {
	out := make([]LoginRecord, len(a.loginHistory))
	copy(out, a.loginHistory)
	return out
}

// IsLockedOut reports whether the lockout window covers now.
func (a *Account) IsLockedOut(now time.Time) bool {
	return a.lockoutEnd != nil && now.Before(*a.lockoutEnd)
}

// PullEvents returns and clears events raised since the last pull.
func (a *Account) PullEvents() []Event {
	events := a.events
	a.events = nil
	return events
}

// MarkPersisted records that storage now holds the current version.
func (a *Account) MarkPersisted() {
	a.persistedVersion = a.version
}

// AccountSnapshot is the storage representation of an Account.
type AccountSnapshot struct {
	ID                  string
	Username            string
	Email               Email
	PasswordHash        PasswordHash
	Phone               *string
	Status              AccountStatus
	FailedLoginAttempts int
	LockoutEnd          *time.Time
	TwoFactor           *TwoFactorSecretKey
	EmailVerification   *TokenDigest
	PasswordReset       *TokenDigest
	LoginHistory        []LoginRecord
	MergedInto          string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Version             int64
}

// Snapshot exports the account state.
func (a *Account) Snapshot() AccountSnapshot {
	s := AccountSnapshot{
		ID:                  a.id,
		Username:            a.username,
		Email:               a.email,
		PasswordHash:        a.passwordHash,
		Phone:               a.Phone(),
		Status:              a.status,
		FailedLoginAttempts: a.failedLoginAttempts,
		LockoutEnd:          copyTime(a.lockoutEnd),
		TwoFactor:           a.TwoFactor(),
		LoginHistory:        a.LoginHistory(),
		MergedInto:          a.mergedInto,
		CreatedAt:           a.createdAt,
		UpdatedAt:           a.updatedAt,
		Version:             a.version,
	}
	if a.emailVerification != nil {
		d := *a.emailVerification
		s.EmailVerification = &d
	}
	if a.passwordReset != nil {
		d := *a.passwordReset
		s.PasswordReset = &d
	}
	return s
}

// RestoreAccount rebuilds a persisted account; its version counts as stored.
func RestoreAccount(s AccountSnapshot) *Account {
	a := &Account{
		id:                  s.ID,
		username:            s.Username,
		email:               s.Email,
		passwordHash:        s.PasswordHash,
		status:              s.Status,
		failedLoginAttempts: s.FailedLoginAttempts,
		lockoutEnd:          copyTime(s.LockoutEnd),
		mergedInto:          s.MergedInto,
		createdAt:           s.CreatedAt.UTC(),
		updatedAt:           s.UpdatedAt.UTC(),
		version:             s.Version,
		persistedVersion:    s.Version,
	}
	if s.Phone != nil {
		p := *s.Phone
		a.phone = &p
	}
	if s.TwoFactor != nil {
		k := *s.TwoFactor
		a.twoFactor = &k
	}
	if s.EmailVerification != nil {
		d := *s.EmailVerification
		a.emailVerification = &d
	}
	if s.PasswordReset != nil {
		d := *s.PasswordReset
		a.passwordReset = &d
	}
	if len(s.LoginHistory) > 0 {
		a.loginHistory = make([]LoginRecord, len(s.LoginHistory))
		copy(a.loginHistory, s.LoginHistory)
	}
	return a
}
