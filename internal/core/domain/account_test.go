package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewAccountStartsPending(t *testing.T) {
	phone := " +15550001111 "
	a, err := NewAccount("acc-1", "jane", Email("jane@example.com"), PasswordHash("plain$pw"), &phone, testNow)
	if err != nil {
		t.Fatalf("new account: %v", err)
	}

	want := StatusPending | StatusEmailVerificationPending | StatusPhoneVerificationPending
	if a.Status() != want {
		t.Fatalf("expected status %s, got %s", want, a.Status())
	}
	if a.Version() != 1 || !a.IsNew() {
		t.Fatalf("expected new account at version 1, got %d (new=%v)", a.Version(), a.IsNew())
	}
	if got := *a.Phone(); got != "+15550001111" {
		t.Fatalf("expected trimmed phone, got %q", got)
	}
	events := a.PullEvents()
	if len(events) != 1 || events[0].Type != EventAccountRegistered {
		t.Fatalf("expected registered event, got %v", eventTypes(events))
	}
	if !a.CreatedAt().Equal(testNow) {
		t.Fatalf("expected created at %v, got %v", testNow, a.CreatedAt())
	}
}

func TestNewAccountRejectsInvalidInput(t *testing.T) {
	if _, err := NewAccount("acc-1", "has space", Email("jane@example.com"), PasswordHash("h"), nil, testNow); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected invalid username, got %v", err)
	}
	if _, err := NewAccount("acc-1", "jane", Email("not-an-email"), PasswordHash("h"), nil, testNow); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected invalid email, got %v", err)
	}
	if _, err := NewAccount("acc-1", "jane", Email("jane@example.com"), PasswordHash(""), nil, testNow); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error for empty hash, got %v", err)
	}
}

func TestLoginFifthFailureLocksAccount(t *testing.T) {
	a := newTestAccount(t)
	hasher := &plainHasher{}

	for i := 0; i < 4; i++ {
		out, err := a.Login(hasher, LoginAttempt{Password: "wrong", At: testNow}, DefaultLockoutPolicy)
		if err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
		if out.Result != LoginInvalidPassword {
			t.Fatalf("expected invalid password, got %s", out.Result)
		}
	}
	if a.FailedLoginAttempts() != 4 || a.LockoutEnd() != nil {
		t.Fatalf("expected 4 failures without lockout, got %d / %v", a.FailedLoginAttempts(), a.LockoutEnd())
	}
	a.PullEvents()

	out, err := a.Login(hasher, LoginAttempt{Password: "wrong", At: testNow}, DefaultLockoutPolicy)
	if err != nil {
		t.Fatalf("fifth login: %v", err)
	}
	if out.Result != LoginInvalidPassword {
		t.Fatalf("expected invalid password on fifth failure, got %s", out.Result)
	}
	if a.FailedLoginAttempts() != 5 {
		t.Fatalf("expected 5 failures, got %d", a.FailedLoginAttempts())
	}
	wantEnd := testNow.Add(15 * time.Minute)
	if end := a.LockoutEnd(); end == nil || !end.Equal(wantEnd) {
		t.Fatalf("expected lockout until %v, got %v", wantEnd, end)
	}
	if !a.IsLocked() || !a.IsLockedOut(testNow) {
		t.Fatal("expected account to be locked")
	}
	types := eventTypes(a.PullEvents())
	if len(types) != 2 || types[0] != EventLoginFailed || types[1] != EventAccountLocked {
		t.Fatalf("expected login_failed then locked events, got %v", types)
	}
}

func TestLoginWhileLockedSkipsPasswordCheck(t *testing.T) {
	a := newTestAccount(t)
	hasher := &plainHasher{}
	for i := 0; i < 5; i++ {
		if _, err := a.Login(hasher, LoginAttempt{Password: "wrong", At: testNow}, DefaultLockoutPolicy); err != nil {
			t.Fatalf("login: %v", err)
		}
	}
	calls := hasher.verifyCalls
	version := a.Version()

	out, err := a.Login(hasher, LoginAttempt{Password: "correct-horse", At: testNow.Add(time.Minute)}, DefaultLockoutPolicy)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if out.Result != LoginAccountLocked {
		t.Fatalf("expected account locked, got %s", out.Result)
	}
	if hasher.verifyCalls != calls {
		t.Fatal("hasher must not run while locked")
	}
	if a.Version() != version {
		t.Fatal("locked login must not mutate the account")
	}
}

func TestLockoutMonotonicity(t *testing.T) {
	a := newTestAccount(t)
	hasher := &plainHasher{}
	policy := DefaultLockoutPolicy
	at := testNow

	for i := 0; i < 12; i++ {
		if _, err := a.Login(hasher, LoginAttempt{Password: "wrong", At: at}, policy); err != nil {
			t.Fatalf("login: %v", err)
		}
		if a.FailedLoginAttempts() >= policy.MaxAttempts && !a.IsLocked() {
			t.Fatalf("attempt %d: expected locked with %d failures", i, a.FailedLoginAttempts())
		}
		at = at.Add(7 * time.Minute)
	}

	// After the window passes, a correct password clears the lock.
	at = a.LockoutEnd().Add(time.Second)
	out, err := a.Login(hasher, LoginAttempt{Password: "correct-horse", At: at}, policy)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if out.Result == LoginAccountLocked || a.IsLocked() || a.FailedLoginAttempts() != 0 {
		t.Fatalf("expected lock cleared, got result=%s locked=%v failures=%d", out.Result, a.IsLocked(), a.FailedLoginAttempts())
	}
}

func TestLoginFailureAfterExpiredLockRelocks(t *testing.T) {
	a := newTestAccount(t)
	hasher := &plainHasher{}
	for i := 0; i < 5; i++ {
		_, _ = a.Login(hasher, LoginAttempt{Password: "wrong", At: testNow}, DefaultLockoutPolicy)
	}

	later := testNow.Add(16 * time.Minute)
	out, err := a.Login(hasher, LoginAttempt{Password: "wrong", At: later}, DefaultLockoutPolicy)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if out.Result != LoginInvalidPassword || out.LockedUntil == nil {
		t.Fatalf("expected relock, got %+v", out)
	}
	if !a.IsLockedOut(later) {
		t.Fatal("expected a fresh lockout window")
	}
}

func TestLoginSuccessResetsCountersAndRecordsHistory(t *testing.T) {
	a := newTestAccount(t)
	hasher := &plainHasher{}
	_, _ = a.Login(hasher, LoginAttempt{Password: "wrong", At: testNow}, DefaultLockoutPolicy)

	out, err := a.Login(hasher, LoginAttempt{Password: "correct-horse", IP: "10.0.0.1", UserAgent: "curl", At: testNow}, DefaultLockoutPolicy)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if out.Result != LoginNotVerified {
		t.Fatalf("pending account should report not verified, got %s", out.Result)
	}
	if !out.Requires(ActionVerifyEmail) {
		t.Fatalf("expected verify_email pending action, got %v", out.PendingActions)
	}
	if a.FailedLoginAttempts() != 0 {
		t.Fatalf("expected counter reset, got %d", a.FailedLoginAttempts())
	}
	history := a.LoginHistory()
	if len(history) != 1 || history[0].IP != "10.0.0.1" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestLoginHistoryIsBounded(t *testing.T) {
	a := newTestAccount(t)
	hasher := &plainHasher{}
	for i := 0; i < MaxLoginHistory+5; i++ {
		at := testNow.Add(time.Duration(i) * time.Minute)
		if _, err := a.Login(hasher, LoginAttempt{Password: "correct-horse", At: at}, DefaultLockoutPolicy); err != nil {
			t.Fatalf("login: %v", err)
		}
	}
	history := a.LoginHistory()
	if len(history) != MaxLoginHistory {
		t.Fatalf("expected %d entries, got %d", MaxLoginHistory, len(history))
	}
	if !history[0].At.After(history[1].At) {
		t.Fatal("expected newest entry first")
	}
}

func TestLoginRejectsRestrictedAccounts(t *testing.T) {
	a := newTestAccount(t)
	if err := a.Suspend("abuse", testNow); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	wrong, err := a.Login(&plainHasher{}, LoginAttempt{Password: "wrong", At: testNow}, DefaultLockoutPolicy)
	if err != nil {
		t.Fatalf("wrong password on a suspended account must be an outcome, got %v", err)
	}
	if wrong.Result != LoginInvalidPassword || wrong.RemainingAttempts != DefaultLockoutPolicy.MaxAttempts-1 {
		t.Fatalf("expected the same outcome as any wrong password, got %+v", wrong)
	}

	version := a.Version()
	_, err = a.Login(&plainHasher{}, LoginAttempt{Password: "correct-horse", At: testNow}, DefaultLockoutPolicy)
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected inactive error, got %v", err)
	}
	if a.Version() != version || len(a.LoginHistory()) != 0 {
		t.Fatal("a rejected login must not be recorded")
	}
}

func TestLoginPropagatesHasherFailure(t *testing.T) {
	a := newTestAccount(t)
	_, err := a.Login(&plainHasher{failVerify: true}, LoginAttempt{Password: "x", At: testNow}, DefaultLockoutPolicy)
	if err == nil || KindOf(err) != KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if a.FailedLoginAttempts() != 0 {
		t.Fatal("hasher failure must not count as a failed attempt")
	}
}

func TestUnlockClearsLockout(t *testing.T) {
	a := newTestAccount(t)
	hasher := &plainHasher{}
	for i := 0; i < 5; i++ {
		_, _ = a.Login(hasher, LoginAttempt{Password: "wrong", At: testNow}, DefaultLockoutPolicy)
	}
	if err := a.Unlock(testNow); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if a.IsLocked() || a.IsLockedOut(testNow) || a.FailedLoginAttempts() != 0 {
		t.Fatal("expected lockout cleared")
	}
}

func TestChangePassword(t *testing.T) {
	a := newTestAccount(t)
	hasher := &plainHasher{}
	next, _ := NewPassword("battery-staple")

	if err := a.ChangePassword(hasher, "nope", next, testNow); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected incorrect password, got %v", err)
	}
	same, _ := NewPassword("correct-horse")
	if err := a.ChangePassword(hasher, "correct-horse", same, testNow); !errors.Is(err, ErrPasswordReused) {
		t.Fatalf("expected reuse rejection, got %v", err)
	}
	if a.Version() != 1 {
		t.Fatalf("failed changes must not bump the version, got %d", a.Version())
	}

	if err := a.RequirePasswordChange(testNow); err != nil {
		t.Fatalf("require change: %v", err)
	}
	if err := a.ChangePassword(hasher, "correct-horse", next, testNow); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if a.PasswordHash() != PasswordHash("plain$battery-staple") {
		t.Fatalf("hash not replaced: %s", a.PasswordHash())
	}
	if a.Status().Has(StatusPasswordChangeRequired) {
		t.Fatal("expected password change requirement cleared")
	}
}

func TestVersionIncrementsOncePerMutation(t *testing.T) {
	a := newTestAccount(t)
	hasher := &plainHasher{}
	random := &counterRandom{}

	steps := []func() error{
		func() error { _, err := a.Login(hasher, LoginAttempt{Password: "wrong", At: testNow}, DefaultLockoutPolicy); return err },
		func() error { _, err := a.IssueEmailVerification(random, 32, time.Hour, testNow); return err },
		func() error { _, err := a.EnableTwoFactor(random, "acme", testNow); return err },
		func() error { return a.ConfirmTwoFactor(staticVerifier{code: "123456"}, "123456", testNow) },
		func() error { return a.DisableTwoFactor(testNow) },
		func() error { return a.Unlock(testNow) },
		func() error { return a.Suspend("review", testNow) },
		func() error { return a.Reactivate(testNow) },
	}

	for i, step := range steps {
		before := a.Version()
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if a.Version() != before+1 {
			t.Fatalf("step %d: expected version %d, got %d", i, before+1, a.Version())
		}
	}
}

func TestTerminalAccountRejectsMutations(t *testing.T) {
	a := newTestAccount(t)
	if err := a.Delete("user request", testNow); err != nil {
		t.Fatalf("delete: %v", err)
	}
	version := a.Version()

	checks := map[string]error{
		"unlock":  a.Unlock(testNow),
		"suspend": a.Suspend("x", testNow),
		"delete":  a.Delete("again", testNow),
		"merge":   a.MergeInto("acc-2", testNow),
		"disable": a.DisableTwoFactor(testNow),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrAccountTerminal) {
			t.Fatalf("%s: expected terminal error, got %v", name, err)
		}
	}
	if _, err := a.Login(&plainHasher{}, LoginAttempt{Password: "correct-horse", At: testNow}, DefaultLockoutPolicy); !IsKind(err, KindInvalidState) {
		t.Fatalf("expected invalid state login, got %v", err)
	}
	if a.Version() != version {
		t.Fatal("terminal account must not change")
	}
}

func TestMergeIntoRecordsTarget(t *testing.T) {
	a := newTestAccount(t)
	if err := a.MergeInto("acc-1", testNow); !IsKind(err, KindValidation) {
		t.Fatalf("expected self-merge rejection, got %v", err)
	}
	if err := a.MergeInto("acc-2", testNow); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !a.Status().Has(StatusMerged) || a.MergedInto() != "acc-2" {
		t.Fatalf("unexpected merge state %s -> %q", a.Status(), a.MergedInto())
	}
}

func TestTwoFactorEnrollment(t *testing.T) {
	a := newTestAccount(t)
	random := &counterRandom{}
	verifier := staticVerifier{code: "654321"}

	if err := a.ConfirmTwoFactor(verifier, "654321", testNow); !errors.Is(err, ErrTwoFactorNotEnrolled) {
		t.Fatalf("expected not enrolled, got %v", err)
	}

	first, err := a.EnableTwoFactor(random, "acme", testNow)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if first.Active || a.IsTwoFactorEnabled() {
		t.Fatal("enrollment must start inactive")
	}

	// Restarting enrollment replaces the pending secret.
	second, err := a.EnableTwoFactor(random, "acme", testNow)
	if err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if second.Secret == first.Secret {
		t.Fatal("expected a fresh secret")
	}

	if err := a.ConfirmTwoFactor(verifier, "000000", testNow); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if err := a.ConfirmTwoFactor(verifier, "654321", testNow); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !a.IsTwoFactorEnabled() {
		t.Fatal("expected two-factor enabled")
	}
	if _, err := a.EnableTwoFactor(random, "acme", testNow); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected double enroll rejection, got %v", err)
	}
	if err := a.ConfirmTwoFactor(verifier, "654321", testNow); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected confirm on active key rejection, got %v", err)
	}

	later := testNow.Add(time.Minute)
	if err := a.VerifyTwoFactor(verifier, "654321", later); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if used := a.TwoFactor().LastUsedAt; used == nil || !used.Equal(later) {
		t.Fatalf("expected last used %v, got %v", later, used)
	}

	if err := a.DisableTwoFactor(testNow); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if a.TwoFactor() != nil {
		t.Fatal("expected secret cleared")
	}
	if err := a.VerifyTwoFactor(verifier, "654321", testNow); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected not enabled, got %v", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	a := newTestAccount(t)
	random := &counterRandom{}

	if err := a.VerifyEmail("anything-long-enough", testNow); !errors.Is(err, ErrNoPendingToken) {
		t.Fatalf("expected no pending token, got %v", err)
	}

	token, err := a.IssueEmailVerification(random, 32, time.Hour, testNow)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	version := a.Version()

	if err := a.VerifyEmail("wrong-token-value-000000000000000", testNow); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := a.VerifyEmail(token.Value(), testNow.Add(2*time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if a.Version() != version {
		t.Fatal("failed verification must not mutate")
	}

	if err := a.VerifyEmail(token.Value(), testNow.Add(time.Minute)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !a.Status().Has(StatusActive) || a.Status().Has(StatusPending) {
		t.Fatalf("expected active status, got %s", a.Status())
	}
	if err := a.VerifyEmail(token.Value(), testNow.Add(time.Minute)); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected consumed token rejection, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	a := newTestAccount(t)
	random := &counterRandom{}
	hasher := &plainHasher{}
	next, _ := NewPassword("brand-new-secret")

	if err := a.CompletePasswordReset(hasher, "token", next, testNow); !errors.Is(err, ErrNoPendingToken) {
		t.Fatalf("expected no pending token, got %v", err)
	}

	token, err := a.RequestPasswordReset(random, 48, time.Hour, testNow)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	events := a.PullEvents()
	if len(events) != 1 || events[0].Type != EventPasswordResetRequested {
		t.Fatalf("expected reset requested event, got %v", eventTypes(events))
	}

	if err := a.CompletePasswordReset(hasher, token.Value()+"x", next, testNow); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := a.CompletePasswordReset(hasher, token.Value(), next, testNow); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if a.PasswordHash() != PasswordHash("plain$brand-new-secret") {
		t.Fatal("expected hash replaced")
	}
	if err := a.CompletePasswordReset(hasher, token.Value(), next, testNow); !errors.Is(err, ErrNoPendingToken) {
		t.Fatalf("expected consumed token rejection, got %v", err)
	}
}

func TestConfirmPhone(t *testing.T) {
	a := newTestAccount(t)
	if err := a.ConfirmPhone(testNow); !errors.Is(err, ErrPhoneNotPending) {
		t.Fatalf("expected phone not pending, got %v", err)
	}

	phone := "+15550001111"
	b, _ := NewAccount("acc-2", "joe", Email("joe@example.com"), PasswordHash("plain$pw"), &phone, testNow)
	if err := b.ConfirmPhone(testNow); err != nil {
		t.Fatalf("confirm phone: %v", err)
	}
	if b.Status().Has(StatusPhoneVerificationPending) {
		t.Fatal("expected phone verification cleared")
	}
}

func TestSnapshotRoundTripKeepsVersion(t *testing.T) {
	a := newTestAccount(t)
	if _, err := a.EnableTwoFactor(&counterRandom{}, "acme", testNow); err != nil {
		t.Fatalf("enable: %v", err)
	}
	restored := RestoreAccount(a.Snapshot())
	if restored.Version() != a.Version() || restored.PersistedVersion() != a.Version() {
		t.Fatalf("expected restored version %d, got %d/%d", a.Version(), restored.Version(), restored.PersistedVersion())
	}
	if restored.TwoFactor() == nil || restored.TwoFactor().Secret != a.TwoFactor().Secret {
		t.Fatal("expected two-factor secret restored")
	}
	if restored.HasPendingChanges() {
		t.Fatal("restored account must not report pending changes")
	}
}
