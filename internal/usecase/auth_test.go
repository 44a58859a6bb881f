package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/credential-engine/internal/core/domain"
)

func TestLoginLocksOnFifthFailure(t *testing.T) {
	h := newHarness(t)
	email := "alice@example.com"
	id := h.registerActive(t, email)

	for i := 1; i <= 4; i++ {
		res := h.login(t, email, "wrong password")
		if res.Result != domain.LoginInvalidPassword {
			t.Fatalf("attempt %d: expected invalid_password, got %s", i, res.Result)
		}
		if res.RemainingAttempts != 5-i {
			t.Fatalf("attempt %d: expected %d remaining attempts, got %d", i, 5-i, res.RemainingAttempts)
		}
		if res.Tokens != nil {
			t.Fatalf("attempt %d: failed login must not issue tokens", i)
		}
	}

	a := h.account(t, id)
	if a.FailedLoginAttempts() != 4 || a.IsLocked() {
		t.Fatalf("expected 4 failures and no lock, got %d locked=%v", a.FailedLoginAttempts(), a.IsLocked())
	}

	res := h.login(t, email, "wrong password")
	if res.LockedUntil == nil || !res.LockedUntil.Equal(testNow.Add(15*time.Minute)) {
		t.Fatalf("expected lockout until %s, got %v", testNow.Add(15*time.Minute), res.LockedUntil)
	}
	if !h.account(t, id).IsLockedOut(testNow) {
		t.Fatalf("expected account to be locked out")
	}

	res = h.login(t, email, testPassword)
	if res.Result != domain.LoginAccountLocked || res.Tokens != nil {
		t.Fatalf("expected account_locked without tokens, got %+v", res)
	}

	h.clock.Advance(15 * time.Minute)
	res = h.login(t, email, testPassword)
	if res.Result != domain.LoginSuccess || res.Tokens == nil {
		t.Fatalf("expected success after lockout expiry, got %+v", res)
	}
	a = h.account(t, id)
	if a.FailedLoginAttempts() != 0 || a.IsLocked() || a.LockoutEnd() != nil {
		t.Fatalf("expected lockout cleared, got attempts=%d locked=%v", a.FailedLoginAttempts(), a.IsLocked())
	}
	if len(a.LoginHistory()) != 1 || a.LoginHistory()[0].IP != "203.0.113.7" {
		t.Fatalf("expected one login history entry, got %+v", a.LoginHistory())
	}
}

func TestLoginUnknownEmailLooksLikeWrongPassword(t *testing.T) {
	h := newHarness(t)

	res := h.login(t, "nobody@example.com", testPassword)
	if res.Result != domain.LoginInvalidPassword {
		t.Fatalf("expected invalid_password, got %s", res.Result)
	}
	if res.RemainingAttempts != 4 || res.AccountID != "" || res.Tokens != nil {
		t.Fatalf("unexpected result for unknown e-mail: %+v", res)
	}
}

func TestLoginBeforeVerificationReportsPendingActions(t *testing.T) {
	h := newHarness(t)
	phone := "+15550100"
	h.register(t, "pending@example.com", &phone)

	res := h.login(t, "PENDING@example.com", testPassword)
	if res.Result != domain.LoginNotVerified {
		t.Fatalf("expected not_verified, got %s", res.Result)
	}
	if !containsAction(res.PendingActions, domain.ActionVerifyEmail) || !containsAction(res.PendingActions, domain.ActionVerifyPhone) {
		t.Fatalf("expected verify_email and verify_phone, got %v", res.PendingActions)
	}
	if res.Tokens == nil {
		t.Fatalf("expected tokens for a pending account")
	}
}

func TestLoginRejectsSuspendedAccount(t *testing.T) {
	h := newHarness(t)
	admin := h.registerActive(t, "admin@example.com")
	h.grant(t, admin, domain.PermAccountsWrite)
	id := h.registerActive(t, "bob@example.com")

	if _, err := h.service.SuspendAccount(as(admin), SuspendAccountCommand{AccountID: id, Reason: "abuse"}); err != nil {
		t.Fatalf("SuspendAccount: %v", err)
	}

	wrong := h.login(t, "bob@example.com", "wrong password")
	unknown := h.login(t, "nobody@example.com", "wrong password")
	if wrong.Result != unknown.Result || wrong.RemainingAttempts != unknown.RemainingAttempts || wrong.AccountID != "" {
		t.Fatalf("suspended account answered %+v, unknown address %+v", wrong, unknown)
	}

	_, err := h.service.Login(context.Background(), LoginCommand{Email: "bob@example.com", Password: testPassword})
	requireKind(t, err, domain.KindInvalidState)
}

func TestLoginUnknownEmailCountsDownLikeAnAccount(t *testing.T) {
	h := newHarness(t)
	email := "real@example.com"
	h.registerActive(t, email)

	for i := 1; i <= 6; i++ {
		before := h.hasher.verifies.Load()
		real := h.login(t, email, "wrong password")
		realVerifies := h.hasher.verifies.Load() - before

		before = h.hasher.verifies.Load()
		ghost := h.login(t, "ghost@example.com", "wrong password")
		ghostVerifies := h.hasher.verifies.Load() - before

		if real.Result != ghost.Result || real.RemainingAttempts != ghost.RemainingAttempts {
			t.Fatalf("attempt %d: account answered %+v, unknown address %+v", i, real, ghost)
		}
		if (real.LockedUntil == nil) != (ghost.LockedUntil == nil) ||
			(real.LockedUntil != nil && !real.LockedUntil.Equal(*ghost.LockedUntil)) {
			t.Fatalf("attempt %d: lockouts differ: %v vs %v", i, real.LockedUntil, ghost.LockedUntil)
		}
		if realVerifies != ghostVerifies {
			t.Fatalf("attempt %d: hasher ran %d times for the account, %d for the unknown address", i, realVerifies, ghostVerifies)
		}
		if real.AccountID != "" || ghost.AccountID != "" {
			t.Fatalf("attempt %d: failed logins must not carry an account id", i)
		}
	}

	h.clock.Advance(15 * time.Minute)
	if res := h.login(t, "ghost@example.com", "wrong password"); res.Result != domain.LoginInvalidPassword {
		t.Fatalf("expected the unknown address lockout to expire, got %+v", res)
	}
}

func TestTwoFactorLoginRequiresChallenge(t *testing.T) {
	h := newHarness(t)
	email := "carol@example.com"
	id := h.registerActive(t, email)
	enableTwoFactor(t, h, id)

	res := h.login(t, email, testPassword)
	if res.Tokens != nil || res.ChallengeToken == "" {
		t.Fatalf("expected a challenge instead of tokens, got %+v", res)
	}
	if !containsAction(res.PendingActions, domain.ActionTwoFactor) {
		t.Fatalf("expected two_factor pending action, got %v", res.PendingActions)
	}
	if res.ChallengeExpiresAt == nil || !res.ChallengeExpiresAt.Equal(testNow.Add(10*time.Minute)) {
		t.Fatalf("unexpected challenge expiry %v", res.ChallengeExpiresAt)
	}

	ctx := context.Background()
	_, err := h.service.CompleteTwoFactorLogin(ctx, CompleteTwoFactorLoginCommand{ChallengeToken: res.ChallengeToken, Code: "000000"})
	if !errors.Is(err, domain.ErrInvalidTwoFactorCode) {
		t.Fatalf("expected invalid two-factor code, got %v", err)
	}

	done, err := h.service.CompleteTwoFactorLogin(ctx, CompleteTwoFactorLoginCommand{ChallengeToken: res.ChallengeToken, Code: validTOTPCode})
	if err != nil {
		t.Fatalf("CompleteTwoFactorLogin: %v", err)
	}
	if done.Tokens == nil || done.AccountID != id || done.Result != domain.LoginSuccess {
		t.Fatalf("unexpected completion result %+v", done)
	}
	if last := h.account(t, id).TwoFactor().LastUsedAt; last == nil || !last.Equal(testNow) {
		t.Fatalf("expected two-factor usage stamp, got %v", last)
	}

	_, err = h.service.CompleteTwoFactorLogin(ctx, CompleteTwoFactorLoginCommand{ChallengeToken: res.ChallengeToken, Code: validTOTPCode})
	if !errors.Is(err, ErrInvalidChallenge) {
		t.Fatalf("expected a used challenge to be rejected, got %v", err)
	}
}

func TestTwoFactorChallengeAttemptsAreCapped(t *testing.T) {
	h := newHarness(t)
	email := "dave@example.com"
	id := h.registerActive(t, email)
	enableTwoFactor(t, h, id)
	res := h.login(t, email, testPassword)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.service.CompleteTwoFactorLogin(ctx, CompleteTwoFactorLoginCommand{ChallengeToken: res.ChallengeToken, Code: "111111"})
		if !errors.Is(err, domain.ErrInvalidTwoFactorCode) {
			t.Fatalf("attempt %d: expected invalid code, got %v", i+1, err)
		}
	}
	_, err := h.service.CompleteTwoFactorLogin(ctx, CompleteTwoFactorLoginCommand{ChallengeToken: res.ChallengeToken, Code: validTOTPCode})
	requireKind(t, err, domain.KindExhausted)
}

func TestTwoFactorChallengeExpires(t *testing.T) {
	h := newHarness(t)
	email := "erin@example.com"
	id := h.registerActive(t, email)
	enableTwoFactor(t, h, id)
	res := h.login(t, email, testPassword)

	h.clock.Advance(10 * time.Minute)
	_, err := h.service.CompleteTwoFactorLogin(context.Background(), CompleteTwoFactorLoginCommand{ChallengeToken: res.ChallengeToken, Code: validTOTPCode})
	requireKind(t, err, domain.KindExpired)
}

func enableTwoFactor(t *testing.T, h *harness, id string) {
	t.Helper()
	ctx := as(id)
	if _, err := h.service.EnrollTwoFactor(ctx, EnrollTwoFactorCommand{AccountID: id}); err != nil {
		t.Fatalf("EnrollTwoFactor: %v", err)
	}
	if _, err := h.service.ConfirmTwoFactor(ctx, ConfirmTwoFactorCommand{AccountID: id, Code: validTOTPCode}); err != nil {
		t.Fatalf("ConfirmTwoFactor: %v", err)
	}
}

func containsAction(actions []domain.PendingAction, want domain.PendingAction) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}
