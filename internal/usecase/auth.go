package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/pipeline"
	"github.com/arklim/credential-engine/internal/repository"
)

// ErrInvalidChallenge indicates a login challenge is unknown, used, or revoked.
var ErrInvalidChallenge = domain.NewError(domain.KindUnauthenticated, "invalid_login_challenge", "login challenge is invalid")

// LoginCommand authenticates with e-mail and password.
type LoginCommand struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

func (LoginCommand) CommandName() string { return "auth.login" }

func (c LoginCommand) Validate() error {
	return firstError(required("email", c.Email), required("password", c.Password))
}

// CompleteTwoFactorLoginCommand redeems a login challenge with a TOTP code.
type CompleteTwoFactorLoginCommand struct {
	ChallengeToken string
	Code           string
	IP             string
	UserAgent      string
}

func (CompleteTwoFactorLoginCommand) CommandName() string { return "auth.complete_two_factor" }

func (c CompleteTwoFactorLoginCommand) Validate() error {
	return firstError(required("challenge_token", c.ChallengeToken), required("code", c.Code))
}

// LoginResult reports the outcome of a login step. Exactly one of Tokens and
// ChallengeToken is set when the password verified.
type LoginResult struct {
	Result             domain.LoginResult
	AccountID          string
	PendingActions     []domain.PendingAction
	RemainingAttempts  int
	LockedUntil        *time.Time
	Tokens             *TokenPair
	ChallengeToken     string
	ChallengeExpiresAt *time.Time
}

// Authenticated reports whether the step produced credentials or a challenge.
func (r LoginResult) Authenticated() bool {
	return r.Result == domain.LoginSuccess || r.Result == domain.LoginNotVerified
}

// Login verifies a password. Wrong passwords and lockouts are results, not
// errors, so the failure counter is persisted. An unknown e-mail answers like
// a wrong password on a real account, including the lockout countdown.
func (s *AccountService) Login(ctx context.Context, cmd LoginCommand) (LoginResult, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleLogin)
}

func (s *AccountService) handleLogin(ctx context.Context, scope *pipeline.Scope, cmd LoginCommand) (LoginResult, error) {
	email, err := domain.NewEmail(cmd.Email)
	if err != nil {
		return LoginResult{}, err
	}

	account, err := s.deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return s.rejectUnknownLogin(ctx, email, cmd.Password)
		}
		return LoginResult{}, fmt.Errorf("find account: %w", err)
	}
	// Deleted and merged accounts answer like unknown addresses.
	if account.Status().IsTerminal() {
		return s.rejectUnknownLogin(ctx, email, cmd.Password)
	}
	scope.Track(account)

	now := s.now()
	outcome, err := account.Login(s.deps.Hasher, domain.LoginAttempt{
		Password:  cmd.Password,
		IP:        cmd.IP,
		UserAgent: cmd.UserAgent,
		At:        now,
	}, s.opts.Lockout)
	if err != nil {
		return LoginResult{}, err
	}

	result := LoginResult{
		Result:            outcome.Result,
		PendingActions:    outcome.PendingActions,
		RemainingAttempts: outcome.RemainingAttempts,
		LockedUntil:       outcome.LockedUntil,
	}
	if !result.Authenticated() {
		return result, nil
	}
	result.AccountID = account.ID()

	if outcome.Requires(domain.ActionTwoFactor) {
		challenge, err := s.issueChallenge(ctx, account, cmd.IP, now)
		if err != nil {
			return LoginResult{}, err
		}
		result.ChallengeToken = challenge.Value()
		result.ChallengeExpiresAt = challenge.ExpiresAt()
		return result, nil
	}

	pair, err := s.tokens.issuePair(ctx, account, "", now)
	if err != nil {
		return LoginResult{}, err
	}
	result.Tokens = &pair
	return result, nil
}

// rejectUnknownLogin answers for an address without a usable account. The
// hasher runs against a decoy hash and failures are counted per address in
// the rate limit store, so the answer and its timing match a wrong password.
func (s *AccountService) rejectUnknownLogin(ctx context.Context, email domain.Email, password string) (LoginResult, error) {
	policy := s.opts.Lockout
	store := s.deps.RateLimits
	if store == nil {
		s.verifyDecoy(password)
		return LoginResult{Result: domain.LoginInvalidPassword, RemainingAttempts: policy.MaxAttempts - 1}, nil
	}

	now := s.now()
	key := "login:unknown:" + domain.HashTokenValue(email.String())
	if err := store.TrimWindow(ctx, key, policy.Duration, now); err != nil {
		return LoginResult{}, fmt.Errorf("trim login attempts: %w", err)
	}
	count, err := store.CountAttempts(ctx, key, policy.Duration, now)
	if err != nil {
		return LoginResult{}, fmt.Errorf("count login attempts: %w", err)
	}
	if count >= policy.MaxAttempts {
		until := now.Add(policy.Duration)
		if oldest, ok, err := store.OldestAttempt(ctx, key, policy.Duration, now); err == nil && ok {
			until = oldest.Add(policy.Duration).UTC()
		}
		return LoginResult{Result: domain.LoginAccountLocked, LockedUntil: &until}, nil
	}

	s.verifyDecoy(password)
	if err := store.RecordAttempt(ctx, key, now); err != nil {
		return LoginResult{}, fmt.Errorf("record login attempt: %w", err)
	}
	count++
	if count >= policy.MaxAttempts {
		until := now.Add(policy.Duration)
		return LoginResult{Result: domain.LoginInvalidPassword, LockedUntil: &until}, nil
	}
	return LoginResult{Result: domain.LoginInvalidPassword, RemainingAttempts: policy.MaxAttempts - count}, nil
}

func (s *AccountService) verifyDecoy(password string) {
	s.decoyOnce.Do(func() {
		hash, err := s.deps.Hasher.Hash(uuid.NewString())
		if err != nil {
			s.deps.Logger.Warn("decoy password hash failed", zap.Error(err))
			return
		}
		s.decoyHash = hash
	})
	if _, err := s.deps.Hasher.Verify(password, s.decoyHash); err != nil {
		s.deps.Logger.Debug("decoy password verification failed", zap.Error(err))
	}
}

func (s *AccountService) issueChallenge(ctx context.Context, account *domain.Account, ip string, now time.Time) (domain.Token, error) {
	challenge, err := domain.GenerateToken(s.deps.Random, domain.TokenLoginChallenge, s.opts.RefreshTokenLength, s.opts.ChallengeTTL, now)
	if err != nil {
		return domain.Token{}, fmt.Errorf("generate login challenge: %w", err)
	}
	record := domain.NewTokenRecord(uuid.NewString(), account.ID(), "", challenge)
	if ip != "" {
		record.Metadata = map[string]any{"ip": ip}
	}
	if err := s.deps.Tokens.Create(ctx, record); err != nil {
		return domain.Token{}, fmt.Errorf("store login challenge: %w", err)
	}
	return challenge, nil
}

// CompleteTwoFactorLogin redeems a login challenge. A wrong code rolls the
// challenge back so it can be retried; attempts per challenge are capped.
func (s *AccountService) CompleteTwoFactorLogin(ctx context.Context, cmd CompleteTwoFactorLoginCommand) (LoginResult, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleCompleteTwoFactor)
}

func (s *AccountService) handleCompleteTwoFactor(ctx context.Context, scope *pipeline.Scope, cmd CompleteTwoFactorLoginCommand) (LoginResult, error) {
	now := s.now()
	hash := domain.HashTokenValue(strings.TrimSpace(cmd.ChallengeToken))

	limitKey := "challenge:" + hash
	if err := checkRateLimit(ctx, s.deps.RateLimits, limitKey, s.opts.CodeMaxAttempts, s.opts.ChallengeTTL, now); err != nil {
		if domain.IsKind(err, domain.KindRateLimited) {
			return LoginResult{}, domain.ErrCodeExhausted
		}
		return LoginResult{}, err
	}

	record, err := s.deps.Tokens.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return LoginResult{}, ErrInvalidChallenge
		}
		return LoginResult{}, fmt.Errorf("get login challenge: %w", err)
	}
	if record.Type != domain.TokenLoginChallenge {
		return LoginResult{}, ErrInvalidChallenge
	}
	if record.UsedAt == nil && !record.IsRevoked() && record.IsExpired(now) {
		return LoginResult{}, domain.ErrTokenExpired.WithDetail("type", string(domain.TokenLoginChallenge))
	}
	if _, err := s.deps.Tokens.Consume(ctx, hash, now); err != nil {
		if errors.Is(err, repository.ErrAlreadyConsumed) {
			return LoginResult{}, ErrInvalidChallenge
		}
		return LoginResult{}, fmt.Errorf("consume login challenge: %w", err)
	}

	account, err := s.load(ctx, scope, record.AccountID)
	if err != nil {
		return LoginResult{}, err
	}
	if err := account.VerifyTwoFactor(s.deps.TwoFactor, cmd.Code, now); err != nil {
		return LoginResult{}, err
	}

	pair, err := s.tokens.issuePair(ctx, account, "", now)
	if err != nil {
		return LoginResult{}, err
	}
	result := LoginResult{Result: domain.LoginSuccess, AccountID: account.ID(), Tokens: &pair}
	if account.Status().Has(domain.StatusPending) {
		result.Result = domain.LoginNotVerified
	}
	return result, nil
}
