package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/pipeline"
)

// Options tunes credential lifetimes and limits.
type Options struct {
	Lockout domain.LockoutPolicy

	EmailTokenLength int
	EmailTokenTTL    time.Duration
	ResetTokenLength int
	ResetTokenTTL    time.Duration

	TwoFactorIssuer string

	AccessTokenTTL     time.Duration
	RefreshTokenLength int
	RefreshTokenTTL    time.Duration
	ChallengeTTL       time.Duration
	APIKeyLength       int

	CodeMaxAttempts  int
	CodeResendLimit  int
	CodeResendWindow time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Lockout:            domain.DefaultLockoutPolicy,
		EmailTokenLength:   32,
		EmailTokenTTL:      24 * time.Hour,
		ResetTokenLength:   32,
		ResetTokenTTL:      time.Hour,
		TwoFactorIssuer:    "credential-engine",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenLength: 48,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		ChallengeTTL:       10 * time.Minute,
		APIKeyLength:       40,
		CodeMaxAttempts:    domain.DefaultCodeMaxAttempts,
		CodeResendLimit:    3,
		CodeResendWindow:   15 * time.Minute,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.Lockout.MaxAttempts <= 0 {
		o.Lockout.MaxAttempts = d.Lockout.MaxAttempts
	}
	if o.Lockout.Duration <= 0 {
		o.Lockout.Duration = d.Lockout.Duration
	}
	if o.EmailTokenLength <= 0 {
		o.EmailTokenLength = d.EmailTokenLength
	}
	if o.EmailTokenTTL <= 0 {
		o.EmailTokenTTL = d.EmailTokenTTL
	}
	if o.ResetTokenLength <= 0 {
		o.ResetTokenLength = d.ResetTokenLength
	}
	if o.ResetTokenTTL <= 0 {
		o.ResetTokenTTL = d.ResetTokenTTL
	}
	if strings.TrimSpace(o.TwoFactorIssuer) == "" {
		o.TwoFactorIssuer = d.TwoFactorIssuer
	}
	if o.AccessTokenTTL <= 0 {
		o.AccessTokenTTL = d.AccessTokenTTL
	}
	if o.RefreshTokenLength <= 0 {
		o.RefreshTokenLength = d.RefreshTokenLength
	}
	if o.RefreshTokenTTL <= 0 {
		o.RefreshTokenTTL = d.RefreshTokenTTL
	}
	if o.ChallengeTTL <= 0 {
		o.ChallengeTTL = d.ChallengeTTL
	}
	if o.APIKeyLength <= 0 {
		o.APIKeyLength = d.APIKeyLength
	}
	if o.CodeMaxAttempts <= 0 {
		o.CodeMaxAttempts = d.CodeMaxAttempts
	}
	if o.CodeResendLimit <= 0 {
		o.CodeResendLimit = d.CodeResendLimit
	}
	if o.CodeResendWindow <= 0 {
		o.CodeResendWindow = d.CodeResendWindow
	}
	return o
}

// Dependencies bundles the collaborators shared by the services.
type Dependencies struct {
	Pipeline       *pipeline.Pipeline
	Accounts       port.AccountRepository
	Tokens         port.TokenRepository
	Codes          port.VerificationCodeStore
	RateLimits     port.RateLimitStore
	Delivery       port.CodeDelivery
	Roles          port.PermissionStore
	Hasher         domain.PasswordHasher
	PasswordPolicy port.PasswordPolicyValidator
	TwoFactor      domain.TwoFactorVerifier
	AccessTokens   port.AccessTokenIssuer
	Revocations    port.AccessRevocationStore
	Clock          domain.Clock
	Random         domain.RandomSource
	Logger         *zap.Logger
}

func (d *Dependencies) validate() error {
	switch {
	case d.Pipeline == nil:
		return errors.New("usecase: pipeline is required")
	case d.Accounts == nil:
		return errors.New("usecase: account repository is required")
	case d.Tokens == nil:
		return errors.New("usecase: token repository is required")
	case d.Codes == nil:
		return errors.New("usecase: verification code store is required")
	case d.Hasher == nil:
		return errors.New("usecase: password hasher is required")
	case d.TwoFactor == nil:
		return errors.New("usecase: two-factor verifier is required")
	case d.AccessTokens == nil:
		return errors.New("usecase: access token issuer is required")
	}
	if d.Clock == nil {
		d.Clock = domain.SystemClock
	}
	if d.Random == nil {
		d.Random = domain.CryptoRandom
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return nil
}

// ErrRateLimited indicates too many attempts inside the sliding window.
var ErrRateLimited = domain.NewError(domain.KindRateLimited, "rate_limited", "too many attempts, try again later")

// AccountService runs the account lifecycle commands.
type AccountService struct {
	deps   Dependencies
	opts   Options
	tokens *TokenService

	decoyOnce sync.Once
	decoyHash string
}

// NewAccountService constructs the service and its token issuer.
func NewAccountService(deps Dependencies, opts Options) (*AccountService, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	opts = opts.normalized()
	return &AccountService{deps: deps, opts: opts, tokens: newTokenService(deps, opts)}, nil
}

// Tokens exposes the token service sharing this service's collaborators.
func (s *AccountService) Tokens() *TokenService {
	return s.tokens
}

func (s *AccountService) now() time.Time {
	return s.deps.Clock.Now().UTC()
}

// load fetches an account and tracks it in the command scope.
func (s *AccountService) load(ctx context.Context, scope *pipeline.Scope, accountID string) (*domain.Account, error) {
	account, err := s.deps.Accounts.FindByID(ctx, accountID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	scope.Track(account)
	return account, nil
}

// requireSelf rejects callers acting on another account's credentials.
func requireSelf(ctx context.Context, accountID string) error {
	principal, ok := pipeline.PrincipalFrom(ctx)
	if !ok {
		return pipeline.ErrUnauthenticated
	}
	if principal.AccountID != accountID {
		return pipeline.ErrForbidden.WithDetail("reason", "self_service_only")
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.Errorf(domain.KindValidation, "missing_"+field, "%s is required", strings.ReplaceAll(field, "_", " "))
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *AccountService) checkPasswordPolicy(password string, account port.PasswordContext) error {
	if s.deps.PasswordPolicy == nil {
		return nil
	}
	return s.deps.PasswordPolicy.Validate(password, account)
}

// concealTokenState reports failures that would reveal an account's state to
// an anonymous caller as a plain token mismatch.
func concealTokenState(err error) error {
	if errors.Is(err, domain.ErrAlreadyVerified) ||
		errors.Is(err, domain.ErrNoPendingToken) ||
		errors.Is(err, domain.ErrAccountTerminal) {
		return domain.ErrTokenMismatch
	}
	return err
}

func passwordContext(a *domain.Account) port.PasswordContext {
	return port.PasswordContext{Username: a.Username(), Email: a.Email().String(), Phone: a.Phone()}
}

// deliver hands a secret to the delivery channel once the command committed.
func (s *AccountService) deliver(scope *pipeline.Scope, message port.DeliveryMessage) {
	if s.deps.Delivery == nil {
		return
	}
	scope.AfterCommit(func(ctx context.Context) error {
		return s.deps.Delivery.Deliver(ctx, message)
	})
}

// checkRateLimit records an attempt for key unless limit attempts already
// happened within window, in which case it reports when to retry.
func checkRateLimit(ctx context.Context, store port.RateLimitStore, key string, limit int, window time.Duration, now time.Time) error {
	if store == nil || limit <= 0 {
		return nil
	}
	if err := store.TrimWindow(ctx, key, window, now); err != nil {
		return fmt.Errorf("trim rate limit window: %w", err)
	}
	count, err := store.CountAttempts(ctx, key, window, now)
	if err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	if count >= limit {
		retryAfter := window
		if oldest, ok, err := store.OldestAttempt(ctx, key, window, now); err == nil && ok {
			retryAfter = oldest.Add(window).Sub(now)
		}
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		return ErrRateLimited.WithDetail("retry_after", seconds)
	}
	if err := store.RecordAttempt(ctx, key, now); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}
