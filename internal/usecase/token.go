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
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/pipeline"
	"github.com/arklim/credential-engine/internal/repository"
)

const bearerTokenType = "Bearer"

var (
	// ErrInvalidRefreshToken hides whether a refresh token is unknown, foreign, or of another type.
	ErrInvalidRefreshToken = domain.NewError(domain.KindUnauthenticated, "invalid_refresh_token", "refresh token is invalid")
	// ErrInvalidAccessToken indicates a bearer token failed verification.
	ErrInvalidAccessToken = domain.NewError(domain.KindUnauthenticated, "invalid_access_token", "access token is invalid")
	// ErrAccessTokenRevoked indicates the token's family or subject was revoked.
	ErrAccessTokenRevoked = domain.NewError(domain.KindUnauthenticated, "access_token_revoked", "access token has been revoked")
	// ErrInvalidAPIKey indicates an API key is unknown, expired, or revoked.
	ErrInvalidAPIKey = domain.NewError(domain.KindUnauthenticated, "invalid_api_key", "api key is invalid")
)

// Revocation reasons recorded on token records and access revocation markers.
const (
	ReasonRefreshReuse     = "refresh_token_reuse"
	ReasonLogout           = "logout"
	ReasonAdministrative   = "administrative"
	ReasonPasswordChanged  = "password_changed"
	ReasonPasswordReset    = "password_reset"
	ReasonAccountDeleted   = "account_deleted"
	ReasonAccountSuspended = "account_suspended"
)

// TokenPair is the credential set handed out after authentication.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	FamilyID         string
	TokenType        string
}

// RefreshOutcome distinguishes a normal rotation from a detected replay.
type RefreshOutcome string

const (
	RefreshRotated       RefreshOutcome = "rotated"
	RefreshReuseDetected RefreshOutcome = "reuse_detected"
)

// RefreshResult is returned by RefreshTokens. Tokens is nil when reuse was detected.
type RefreshResult struct {
	Outcome  RefreshOutcome
	Tokens   *TokenPair
	FamilyID string
}

// RefreshTokensCommand exchanges a refresh token for a new pair.
type RefreshTokensCommand struct {
	RefreshToken string
	IP           string
}

func (RefreshTokensCommand) CommandName() string { return "tokens.refresh" }

func (c RefreshTokensCommand) Validate() error {
	return required("refresh_token", c.RefreshToken)
}

// RevokeTokensCommand revokes one refresh family, or every credential of the account.
type RevokeTokensCommand struct {
	AccountID      string
	RefreshToken   string
	Reason         string
	Administrative bool
}

func (RevokeTokensCommand) CommandName() string { return "tokens.revoke" }

func (c RevokeTokensCommand) Validate() error {
	return required("account_id", c.AccountID)
}

func (c RevokeTokensCommand) RequiredPermission() domain.Permissions {
	if c.Administrative {
		return domain.PermTokensRevoke
	}
	return domain.PermAccountsSelf
}

// RevokeResult reports how many token records were revoked.
type RevokeResult struct {
	Revoked int
}

// IssueAPIKeyCommand creates a long-lived API key for the caller's own account.
type IssueAPIKeyCommand struct {
	AccountID string
	Name      string
	ExpiresIn time.Duration
}

func (IssueAPIKeyCommand) CommandName() string { return "tokens.issue_api_key" }

func (c IssueAPIKeyCommand) Validate() error {
	if err := firstError(required("account_id", c.AccountID), required("name", c.Name)); err != nil {
		return err
	}
	if c.ExpiresIn < 0 {
		return domain.NewError(domain.KindValidation, "invalid_expiry", "expiry must not be negative")
	}
	return nil
}

func (IssueAPIKeyCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsSelf }

// APIKey is the freshly issued key. Key is shown once and stored only by digest.
type APIKey struct {
	ID        string
	Key       string
	Name      string
	ExpiresAt *time.Time
}

// TokenService issues, rotates, verifies, and revokes bearer credentials.
type TokenService struct {
	deps Dependencies
	opts Options
}

func newTokenService(deps Dependencies, opts Options) *TokenService {
	return &TokenService{deps: deps, opts: opts}
}

func (s *TokenService) now() time.Time {
	return s.deps.Clock.Now().UTC()
}

// RefreshTokens rotates a refresh token. Presenting a used or revoked token
// revokes its whole family and reports RefreshReuseDetected without an error,
// so the revocation commits.
func (s *TokenService) RefreshTokens(ctx context.Context, cmd RefreshTokensCommand) (RefreshResult, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleRefresh)
}

func (s *TokenService) handleRefresh(ctx context.Context, scope *pipeline.Scope, cmd RefreshTokensCommand) (RefreshResult, error) {
	now := s.now()
	hash := domain.HashTokenValue(strings.TrimSpace(cmd.RefreshToken))

	record, err := s.deps.Tokens.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RefreshResult{}, ErrInvalidRefreshToken
		}
		return RefreshResult{}, fmt.Errorf("get refresh token: %w", err)
	}
	if record.Type != domain.TokenRefresh {
		return RefreshResult{}, ErrInvalidRefreshToken
	}
	if record.UsedAt != nil || record.IsRevoked() {
		return s.reuseDetected(ctx, scope, record, cmd.IP, now)
	}
	if record.IsExpired(now) {
		return RefreshResult{}, domain.ErrTokenExpired.WithDetail("type", string(domain.TokenRefresh))
	}

	consumed, err := s.deps.Tokens.Consume(ctx, hash, now)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyConsumed) {
			if consumed != nil && consumed.IsExpired(now) && consumed.UsedAt == nil && !consumed.IsRevoked() {
				return RefreshResult{}, domain.ErrTokenExpired.WithDetail("type", string(domain.TokenRefresh))
			}
			return s.reuseDetected(ctx, scope, record, cmd.IP, now)
		}
		return RefreshResult{}, fmt.Errorf("consume refresh token: %w", err)
	}

	account, err := s.deps.Accounts.FindByID(ctx, consumed.AccountID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return RefreshResult{}, ErrInvalidRefreshToken
		}
		return RefreshResult{}, fmt.Errorf("load account: %w", err)
	}
	if err := account.CheckActive(); err != nil {
		return RefreshResult{}, err
	}

	pair, err := s.issuePair(ctx, account, consumed.FamilyID, now)
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{Outcome: RefreshRotated, Tokens: &pair, FamilyID: consumed.FamilyID}, nil
}

func (s *TokenService) reuseDetected(ctx context.Context, scope *pipeline.Scope, record *domain.TokenRecord, ip string, now time.Time) (RefreshResult, error) {
	revoked, err := s.deps.Tokens.RevokeFamily(ctx, record.FamilyID, ReasonRefreshReuse, now)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("revoke token family: %w", err)
	}
	s.deps.Logger.Warn("refresh token reuse detected",
		zap.String("account_id", record.AccountID),
		zap.String("family_id", record.FamilyID),
		zap.String("ip", ip),
		zap.Int("revoked", revoked),
	)
	s.revokeFamilyAccess(scope, record.FamilyID, ReasonRefreshReuse)
	return RefreshResult{Outcome: RefreshReuseDetected, FamilyID: record.FamilyID}, nil
}

// RevokeTokens revokes the family of the given refresh token, or every token
// of the account when none is given.
func (s *TokenService) RevokeTokens(ctx context.Context, cmd RevokeTokensCommand) (RevokeResult, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleRevoke)
}

func (s *TokenService) handleRevoke(ctx context.Context, scope *pipeline.Scope, cmd RevokeTokensCommand) (RevokeResult, error) {
	if !cmd.Administrative {
		if err := requireSelf(ctx, cmd.AccountID); err != nil {
			return RevokeResult{}, err
		}
	}
	if _, err := s.deps.Accounts.FindByID(ctx, cmd.AccountID); err != nil {
		return RevokeResult{}, err
	}

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = ReasonLogout
		if cmd.Administrative {
			reason = ReasonAdministrative
		}
	}

	if raw := strings.TrimSpace(cmd.RefreshToken); raw != "" {
		record, err := s.deps.Tokens.GetByHash(ctx, domain.HashTokenValue(raw))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return RevokeResult{}, ErrInvalidRefreshToken
			}
			return RevokeResult{}, fmt.Errorf("get refresh token: %w", err)
		}
		if record.AccountID != cmd.AccountID || record.Type != domain.TokenRefresh {
			return RevokeResult{}, ErrInvalidRefreshToken
		}
		n, err := s.deps.Tokens.RevokeFamily(ctx, record.FamilyID, reason, now)
		if err != nil {
			return RevokeResult{}, fmt.Errorf("revoke token family: %w", err)
		}
		s.revokeFamilyAccess(scope, record.FamilyID, reason)
		return RevokeResult{Revoked: n}, nil
	}

	n, err := s.revokeAll(ctx, scope, cmd.AccountID, reason, now)
	if err != nil {
		return RevokeResult{}, err
	}
	return RevokeResult{Revoked: n}, nil
}

// revokeAll revokes every stored token of the account and denies access
// tokens issued up to now.
func (s *TokenService) revokeAll(ctx context.Context, scope *pipeline.Scope, accountID, reason string, now time.Time) (int, error) {
	n, err := s.deps.Tokens.RevokeForAccount(ctx, accountID, reason, now)
	if err != nil {
		return 0, fmt.Errorf("revoke account tokens: %w", err)
	}
	if s.deps.Revocations != nil {
		ttl := s.opts.AccessTokenTTL
		scope.AfterCommit(func(ctx context.Context) error {
			return s.deps.Revocations.RevokeSubject(ctx, accountID, now, ttl)
		})
	}
	return n, nil
}

func (s *TokenService) revokeFamilyAccess(scope *pipeline.Scope, familyID, reason string) {
	if s.deps.Revocations == nil || familyID == "" {
		return
	}
	ttl := s.opts.AccessTokenTTL
	scope.AfterCommit(func(ctx context.Context) error {
		return s.deps.Revocations.RevokeFamily(ctx, familyID, reason, ttl)
	})
}

// IssueAPIKey creates an API key. A zero ExpiresIn issues a non-expiring key.
func (s *TokenService) IssueAPIKey(ctx context.Context, cmd IssueAPIKeyCommand) (APIKey, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleIssueAPIKey)
}

func (s *TokenService) handleIssueAPIKey(ctx context.Context, _ *pipeline.Scope, cmd IssueAPIKeyCommand) (APIKey, error) {
	if err := requireSelf(ctx, cmd.AccountID); err != nil {
		return APIKey{}, err
	}
	account, err := s.deps.Accounts.FindByID(ctx, cmd.AccountID)
	if err != nil {
		return APIKey{}, err
	}
	if err := account.CheckActive(); err != nil {
		return APIKey{}, err
	}

	now := s.now()
	var token domain.Token
	if cmd.ExpiresIn == 0 {
		token, err = domain.GenerateNonExpiringToken(s.deps.Random, domain.TokenAPIKey, s.opts.APIKeyLength, now)
	} else {
		token, err = domain.GenerateToken(s.deps.Random, domain.TokenAPIKey, s.opts.APIKeyLength, cmd.ExpiresIn, now)
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("generate api key: %w", err)
	}

	record := domain.NewTokenRecord(uuid.NewString(), account.ID(), "", token)
	record.Metadata = map[string]any{"name": strings.TrimSpace(cmd.Name)}
	if err := s.deps.Tokens.Create(ctx, record); err != nil {
		return APIKey{}, fmt.Errorf("store api key: %w", err)
	}
	return APIKey{ID: record.ID, Key: token.Value(), Name: strings.TrimSpace(cmd.Name), ExpiresAt: token.ExpiresAt()}, nil
}

// issuePair creates an access token and a refresh token in familyID.
// An empty familyID starts a new family.
func (s *TokenService) issuePair(ctx context.Context, account *domain.Account, familyID string, now time.Time) (TokenPair, error) {
	if familyID == "" {
		familyID = uuid.NewString()
	}

	refresh, err := domain.GenerateToken(s.deps.Random, domain.TokenRefresh, s.opts.RefreshTokenLength, s.opts.RefreshTokenTTL, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	record := domain.NewTokenRecord(uuid.NewString(), account.ID(), familyID, refresh)
	if err := s.deps.Tokens.Create(ctx, record); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}

	roles, err := s.roleNames(ctx, account.ID())
	if err != nil {
		return TokenPair{}, err
	}
	accessExpires := now.Add(s.opts.AccessTokenTTL)
	access, err := s.deps.AccessTokens.Issue(port.AccessClaims{
		Subject:   account.ID(),
		TokenID:   uuid.NewString(),
		FamilyID:  familyID,
		Roles:     roles,
		IssuedAt:  now,
		ExpiresAt: accessExpires,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     refresh.Value(),
		RefreshExpiresAt: *refresh.ExpiresAt(),
		FamilyID:         familyID,
		TokenType:        bearerTokenType,
	}, nil
}

func (s *TokenService) roleNames(ctx context.Context, accountID string) ([]string, error) {
	if s.deps.Roles == nil {
		return nil, nil
	}
	roles, err := s.deps.Roles.AssignedRoles(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list assigned roles: %w", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// Authenticate verifies an access token and checks it against the revocation markers.
func (s *TokenService) Authenticate(ctx context.Context, raw string) (pipeline.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pipeline.Principal{}, pipeline.ErrUnauthenticated
	}
	claims, err := s.deps.AccessTokens.Parse(raw)
	if err != nil {
		if domain.IsKind(err, domain.KindUnauthenticated) {
			return pipeline.Principal{}, err
		}
		s.deps.Logger.Debug("access token rejected", zap.Error(err))
		return pipeline.Principal{}, ErrInvalidAccessToken
	}

	if s.deps.Revocations != nil {
		revoked, reason, err := s.deps.Revocations.IsRevoked(ctx, *claims)
		if err != nil {
			return pipeline.Principal{}, fmt.Errorf("check access revocation: %w", err)
		}
		if revoked {
			return pipeline.Principal{}, ErrAccessTokenRevoked.WithDetail("reason", reason)
		}
	}
	return pipeline.Principal{AccountID: claims.Subject, TokenID: claims.TokenID}, nil
}

// AuthenticateAPIKey resolves an API key to its owning account.
func (s *TokenService) AuthenticateAPIKey(ctx context.Context, raw string) (pipeline.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pipeline.Principal{}, pipeline.ErrUnauthenticated
	}
	record, err := s.deps.Tokens.GetByHash(ctx, domain.HashTokenValue(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return pipeline.Principal{}, ErrInvalidAPIKey
		}
		return pipeline.Principal{}, fmt.Errorf("get api key: %w", err)
	}
	if record.Type != domain.TokenAPIKey || !record.IsActive(s.now()) {
		return pipeline.Principal{}, ErrInvalidAPIKey
	}

	account, err := s.deps.Accounts.FindByID(ctx, record.AccountID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return pipeline.Principal{}, ErrInvalidAPIKey
		}
		return pipeline.Principal{}, fmt.Errorf("load account: %w", err)
	}
	if err := account.CheckActive(); err != nil {
		return pipeline.Principal{}, ErrInvalidAPIKey
	}
	return pipeline.Principal{AccountID: record.AccountID, TokenID: record.ID}, nil
}
