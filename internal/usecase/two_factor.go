package usecase

import (
	"context"
	"fmt"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/pipeline"
)

// EnrollTwoFactorCommand starts TOTP enrollment for the caller.
type EnrollTwoFactorCommand struct {
	AccountID string
}

func (EnrollTwoFactorCommand) CommandName() string { return "two_factor.enroll" }

func (c EnrollTwoFactorCommand) Validate() error { return required("account_id", c.AccountID) }

func (EnrollTwoFactorCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsSelf }

// TwoFactorEnrollment carries the secret the authenticator app must import.
type TwoFactorEnrollment struct {
	KeyID           string
	Secret          string
	ProvisioningURI string
}

// EnrollTwoFactor generates an inactive secret. Restarting replaces a pending one.
func (s *AccountService) EnrollTwoFactor(ctx context.Context, cmd EnrollTwoFactorCommand) (TwoFactorEnrollment, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleEnrollTwoFactor)
}

func (s *AccountService) handleEnrollTwoFactor(ctx context.Context, scope *pipeline.Scope, cmd EnrollTwoFactorCommand) (TwoFactorEnrollment, error) {
	if err := requireSelf(ctx, cmd.AccountID); err != nil {
		return TwoFactorEnrollment{}, err
	}
	account, err := s.load(ctx, scope, cmd.AccountID)
	if err != nil {
		return TwoFactorEnrollment{}, err
	}
	key, err := account.EnableTwoFactor(s.deps.Random, s.opts.TwoFactorIssuer, s.now())
	if err != nil {
		return TwoFactorEnrollment{}, err
	}
	return TwoFactorEnrollment{
		KeyID:           key.ID,
		Secret:          key.Secret,
		ProvisioningURI: key.ProvisioningURI(account.Email().String()),
	}, nil
}

// ConfirmTwoFactorCommand activates a pending enrollment.
type ConfirmTwoFactorCommand struct {
	AccountID string
	Code      string
}

func (ConfirmTwoFactorCommand) CommandName() string { return "two_factor.confirm" }

func (c ConfirmTwoFactorCommand) Validate() error {
	return firstError(required("account_id", c.AccountID), required("code", c.Code))
}

func (ConfirmTwoFactorCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsSelf }

// ConfirmTwoFactor proves possession of the pending secret. Attempts are
// throttled with the code attempt budget over the code resend window.
func (s *AccountService) ConfirmTwoFactor(ctx context.Context, cmd ConfirmTwoFactorCommand) (struct{}, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleConfirmTwoFactor)
}

func (s *AccountService) handleConfirmTwoFactor(ctx context.Context, scope *pipeline.Scope, cmd ConfirmTwoFactorCommand) (struct{}, error) {
	if err := requireSelf(ctx, cmd.AccountID); err != nil {
		return struct{}{}, err
	}
	now := s.now()
	key := "two_factor:confirm:" + cmd.AccountID
	if err := checkRateLimit(ctx, s.deps.RateLimits, key, s.opts.CodeMaxAttempts, s.opts.CodeResendWindow, now); err != nil {
		return struct{}{}, err
	}

	account, err := s.load(ctx, scope, cmd.AccountID)
	if err != nil {
		return struct{}{}, err
	}
	return struct{}{}, account.ConfirmTwoFactor(s.deps.TwoFactor, cmd.Code, now)
}

// DisableTwoFactorCommand removes two-factor authentication after re-authentication.
type DisableTwoFactorCommand struct {
	AccountID string
	Password  string
}

func (DisableTwoFactorCommand) CommandName() string { return "two_factor.disable" }

func (c DisableTwoFactorCommand) Validate() error {
	return firstError(required("account_id", c.AccountID), required("password", c.Password))
}

func (DisableTwoFactorCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsSelf }

// DisableTwoFactor removes the secret once the current password verifies.
func (s *AccountService) DisableTwoFactor(ctx context.Context, cmd DisableTwoFactorCommand) (struct{}, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleDisableTwoFactor)
}

func (s *AccountService) handleDisableTwoFactor(ctx context.Context, scope *pipeline.Scope, cmd DisableTwoFactorCommand) (struct{}, error) {
	if err := requireSelf(ctx, cmd.AccountID); err != nil {
		return struct{}{}, err
	}
	account, err := s.load(ctx, scope, cmd.AccountID)
	if err != nil {
		return struct{}{}, err
	}
	ok, err := s.deps.Hasher.Verify(cmd.Password, string(account.PasswordHash()))
	if err != nil {
		return struct{}{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return struct{}{}, domain.ErrIncorrectPassword
	}
	return struct{}{}, account.DisableTwoFactor(s.now())
}
