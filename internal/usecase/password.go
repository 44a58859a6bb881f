package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/pipeline"
)

// ChangePasswordCommand replaces the caller's password.
type ChangePasswordCommand struct {
	AccountID       string
	CurrentPassword string
	NewPassword     string
}

func (ChangePasswordCommand) CommandName() string { return "accounts.change_password" }

func (c ChangePasswordCommand) Validate() error {
	return firstError(
		required("account_id", c.AccountID),
		required("current_password", c.CurrentPassword),
		required("new_password", c.NewPassword),
	)
}

func (ChangePasswordCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsSelf }

// PasswordChanged reports the side effects of a password replacement.
type PasswordChanged struct {
	RevokedTokens int
}

// ChangePassword verifies the current password, installs the new one, and
// signs out every session of the account.
func (s *AccountService) ChangePassword(ctx context.Context, cmd ChangePasswordCommand) (PasswordChanged, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleChangePassword)
}

func (s *AccountService) handleChangePassword(ctx context.Context, scope *pipeline.Scope, cmd ChangePasswordCommand) (PasswordChanged, error) {
	if err := requireSelf(ctx, cmd.AccountID); err != nil {
		return PasswordChanged{}, err
	}
	next, err := domain.NewPassword(cmd.NewPassword)
	if err != nil {
		return PasswordChanged{}, err
	}
	account, err := s.load(ctx, scope, cmd.AccountID)
	if err != nil {
		return PasswordChanged{}, err
	}
	if err := s.checkPasswordPolicy(cmd.NewPassword, passwordContext(account)); err != nil {
		return PasswordChanged{}, err
	}

	now := s.now()
	if err := account.ChangePassword(s.deps.Hasher, cmd.CurrentPassword, next, now); err != nil {
		return PasswordChanged{}, err
	}
	revoked, err := s.tokens.revokeAll(ctx, scope, account.ID(), ReasonPasswordChanged, now)
	if err != nil {
		return PasswordChanged{}, err
	}
	return PasswordChanged{RevokedTokens: revoked}, nil
}

// RequestPasswordResetCommand starts the reset flow for an e-mail address.
type RequestPasswordResetCommand struct {
	Email string
}

func (RequestPasswordResetCommand) CommandName() string { return "accounts.request_password_reset" }

func (c RequestPasswordResetCommand) Validate() error {
	return required("email", c.Email)
}

// RequestPasswordReset e-mails a reset token. Unknown and throttled addresses
// succeed silently.
func (s *AccountService) RequestPasswordReset(ctx context.Context, cmd RequestPasswordResetCommand) (struct{}, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleRequestReset)
}

func (s *AccountService) handleRequestReset(ctx context.Context, scope *pipeline.Scope, cmd RequestPasswordResetCommand) (struct{}, error) {
	account, err := s.findByEmail(ctx, scope, cmd.Email)
	if err != nil {
		return struct{}{}, silenceUnknown(err)
	}
	if err := account.CheckActive(); err != nil {
		s.deps.Logger.Info("password reset for inactive account ignored", zap.String("account_id", account.ID()))
		return struct{}{}, nil
	}

	now := s.now()
	key := "resend:" + PurposePasswordReset + ":" + account.ID()
	if err := checkRateLimit(ctx, s.deps.RateLimits, key, s.opts.CodeResendLimit, s.opts.CodeResendWindow, now); err != nil {
		if domain.IsKind(err, domain.KindRateLimited) {
			s.deps.Logger.Info("password reset throttled", zap.String("account_id", account.ID()))
			return struct{}{}, nil
		}
		return struct{}{}, err
	}

	token, err := account.RequestPasswordReset(s.deps.Random, s.opts.ResetTokenLength, s.opts.ResetTokenTTL, now)
	if err != nil {
		return struct{}{}, err
	}
	message := port.DeliveryMessage{
		AccountID:   account.ID(),
		Channel:     ChannelEmail,
		Destination: account.Email().String(),
		Purpose:     PurposePasswordReset,
		Secret:      token.Value(),
	}
	if exp := token.ExpiresAt(); exp != nil {
		message.ExpiresAt = *exp
	}
	s.deliver(scope, message)
	return struct{}{}, nil
}

// CompletePasswordResetCommand redeems a reset token.
type CompletePasswordResetCommand struct {
	Email       string
	Token       string
	NewPassword string
}

func (CompletePasswordResetCommand) CommandName() string { return "accounts.complete_password_reset" }

func (c CompletePasswordResetCommand) Validate() error {
	return firstError(
		required("email", c.Email),
		required("token", c.Token),
		required("new_password", c.NewPassword),
	)
}

// CompletePasswordReset installs the new password and signs out every session.
// An unknown address fails exactly like a wrong token.
func (s *AccountService) CompletePasswordReset(ctx context.Context, cmd CompletePasswordResetCommand) (PasswordChanged, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleCompleteReset)
}

func (s *AccountService) handleCompleteReset(ctx context.Context, scope *pipeline.Scope, cmd CompletePasswordResetCommand) (PasswordChanged, error) {
	next, err := domain.NewPassword(cmd.NewPassword)
	if err != nil {
		return PasswordChanged{}, err
	}
	account, err := s.findByEmail(ctx, scope, cmd.Email)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			if err := s.checkPasswordPolicy(cmd.NewPassword, port.PasswordContext{Email: strings.TrimSpace(cmd.Email)}); err != nil {
				return PasswordChanged{}, err
			}
			return PasswordChanged{}, domain.ErrTokenMismatch
		}
		return PasswordChanged{}, err
	}
	if err := s.checkPasswordPolicy(cmd.NewPassword, passwordContext(account)); err != nil {
		return PasswordChanged{}, err
	}

	now := s.now()
	if err := account.CompletePasswordReset(s.deps.Hasher, strings.TrimSpace(cmd.Token), next, now); err != nil {
		return PasswordChanged{}, concealTokenState(err)
	}
	revoked, err := s.tokens.revokeAll(ctx, scope, account.ID(), ReasonPasswordReset, now)
	if err != nil {
		return PasswordChanged{}, err
	}
	return PasswordChanged{RevokedTokens: revoked}, nil
}
