package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/pipeline"
)

// IssueVerificationCodeCommand sends a one-time code of the given type.
type IssueVerificationCodeCommand struct {
	AccountID      string
	Type           domain.CodeType
	Administrative bool
}

func (IssueVerificationCodeCommand) CommandName() string { return "codes.issue" }

func (c IssueVerificationCodeCommand) Validate() error {
	if err := required("account_id", c.AccountID); err != nil {
		return err
	}
	switch c.Type {
	case domain.CodeEmailVerification, domain.CodePhoneVerification, domain.CodeTwoFactor, domain.CodePasswordReset:
		return nil
	}
	return domain.NewError(domain.KindValidation, "invalid_code_type", "unsupported verification code type").
		WithDetail("type", string(c.Type))
}

func (c IssueVerificationCodeCommand) RequiredPermission() domain.Permissions {
	if c.Administrative {
		return domain.PermCodesIssue
	}
	return domain.PermAccountsSelf
}

// CodeIssued describes the delivered code. The value itself only travels
// through the delivery channel.
type CodeIssued struct {
	Type        domain.CodeType
	Channel     string
	ExpiresAt   time.Time
	MaxAttempts int
}

// IssueVerificationCode generates a code, replacing any outstanding one of the
// same type. Issuing is throttled per account and type.
func (s *AccountService) IssueVerificationCode(ctx context.Context, cmd IssueVerificationCodeCommand) (CodeIssued, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleIssueCode)
}

func (s *AccountService) handleIssueCode(ctx context.Context, scope *pipeline.Scope, cmd IssueVerificationCodeCommand) (CodeIssued, error) {
	if !cmd.Administrative {
		if err := requireSelf(ctx, cmd.AccountID); err != nil {
			return CodeIssued{}, err
		}
	}
	account, err := s.deps.Accounts.FindByID(ctx, cmd.AccountID)
	if err != nil {
		return CodeIssued{}, err
	}
	if err := account.CheckActive(); err != nil {
		return CodeIssued{}, err
	}

	channel, destination := ChannelEmail, account.Email().String()
	if cmd.Type == domain.CodePhoneVerification {
		phone := account.Phone()
		if phone == nil || !account.Status().Has(domain.StatusPhoneVerificationPending) {
			return CodeIssued{}, domain.ErrPhoneNotPending
		}
		channel, destination = ChannelSMS, *phone
	}

	now := s.now()
	key := fmt.Sprintf("codes:%s:%s", cmd.Type, account.ID())
	if err := checkRateLimit(ctx, s.deps.RateLimits, key, s.opts.CodeResendLimit, s.opts.CodeResendWindow, now); err != nil {
		return CodeIssued{}, err
	}

	code, err := domain.GenerateForType(s.deps.Random, cmd.Type, now)
	if err != nil {
		return CodeIssued{}, fmt.Errorf("generate code: %w", err)
	}
	code.WithMaxAttempts(s.opts.CodeMaxAttempts)
	if err := s.deps.Codes.Save(ctx, account.ID(), code); err != nil {
		return CodeIssued{}, fmt.Errorf("save code: %w", err)
	}

	s.deliver(scope, port.DeliveryMessage{
		AccountID:   account.ID(),
		Channel:     channel,
		Destination: destination,
		Purpose:     string(cmd.Type),
		Secret:      code.Value(),
		ExpiresAt:   code.ExpiresAt(),
	})
	return CodeIssued{
		Type:        cmd.Type,
		Channel:     channel,
		ExpiresAt:   code.ExpiresAt(),
		MaxAttempts: code.MaxAttempts(),
	}, nil
}

// VerifyCodeCommand redeems an outstanding code without touching the account.
type VerifyCodeCommand struct {
	AccountID string
	Type      domain.CodeType
	Code      string
}

func (VerifyCodeCommand) CommandName() string { return "codes.verify" }

func (c VerifyCodeCommand) Validate() error {
	return firstError(required("account_id", c.AccountID), required("type", string(c.Type)), required("code", c.Code))
}

func (VerifyCodeCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsSelf }

// VerifyCode redeems a code. Every call counts as an attempt; a matching code
// is consumed and cannot be redeemed again.
func (s *AccountService) VerifyCode(ctx context.Context, cmd VerifyCodeCommand) (struct{}, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, func(ctx context.Context, _ *pipeline.Scope, cmd VerifyCodeCommand) (struct{}, error) {
		if err := requireSelf(ctx, cmd.AccountID); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.deps.Codes.Redeem(ctx, cmd.AccountID, cmd.Type, cmd.Code, s.now())
	})
}

// VerifyPhoneCommand redeems the phone verification code.
type VerifyPhoneCommand struct {
	AccountID string
	Code      string
}

func (VerifyPhoneCommand) CommandName() string { return "accounts.verify_phone" }

func (c VerifyPhoneCommand) Validate() error {
	return firstError(required("account_id", c.AccountID), required("code", c.Code))
}

func (VerifyPhoneCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsSelf }

// VerifyPhone redeems the code and clears the pending phone verification.
func (s *AccountService) VerifyPhone(ctx context.Context, cmd VerifyPhoneCommand) (domain.AccountStatus, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleVerifyPhone)
}

func (s *AccountService) handleVerifyPhone(ctx context.Context, scope *pipeline.Scope, cmd VerifyPhoneCommand) (domain.AccountStatus, error) {
	if err := requireSelf(ctx, cmd.AccountID); err != nil {
		return 0, err
	}
	account, err := s.load(ctx, scope, cmd.AccountID)
	if err != nil {
		return 0, err
	}
	if account.Phone() == nil || !account.Status().Has(domain.StatusPhoneVerificationPending) {
		return 0, domain.ErrPhoneNotPending
	}

	now := s.now()
	if err := s.deps.Codes.Redeem(ctx, account.ID(), domain.CodePhoneVerification, cmd.Code, now); err != nil {
		return 0, err
	}
	if err := account.ConfirmPhone(now); err != nil {
		return 0, err
	}
	return account.Status(), nil
}
