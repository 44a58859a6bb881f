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
)

// Delivery channels and purposes understood by the notification adapter.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"

	PurposeEmailVerification = "email_verification"
	PurposePasswordReset     = "password_reset"
)

// RegisterCommand creates a new account.
type RegisterCommand struct {
	Username string
	Email    string
	Password string
	Phone    *string
}

func (RegisterCommand) CommandName() string { return "accounts.register" }

func (c RegisterCommand) Validate() error {
	return firstError(
		required("username", c.Username),
		required("email", c.Email),
		required("password", c.Password),
	)
}

// RegisterResult describes the created account.
type RegisterResult struct {
	AccountID             string
	Username              string
	Email                 string
	Status                domain.AccountStatus
	VerificationExpiresAt *time.Time
}

// Register creates a pending account and sends the e-mail verification token.
func (s *AccountService) Register(ctx context.Context, cmd RegisterCommand) (RegisterResult, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleRegister)
}

func (s *AccountService) handleRegister(ctx context.Context, scope *pipeline.Scope, cmd RegisterCommand) (RegisterResult, error) {
	email, err := domain.NewEmail(cmd.Email)
	if err != nil {
		return RegisterResult{}, err
	}
	username, err := domain.NormalizeUsername(cmd.Username)
	if err != nil {
		return RegisterResult{}, err
	}
	password, err := domain.NewPassword(cmd.Password)
	if err != nil {
		return RegisterResult{}, err
	}
	if err := s.checkPasswordPolicy(cmd.Password, port.PasswordContext{
		Username: username,
		Email:    email.String(),
		Phone:    cmd.Phone,
	}); err != nil {
		return RegisterResult{}, err
	}

	if _, err := s.deps.Accounts.FindByEmail(ctx, email); err == nil {
		return RegisterResult{}, domain.ErrEmailTaken
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return RegisterResult{}, fmt.Errorf("check email: %w", err)
	}

	hash, err := s.deps.Hasher.Hash(password.Reveal())
	if err != nil {
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	account, err := domain.NewAccount(uuid.NewString(), username, email, domain.PasswordHash(hash), cmd.Phone, now)
	if err != nil {
		return RegisterResult{}, err
	}
	scope.Track(account)

	token, err := account.IssueEmailVerification(s.deps.Random, s.opts.EmailTokenLength, s.opts.EmailTokenTTL, now)
	if err != nil {
		return RegisterResult{}, err
	}
	s.sendEmailVerification(scope, account, token)

	return RegisterResult{
		AccountID:             account.ID(),
		Username:              account.Username(),
		Email:                 account.Email().String(),
		Status:                account.Status(),
		VerificationExpiresAt: token.ExpiresAt(),
	}, nil
}

func (s *AccountService) sendEmailVerification(scope *pipeline.Scope, account *domain.Account, token domain.Token) {
	message := port.DeliveryMessage{
		AccountID:   account.ID(),
		Channel:     ChannelEmail,
		Destination: account.Email().String(),
		Purpose:     PurposeEmailVerification,
		Secret:      token.Value(),
	}
	if exp := token.ExpiresAt(); exp != nil {
		message.ExpiresAt = *exp
	}
	s.deliver(scope, message)
}

// VerifyEmailCommand redeems an e-mail verification token.
type VerifyEmailCommand struct {
	Email string
	Token string
}

func (VerifyEmailCommand) CommandName() string { return "accounts.verify_email" }

func (c VerifyEmailCommand) Validate() error {
	return firstError(required("email", c.Email), required("token", c.Token))
}

// VerifyEmail activates the account owning the token.
func (s *AccountService) VerifyEmail(ctx context.Context, cmd VerifyEmailCommand) (domain.AccountStatus, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleVerifyEmail)
}

func (s *AccountService) handleVerifyEmail(ctx context.Context, scope *pipeline.Scope, cmd VerifyEmailCommand) (domain.AccountStatus, error) {
	account, err := s.findByEmail(ctx, scope, cmd.Email)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return 0, domain.ErrTokenMismatch
		}
		return 0, err
	}
	if err := account.VerifyEmail(strings.TrimSpace(cmd.Token), s.now()); err != nil {
		return 0, concealTokenState(err)
	}
	return account.Status(), nil
}

// ResendEmailVerificationCommand asks for a fresh verification token.
type ResendEmailVerificationCommand struct {
	Email string
}

func (ResendEmailVerificationCommand) CommandName() string { return "accounts.resend_verification" }

func (c ResendEmailVerificationCommand) Validate() error {
	return required("email", c.Email)
}

// ResendEmailVerification issues a new token, superseding the previous one.
// It reports success for unknown, verified, or throttled addresses alike.
func (s *AccountService) ResendEmailVerification(ctx context.Context, cmd ResendEmailVerificationCommand) (struct{}, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, s.handleResendVerification)
}

func (s *AccountService) handleResendVerification(ctx context.Context, scope *pipeline.Scope, cmd ResendEmailVerificationCommand) (struct{}, error) {
	account, err := s.findByEmail(ctx, scope, cmd.Email)
	if err != nil {
		return struct{}{}, silenceUnknown(err)
	}
	if account.IsEmailVerified() {
		return struct{}{}, nil
	}

	now := s.now()
	key := "resend:" + PurposeEmailVerification + ":" + account.ID()
	if err := checkRateLimit(ctx, s.deps.RateLimits, key, s.opts.CodeResendLimit, s.opts.CodeResendWindow, now); err != nil {
		if domain.IsKind(err, domain.KindRateLimited) {
			s.deps.Logger.Info("verification resend throttled", zap.String("account_id", account.ID()))
			return struct{}{}, nil
		}
		return struct{}{}, err
	}

	token, err := account.IssueEmailVerification(s.deps.Random, s.opts.EmailTokenLength, s.opts.EmailTokenTTL, now)
	if err != nil {
		if errors.Is(err, domain.ErrAccountTerminal) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	}
	s.sendEmailVerification(scope, account, token)
	return struct{}{}, nil
}

// findByEmail loads and tracks the account owning a raw e-mail address.
func (s *AccountService) findByEmail(ctx context.Context, scope *pipeline.Scope, raw string) (*domain.Account, error) {
	email, err := domain.NewEmail(raw)
	if err != nil {
		return nil, err
	}
	account, err := s.deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	scope.Track(account)
	return account, nil
}

// silenceUnknown turns a missing account into success for flows that must not
// reveal whether an address is registered.
func silenceUnknown(err error) error {
	if domain.IsKind(err, domain.KindNotFound) {
		return nil
	}
	return err
}
