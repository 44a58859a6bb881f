package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/pipeline"
)

// AccountView is the read model of an account.
type AccountView struct {
	ID                  string
	Username            string
	Email               string
	Phone               *string
	Status              domain.AccountStatus
	TwoFactorEnabled    bool
	FailedLoginAttempts int
	LockoutEnd          *time.Time
	LastLogin           *domain.LoginRecord
	MergedInto          string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Version             int64
}

func viewOf(a *domain.Account) AccountView {
	v := AccountView{
		ID:                  a.ID(),
		Username:            a.Username(),
		Email:               a.Email().String(),
		Phone:               a.Phone(),
		Status:              a.Status(),
		TwoFactorEnabled:    a.IsTwoFactorEnabled(),
		FailedLoginAttempts: a.FailedLoginAttempts(),
		LockoutEnd:          a.LockoutEnd(),
		MergedInto:          a.MergedInto(),
		CreatedAt:           a.CreatedAt(),
		UpdatedAt:           a.UpdatedAt(),
		Version:             a.Version(),
	}
	if history := a.LoginHistory(); len(history) > 0 {
		last := history[0]
		v.LastLogin = &last
	}
	return v
}

// GetAccountCommand reads an account. Self restricts the read to the caller's
// own account and needs only the baseline permission.
type GetAccountCommand struct {
	AccountID string
	Self      bool
}

func (GetAccountCommand) CommandName() string { return "accounts.get" }

func (c GetAccountCommand) Validate() error { return required("account_id", c.AccountID) }

func (c GetAccountCommand) RequiredPermission() domain.Permissions {
	if c.Self {
		return domain.PermAccountsSelf
	}
	return domain.PermAccountsRead
}

// GetAccount returns the account view.
func (s *AccountService) GetAccount(ctx context.Context, cmd GetAccountCommand) (AccountView, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, func(ctx context.Context, _ *pipeline.Scope, cmd GetAccountCommand) (AccountView, error) {
		if cmd.Self {
			if err := requireSelf(ctx, cmd.AccountID); err != nil {
				return AccountView{}, err
			}
		}
		account, err := s.deps.Accounts.FindByID(ctx, cmd.AccountID)
		if err != nil {
			return AccountView{}, err
		}
		return viewOf(account), nil
	})
}

// UnlockAccountCommand clears a lockout.
type UnlockAccountCommand struct {
	AccountID string
}

func (UnlockAccountCommand) CommandName() string { return "accounts.unlock" }

func (c UnlockAccountCommand) Validate() error { return required("account_id", c.AccountID) }

func (UnlockAccountCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsUnlock }

// UnlockAccount resets the failure counter and lifts the lockout.
func (s *AccountService) UnlockAccount(ctx context.Context, cmd UnlockAccountCommand) (AccountView, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, func(ctx context.Context, scope *pipeline.Scope, cmd UnlockAccountCommand) (AccountView, error) {
		return s.transition(ctx, scope, cmd.AccountID, func(a *domain.Account, at time.Time) error {
			return a.Unlock(at)
		})
	})
}

// SuspendAccountCommand suspends an account and signs it out.
type SuspendAccountCommand struct {
	AccountID string
	Reason    string
	Block     bool
}

func (SuspendAccountCommand) CommandName() string { return "accounts.suspend" }

func (c SuspendAccountCommand) Validate() error { return required("account_id", c.AccountID) }

func (SuspendAccountCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsWrite }

// SuspendAccount suspends, or blocks when Block is set, and revokes every token.
func (s *AccountService) SuspendAccount(ctx context.Context, cmd SuspendAccountCommand) (AccountView, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, func(ctx context.Context, scope *pipeline.Scope, cmd SuspendAccountCommand) (AccountView, error) {
		reason := strings.TrimSpace(cmd.Reason)
		view, err := s.transition(ctx, scope, cmd.AccountID, func(a *domain.Account, at time.Time) error {
			if cmd.Block {
				return a.Block(reason, at)
			}
			return a.Suspend(reason, at)
		})
		if err != nil {
			return AccountView{}, err
		}
		if _, err := s.tokens.revokeAll(ctx, scope, cmd.AccountID, ReasonAccountSuspended, s.now()); err != nil {
			return AccountView{}, err
		}
		return view, nil
	})
}

// ReactivateAccountCommand lifts a suspension or block.
type ReactivateAccountCommand struct {
	AccountID string
}

func (ReactivateAccountCommand) CommandName() string { return "accounts.reactivate" }

func (c ReactivateAccountCommand) Validate() error { return required("account_id", c.AccountID) }

func (ReactivateAccountCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsWrite }

// ReactivateAccount restores a restricted account.
func (s *AccountService) ReactivateAccount(ctx context.Context, cmd ReactivateAccountCommand) (AccountView, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, func(ctx context.Context, scope *pipeline.Scope, cmd ReactivateAccountCommand) (AccountView, error) {
		return s.transition(ctx, scope, cmd.AccountID, func(a *domain.Account, at time.Time) error {
			return a.Reactivate(at)
		})
	})
}

// RequirePasswordChangeCommand forces a password change at next login.
type RequirePasswordChangeCommand struct {
	AccountID string
}

func (RequirePasswordChangeCommand) CommandName() string { return "accounts.require_password_change" }

func (c RequirePasswordChangeCommand) Validate() error { return required("account_id", c.AccountID) }

func (RequirePasswordChangeCommand) RequiredPermission() domain.Permissions {
	return domain.PermAccountsWrite
}

// RequirePasswordChange flags the account.
func (s *AccountService) RequirePasswordChange(ctx context.Context, cmd RequirePasswordChangeCommand) (AccountView, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, func(ctx context.Context, scope *pipeline.Scope, cmd RequirePasswordChangeCommand) (AccountView, error) {
		return s.transition(ctx, scope, cmd.AccountID, func(a *domain.Account, at time.Time) error {
			return a.RequirePasswordChange(at)
		})
	})
}

// DeleteAccountCommand deletes an account permanently.
type DeleteAccountCommand struct {
	AccountID string
	Reason    string
}

func (DeleteAccountCommand) CommandName() string { return "accounts.delete" }

func (c DeleteAccountCommand) Validate() error { return required("account_id", c.AccountID) }

func (DeleteAccountCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsDelete }

// DeleteAccount moves the account to Deleted and revokes every token.
func (s *AccountService) DeleteAccount(ctx context.Context, cmd DeleteAccountCommand) (AccountView, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, func(ctx context.Context, scope *pipeline.Scope, cmd DeleteAccountCommand) (AccountView, error) {
		view, err := s.transition(ctx, scope, cmd.AccountID, func(a *domain.Account, at time.Time) error {
			return a.Delete(strings.TrimSpace(cmd.Reason), at)
		})
		if err != nil {
			return AccountView{}, err
		}
		if _, err := s.tokens.revokeAll(ctx, scope, cmd.AccountID, ReasonAccountDeleted, s.now()); err != nil {
			return AccountView{}, err
		}
		return view, nil
	})
}

// MergeAccountCommand folds one account into another.
type MergeAccountCommand struct {
	AccountID string
	TargetID  string
}

func (MergeAccountCommand) CommandName() string { return "accounts.merge" }

func (c MergeAccountCommand) Validate() error {
	return firstError(required("account_id", c.AccountID), required("target_id", c.TargetID))
}

func (MergeAccountCommand) RequiredPermission() domain.Permissions { return domain.PermAccountsWrite }

// MergeAccount marks the source merged into an existing, non-terminal target
// and revokes the source's tokens.
func (s *AccountService) MergeAccount(ctx context.Context, cmd MergeAccountCommand) (AccountView, error) {
	return pipeline.Execute(ctx, s.deps.Pipeline, cmd, func(ctx context.Context, scope *pipeline.Scope, cmd MergeAccountCommand) (AccountView, error) {
		target, err := s.deps.Accounts.FindByID(ctx, cmd.TargetID)
		if err != nil {
			return AccountView{}, err
		}
		if target.Status().IsTerminal() {
			return AccountView{}, domain.ErrAccountTerminal.WithDetail("account_id", target.ID())
		}
		view, err := s.transition(ctx, scope, cmd.AccountID, func(a *domain.Account, at time.Time) error {
			return a.MergeInto(target.ID(), at)
		})
		if err != nil {
			return AccountView{}, err
		}
		if _, err := s.tokens.revokeAll(ctx, scope, cmd.AccountID, ReasonAccountDeleted, s.now()); err != nil {
			return AccountView{}, err
		}
		return view, nil
	})
}

// transition loads an account, applies change, and returns the updated view.
func (s *AccountService) transition(ctx context.Context, scope *pipeline.Scope, accountID string, change func(*domain.Account, time.Time) error) (AccountView, error) {
	account, err := s.load(ctx, scope, accountID)
	if err != nil {
		return AccountView{}, err
	}
	if err := change(account, s.now()); err != nil {
		return AccountView{}, err
	}
	return viewOf(account), nil
}
