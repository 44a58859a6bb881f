package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/infra/app"
	"github.com/arklim/credential-engine/internal/infra/config"
	"github.com/arklim/credential-engine/internal/infra/database"
	"github.com/arklim/credential-engine/internal/infra/logger"
	"github.com/arklim/credential-engine/internal/pipeline"
	postgresrepo "github.com/arklim/credential-engine/internal/repository/postgres"
	"github.com/arklim/credential-engine/internal/usecase"
)

// operatorID is the principal recorded for commands run from the CLI.
const operatorID = "credctl"

type cli struct {
	out     string
	verbose bool

	cfg *config.AppConfig
	log *zap.Logger
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(&cli{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "credctl",
		Short:         "Operator CLI for the credential engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// Operator commands never issue access tokens.
			cfg.JWT.KeyDirectory = ""
			c.cfg = cfg

			c.log = zap.NewNop()
			if c.verbose {
				if c.log, err = logger.New(cfg.App.Env); err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.out, "out", envOr("CREDCTL_OUT", "text"), "Output format: json|text (env CREDCTL_OUT)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log pipeline activity to stderr")

	root.AddCommand(c.rolesCommand(), c.accountCommand(), c.tokensCommand(), c.migrateCommand())
	return root
}

// withContainer runs fn against an operator container bound to the configured store.
func (c *cli) withContainer(ctx context.Context, fn func(ctx context.Context, ctr *app.Container) error) error {
	ctr, err := app.NewContainer(ctx, c.cfg, c.log, app.ContainerOptions{Operator: true})
	if err != nil {
		return err
	}
	defer ctr.Close()

	ctx = pipeline.WithPrincipal(ctx, pipeline.Principal{AccountID: operatorID})
	return fn(ctx, ctr)
}

func (c *cli) rolesCommand() *cobra.Command {
	roles := &cobra.Command{Use: "roles", Short: "Manage roles and their assignment"}

	var name, description string
	var perms []string
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create a role or replace its permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ensureCmd := usecase.EnsureRoleCommand{Name: name, Permissions: perms}
			if cmd.Flags().Changed("description") {
				ensureCmd.Description = &description
			}
			return c.withContainer(cmd.Context(), func(ctx context.Context, ctr *app.Container) error {
				role, err := ctr.Roles.EnsureRole(ctx, ensureCmd)
				if err != nil {
					return err
				}
				return c.print(rolePayload(role))
			})
		},
	}
	ensure.Flags().StringVar(&name, "name", "", "Role name")
	ensure.Flags().StringVar(&description, "description", "", "Role description")
	ensure.Flags().StringSliceVar(&perms, "perm", nil, "Permission to grant (repeatable), e.g. accounts:read")
	_ = ensure.MarkFlagRequired("name")

	var accountID, roleName string
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Assign a role to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd.Context(), func(ctx context.Context, ctr *app.Container) error {
				role, err := ctr.Roles.GrantRole(ctx, usecase.GrantRoleCommand{AccountID: accountID, RoleName: roleName})
				if err != nil {
					return err
				}
				return c.print(rolePayload(role))
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Remove a role from an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd.Context(), func(ctx context.Context, ctr *app.Container) error {
				role, err := ctr.Roles.RevokeRole(ctx, usecase.RevokeRoleCommand{AccountID: accountID, RoleName: roleName})
				if err != nil {
					return err
				}
				return c.print(rolePayload(role))
			})
		},
	}
	for _, sub := range []*cobra.Command{grant, revoke} {
		sub.Flags().StringVar(&accountID, "account", "", "Account id")
		sub.Flags().StringVar(&roleName, "role", "", "Role name")
		_ = sub.MarkFlagRequired("account")
		_ = sub.MarkFlagRequired("role")
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the roles of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd.Context(), func(ctx context.Context, ctr *app.Container) error {
				assigned, err := ctr.Roles.AssignedRoles(ctx, accountID)
				if err != nil {
					return err
				}
				out := make([]map[string]any, 0, len(assigned))
				for _, role := range assigned {
					out = append(out, rolePayload(role))
				}
				return c.print(map[string]any{
					"account_id":  accountID,
					"roles":       out,
					"permissions": domain.EffectivePermissions(assigned).Names(),
				})
			})
		},
	}
	list.Flags().StringVar(&accountID, "account", "", "Account id")
	_ = list.MarkFlagRequired("account")

	roles.AddCommand(ensure, grant, revoke, list)
	return roles
}

func (c *cli) accountCommand() *cobra.Command {
	account := &cobra.Command{Use: "account", Short: "Administer accounts"}

	var accountID, reason string
	var block bool

	show := c.accountAction("show", "Print an account", func(ctx context.Context, ctr *app.Container) (usecase.AccountView, error) {
		return ctr.Accounts.GetAccount(ctx, usecase.GetAccountCommand{AccountID: accountID})
	}, &accountID)
	unlock := c.accountAction("unlock", "Clear a lockout", func(ctx context.Context, ctr *app.Container) (usecase.AccountView, error) {
		return ctr.Accounts.UnlockAccount(ctx, usecase.UnlockAccountCommand{AccountID: accountID})
	}, &accountID)
	suspend := c.accountAction("suspend", "Suspend or block an account and revoke its credentials", func(ctx context.Context, ctr *app.Container) (usecase.AccountView, error) {
		return ctr.Accounts.SuspendAccount(ctx, usecase.SuspendAccountCommand{AccountID: accountID, Reason: reason, Block: block})
	}, &accountID)
	suspend.Flags().StringVar(&reason, "reason", "", "Reason recorded on the event")
	suspend.Flags().BoolVar(&block, "block", false, "Block instead of suspend")
	reactivate := c.accountAction("reactivate", "Lift a suspension or block", func(ctx context.Context, ctr *app.Container) (usecase.AccountView, error) {
		return ctr.Accounts.ReactivateAccount(ctx, usecase.ReactivateAccountCommand{AccountID: accountID})
	}, &accountID)
	del := c.accountAction("delete", "Delete an account and revoke its credentials", func(ctx context.Context, ctr *app.Container) (usecase.AccountView, error) {
		return ctr.Accounts.DeleteAccount(ctx, usecase.DeleteAccountCommand{AccountID: accountID, Reason: reason})
	}, &accountID)
	del.Flags().StringVar(&reason, "reason", "", "Reason recorded on the event")

	account.AddCommand(show, unlock, suspend, reactivate, del)
	return account
}

func (c *cli) accountAction(use, short string, run func(context.Context, *app.Container) (usecase.AccountView, error), accountID *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd.Context(), func(ctx context.Context, ctr *app.Container) error {
				view, err := run(ctx, ctr)
				if err != nil {
					return err
				}
				return c.print(accountPayload(view))
			})
		},
	}
	cmd.Flags().StringVar(accountID, "account", "", "Account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func (c *cli) tokensCommand() *cobra.Command {
	tokens := &cobra.Command{Use: "tokens", Short: "Manage issued credentials"}

	var accountID, reason string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke every refresh token, API key and access token of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd.Context(), func(ctx context.Context, ctr *app.Container) error {
				result, err := ctr.Tokens.RevokeTokens(ctx, usecase.RevokeTokensCommand{
					AccountID:      accountID,
					Reason:         reason,
					Administrative: true,
				})
				if err != nil {
					return err
				}
				return c.print(map[string]any{"account_id": accountID, "revoked": result.Revoked})
			})
		},
	}
	revoke.Flags().StringVar(&accountID, "account", "", "Account id")
	revoke.Flags().StringVar(&reason, "reason", usecase.ReasonAdministrative, "Revocation reason")
	_ = revoke.MarkFlagRequired("account")

	tokens.AddCommand(revoke)
	return tokens
}

func (c *cli) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Storage.Driver != config.StorageDriverPostgres {
				return fmt.Errorf("migrate requires the postgres storage driver, got %q", c.cfg.Storage.Driver)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := database.NewPostgresPool(ctx, c.cfg.Postgres, c.log)
			if err != nil {
				return fmt.Errorf("init postgres: %w", err)
			}
			defer pool.Close()

			if err := postgresrepo.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			return c.print(map[string]any{"migrated": true})
		},
	}
}

func (c *cli) print(v map[string]any) error {
	if c.out == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Printf("%s: %v\n", key, v[key])
	}
	return nil
}

func rolePayload(role domain.Role) map[string]any {
	out := map[string]any{
		"id":          role.ID,
		"name":        role.Name,
		"permissions": role.Permissions.Names(),
	}
	if role.Description != nil {
		out["description"] = *role.Description
	}
	return out
}

func accountPayload(view usecase.AccountView) map[string]any {
	out := map[string]any{
		"id":                    view.ID,
		"username":              view.Username,
		"email":                 view.Email,
		"status":                view.Status.Names(),
		"two_factor_enabled":    view.TwoFactorEnabled,
		"failed_login_attempts": view.FailedLoginAttempts,
		"version":               view.Version,
	}
	if view.LockoutEnd != nil {
		out["lockout_end"] = view.LockoutEnd.Format(time.RFC3339)
	}
	if view.MergedInto != "" {
		out["merged_into"] = view.MergedInto
	}
	return out
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
