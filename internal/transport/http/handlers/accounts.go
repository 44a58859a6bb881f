package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-engine/internal/transport/http/middleware"
	"github.com/arklim/credential-engine/internal/usecase"
)

// AccountHandler exposes self-service and administrative account endpoints.
type AccountHandler struct {
	accounts *usecase.AccountService
	tokens   *usecase.TokenService
}

// NewAccountHandler constructs AccountHandler.
func NewAccountHandler(accounts *usecase.AccountService, tokens *usecase.TokenService) *AccountHandler {
	return &AccountHandler{accounts: accounts, tokens: tokens}
}

// AccountRouteOptions carries the per-route middleware chains.
type AccountRouteOptions struct {
	Auth           gin.HandlerFunc
	PasswordReset  []gin.HandlerFunc
	PasswordChange []gin.HandlerFunc
}

// RegisterRoutes binds routes under /v1.
func (h *AccountHandler) RegisterRoutes(r *gin.RouterGroup, opts AccountRouteOptions) {
	r.POST("/accounts/verify-email", h.VerifyEmail)
	r.POST("/accounts/verify-email/resend", chain(opts.PasswordReset, h.ResendEmailVerification)...)

	reset := r.Group("/password/reset")
	reset.POST("", chain(opts.PasswordReset, h.RequestPasswordReset)...)
	reset.POST("/confirm", h.CompletePasswordReset)

	me := r.Group("/accounts/me", opts.Auth)
	me.GET("", h.Me)
	me.POST("/password", chain(opts.PasswordChange, h.ChangePassword)...)
	me.POST("/codes", h.IssueCode)
	me.POST("/codes/verify", h.VerifyCode)
	me.POST("/phone/verify", h.VerifyPhone)
	me.POST("/two-factor", h.EnrollTwoFactor)
	me.POST("/two-factor/confirm", h.ConfirmTwoFactor)
	me.POST("/two-factor/disable", h.DisableTwoFactor)
	me.POST("/api-keys", h.IssueAPIKey)

	admin := r.Group("/accounts/:id", opts.Auth)
	admin.GET("", h.Get)
	admin.DELETE("", h.Delete)
	admin.POST("/unlock", h.Unlock)
	admin.POST("/suspend", h.Suspend)
	admin.POST("/reactivate", h.Reactivate)
	admin.POST("/require-password-change", h.RequirePasswordChange)
	admin.POST("/merge", h.Merge)
	admin.POST("/codes", h.IssueCodeFor)
	admin.POST("/tokens/revoke", h.RevokeTokensFor)
}

// authenticatedAccount returns the caller, answering 401 when there is none.
func authenticatedAccount(c *gin.Context) (string, bool) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
	}
	return accountID, ok
}

// bindOptionalJSON binds the body when one is present.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		bindError(c, err)
		return false
	}
	return true
}

// Me serves GET /v1/accounts/me.
func (h *AccountHandler) Me(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}
	h.respondView(c)(h.accounts.GetAccount(c.Request.Context(), usecase.GetAccountCommand{AccountID: accountID, Self: true}))
}

// Get serves GET /v1/accounts/:id and requires accounts:read.
func (h *AccountHandler) Get(c *gin.Context) {
	h.respondView(c)(h.accounts.GetAccount(c.Request.Context(), usecase.GetAccountCommand{AccountID: c.Param("id")}))
}

// Unlock serves POST /v1/accounts/:id/unlock.
func (h *AccountHandler) Unlock(c *gin.Context) {
	h.respondView(c)(h.accounts.UnlockAccount(c.Request.Context(), usecase.UnlockAccountCommand{AccountID: c.Param("id")}))
}

// Suspend serves POST /v1/accounts/:id/suspend.
func (h *AccountHandler) Suspend(c *gin.Context) {
	var req SuspendRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.respondView(c)(h.accounts.SuspendAccount(c.Request.Context(), usecase.SuspendAccountCommand{
		AccountID: c.Param("id"),
		Reason:    strings.TrimSpace(req.Reason),
		Block:     req.Block,
	}))
}

// Reactivate serves POST /v1/accounts/:id/reactivate.
func (h *AccountHandler) Reactivate(c *gin.Context) {
	h.respondView(c)(h.accounts.ReactivateAccount(c.Request.Context(), usecase.ReactivateAccountCommand{AccountID: c.Param("id")}))
}

// RequirePasswordChange serves POST /v1/accounts/:id/require-password-change.
func (h *AccountHandler) RequirePasswordChange(c *gin.Context) {
	h.respondView(c)(h.accounts.RequirePasswordChange(c.Request.Context(), usecase.RequirePasswordChangeCommand{AccountID: c.Param("id")}))
}

// Delete serves DELETE /v1/accounts/:id?reason=...
func (h *AccountHandler) Delete(c *gin.Context) {
	h.respondView(c)(h.accounts.DeleteAccount(c.Request.Context(), usecase.DeleteAccountCommand{
		AccountID: c.Param("id"),
		Reason:    strings.TrimSpace(c.Query("reason")),
	}))
}

// Merge serves POST /v1/accounts/:id/merge.
func (h *AccountHandler) Merge(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	h.respondView(c)(h.accounts.MergeAccount(c.Request.Context(), usecase.MergeAccountCommand{
		AccountID: c.Param("id"),
		TargetID:  strings.TrimSpace(req.TargetID),
	}))
}

// IssueCodeFor serves POST /v1/accounts/:id/codes and requires codes:issue.
func (h *AccountHandler) IssueCodeFor(c *gin.Context) {
	h.issueCode(c, c.Param("id"), true)
}

func (h *AccountHandler) respondView(c *gin.Context) func(usecase.AccountView, error) {
	return func(view usecase.AccountView, err error) {
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, newAccountPayload(view))
	}
}
