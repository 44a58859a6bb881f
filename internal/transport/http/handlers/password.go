package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-engine/internal/usecase"
)

// ChangePassword serves POST /v1/accounts/me/password. Every session of the
// account is signed out on success.
func (h *AccountHandler) ChangePassword(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}

	var req PasswordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	changed, err := h.accounts.ChangePassword(c.Request.Context(), usecase.ChangePasswordCommand{
		AccountID:       accountID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RevokeResponse{Revoked: changed.RevokedTokens})
}

// RequestPasswordReset serves POST /v1/password/reset. Unknown addresses get
// the same answer as known ones.
func (h *AccountHandler) RequestPasswordReset(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if _, err := h.accounts.RequestPasswordReset(c.Request.Context(), usecase.RequestPasswordResetCommand{
		Email: strings.TrimSpace(req.Email),
	}); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "if the address is registered, a reset link was sent"})
}

// CompletePasswordReset serves POST /v1/password/reset/confirm.
func (h *AccountHandler) CompletePasswordReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	changed, err := h.accounts.CompletePasswordReset(c.Request.Context(), usecase.CompletePasswordResetCommand{
		Email:       strings.TrimSpace(req.Email),
		Token:       strings.TrimSpace(req.Token),
		NewPassword: req.NewPassword,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RevokeResponse{Revoked: changed.RevokedTokens})
}
