package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-engine/internal/usecase"
)

// EnrollTwoFactor serves POST /v1/accounts/me/two-factor.
func (h *AccountHandler) EnrollTwoFactor(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}

	enrollment, err := h.accounts.EnrollTwoFactor(c.Request.Context(), usecase.EnrollTwoFactorCommand{AccountID: accountID})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, TwoFactorEnrollResponse{
		KeyID:           enrollment.KeyID,
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
	})
}

// ConfirmTwoFactor serves POST /v1/accounts/me/two-factor/confirm.
func (h *AccountHandler) ConfirmTwoFactor(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}

	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if _, err := h.accounts.ConfirmTwoFactor(c.Request.Context(), usecase.ConfirmTwoFactorCommand{
		AccountID: accountID,
		Code:      strings.TrimSpace(req.Code),
	}); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DisableTwoFactor serves POST /v1/accounts/me/two-factor/disable.
func (h *AccountHandler) DisableTwoFactor(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}

	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if _, err := h.accounts.DisableTwoFactor(c.Request.Context(), usecase.DisableTwoFactorCommand{
		AccountID: accountID,
		Password:  req.Password,
	}); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
