package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-engine/internal/usecase"
)

// VerifyEmail serves POST /v1/accounts/verify-email.
func (h *AccountHandler) VerifyEmail(c *gin.Context) {
	var req EmailVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	status, err := h.accounts.VerifyEmail(c.Request.Context(), usecase.VerifyEmailCommand{
		Email: strings.TrimSpace(req.Email),
		Token: strings.TrimSpace(req.Token),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: status.Names()})
}

// ResendEmailVerification serves POST /v1/accounts/verify-email/resend. It
// always answers 202 so the endpoint cannot be used to probe addresses.
func (h *AccountHandler) ResendEmailVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if _, err := h.accounts.ResendEmailVerification(c.Request.Context(), usecase.ResendEmailVerificationCommand{
		Email: strings.TrimSpace(req.Email),
	}); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "if the address is registered and unverified, a new link was sent"})
}

// IssueCode serves POST /v1/accounts/me/codes.
func (h *AccountHandler) IssueCode(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}
	h.issueCode(c, accountID, false)
}

func (h *AccountHandler) issueCode(c *gin.Context, accountID string, administrative bool) {
	var req CodeIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	issued, err := h.accounts.IssueVerificationCode(c.Request.Context(), usecase.IssueVerificationCodeCommand{
		AccountID:      accountID,
		Type:           req.Type,
		Administrative: administrative,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, CodeIssueResponse{
		Type:        issued.Type,
		Channel:     issued.Channel,
		ExpiresAt:   issued.ExpiresAt,
		MaxAttempts: issued.MaxAttempts,
	})
}

// VerifyCode serves POST /v1/accounts/me/codes/verify.
func (h *AccountHandler) VerifyCode(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}

	var req CodeVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if _, err := h.accounts.VerifyCode(c.Request.Context(), usecase.VerifyCodeCommand{
		AccountID: accountID,
		Type:      req.Type,
		Code:      strings.TrimSpace(req.Code),
	}); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// VerifyPhone serves POST /v1/accounts/me/phone/verify.
func (h *AccountHandler) VerifyPhone(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}

	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	status, err := h.accounts.VerifyPhone(c.Request.Context(), usecase.VerifyPhoneCommand{
		AccountID: accountID,
		Code:      strings.TrimSpace(req.Code),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: status.Names()})
}
