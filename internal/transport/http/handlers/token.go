package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/usecase"
)

// IssueAPIKey serves POST /v1/accounts/me/api-keys. The key is returned once.
func (h *AccountHandler) IssueAPIKey(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}

	var req APIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if req.ExpiresInSeconds < 0 {
		RespondError(c, domain.NewError(domain.KindValidation, "invalid_expiry", "expires_in_seconds must not be negative"))
		return
	}

	key, err := h.tokens.IssueAPIKey(c.Request.Context(), usecase.IssueAPIKeyCommand{
		AccountID: accountID,
		Name:      strings.TrimSpace(req.Name),
		ExpiresIn: time.Duration(req.ExpiresInSeconds) * time.Second,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, APIKeyResponse{
		ID:        key.ID,
		Key:       key.Key,
		Name:      key.Name,
		ExpiresAt: key.ExpiresAt,
	})
}

// RevokeTokensFor serves POST /v1/accounts/:id/tokens/revoke and requires tokens:revoke.
func (h *AccountHandler) RevokeTokensFor(c *gin.Context) {
	var req AdminRevokeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.tokens.RevokeTokens(c.Request.Context(), usecase.RevokeTokensCommand{
		AccountID:      c.Param("id"),
		Reason:         strings.TrimSpace(req.Reason),
		Administrative: true,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RevokeResponse{Revoked: result.Revoked})
}
