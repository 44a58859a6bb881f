package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/usecase"
)

// AuthHandler exposes registration, login, and token endpoints.
type AuthHandler struct {
	accounts *usecase.AccountService
	tokens   *usecase.TokenService
	now      func() time.Time
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(accounts *usecase.AccountService, tokens *usecase.TokenService) *AuthHandler {
	return &AuthHandler{accounts: accounts, tokens: tokens, now: time.Now}
}

// AuthRouteOptions carries the per-route middleware chains.
type AuthRouteOptions struct {
	Register []gin.HandlerFunc
	Login    []gin.HandlerFunc
	Refresh  []gin.HandlerFunc
	Auth     gin.HandlerFunc
}

// RegisterRoutes binds routes under /v1.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, opts AuthRouteOptions) {
	r.POST("/accounts", chain(opts.Register, h.Register)...)

	auth := r.Group("/auth")
	auth.POST("/login", chain(opts.Login, h.Login)...)
	auth.POST("/login/two-factor", chain(opts.Login, h.CompleteTwoFactor)...)
	auth.POST("/refresh", chain(opts.Refresh, h.Refresh)...)
	if opts.Auth != nil {
		auth.POST("/logout", opts.Auth, h.Logout)
	}
}

func chain(middlewares []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(middlewares)+1)
	out = append(out, middlewares...)
	return append(out, handler)
}

// Register serves POST /v1/accounts.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	cmd := usecase.RegisterCommand{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	}
	if req.Phone != nil {
		if phone := strings.TrimSpace(*req.Phone); phone != "" {
			cmd.Phone = &phone
		}
	}

	result, err := h.accounts.Register(c.Request.Context(), cmd)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, RegistrationResponse{
		ID:                    result.AccountID,
		Username:              result.Username,
		Email:                 result.Email,
		Status:                result.Status.Names(),
		VerificationExpiresAt: result.VerificationExpiresAt,
	})
}

// Login serves POST /v1/auth/login. Wrong passwords answer 401 and lockouts
// 423, both with the login result so clients can show remaining attempts.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.accounts.Login(c.Request.Context(), usecase.LoginCommand{
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	h.respondLogin(c, result)
}

// CompleteTwoFactor serves POST /v1/auth/login/two-factor.
func (h *AuthHandler) CompleteTwoFactor(c *gin.Context) {
	var req TwoFactorLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.accounts.CompleteTwoFactorLogin(c.Request.Context(), usecase.CompleteTwoFactorLoginCommand{
		ChallengeToken: strings.TrimSpace(req.ChallengeToken),
		Code:           strings.TrimSpace(req.Code),
		IP:             c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	h.respondLogin(c, result)
}

func (h *AuthHandler) respondLogin(c *gin.Context, result usecase.LoginResult) {
	resp := LoginResponse{
		Result:             result.Result,
		PendingActions:     result.PendingActions,
		ChallengeToken:     result.ChallengeToken,
		ChallengeExpiresAt: result.ChallengeExpiresAt,
	}

	switch result.Result {
	case domain.LoginInvalidPassword:
		remaining := result.RemainingAttempts
		resp.RemainingAttempts = &remaining
		c.JSON(http.StatusUnauthorized, resp)
		return
	case domain.LoginAccountLocked:
		resp.LockedUntil = result.LockedUntil
		if result.LockedUntil != nil {
			seconds := int(math.Ceil(result.LockedUntil.Sub(h.now()).Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(seconds, 0)))
		}
		c.JSON(http.StatusLocked, resp)
		return
	}

	resp.AccountID = result.AccountID
	if result.Tokens != nil {
		pair := newTokenPairPayload(*result.Tokens, h.now())
		resp.Tokens = &pair
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh serves POST /v1/auth/refresh. A replayed token revokes its family
// and answers 401 with outcome reuse_detected.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.tokens.RefreshTokens(c.Request.Context(), usecase.RefreshTokensCommand{
		RefreshToken: strings.TrimSpace(req.RefreshToken),
		IP:           c.ClientIP(),
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	resp := TokenRefreshResponse{Outcome: result.Outcome, FamilyID: result.FamilyID}
	if result.Outcome == usecase.RefreshReuseDetected || result.Tokens == nil {
		c.JSON(http.StatusUnauthorized, resp)
		return
	}
	pair := newTokenPairPayload(*result.Tokens, h.now())
	resp.Tokens = &pair
	c.JSON(http.StatusOK, resp)
}

// Logout serves POST /v1/auth/logout. Without a refresh token, or with all
// set, every credential of the caller is revoked.
func (h *AuthHandler) Logout(c *gin.Context) {
	accountID, ok := authenticatedAccount(c)
	if !ok {
		return
	}

	var req LogoutRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	cmd := usecase.RevokeTokensCommand{AccountID: accountID, Reason: usecase.ReasonLogout}
	if !req.All {
		cmd.RefreshToken = strings.TrimSpace(req.RefreshToken)
	}

	result, err := h.tokens.RevokeTokens(c.Request.Context(), cmd)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RevokeResponse{Revoked: result.Revoked})
}
