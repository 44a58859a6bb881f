package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/transport/http/middleware"
	"github.com/arklim/credential-engine/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountPayload describes an account as returned by the API.
type AccountPayload struct {
	ID                  string        `json:"id"`
	Username            string        `json:"username"`
	Email               string        `json:"email"`
	Phone               *string       `json:"phone,omitempty"`
	Status              []string      `json:"status"`
	TwoFactorEnabled    bool          `json:"two_factor_enabled"`
	FailedLoginAttempts int           `json:"failed_login_attempts"`
	LockoutEnd          *time.Time    `json:"lockout_end,omitempty"`
	LastLogin           *LoginPayload `json:"last_login,omitempty"`
	MergedInto          string        `json:"merged_into,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	Version             int64         `json:"version"`
}

// LoginPayload describes the most recent successful login.
type LoginPayload struct {
	At        time.Time `json:"at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

func newAccountPayload(view usecase.AccountView) AccountPayload {
	payload := AccountPayload{
		ID:                  view.ID,
		Username:            view.Username,
		Email:               view.Email,
		Phone:               view.Phone,
		Status:              view.Status.Names(),
		TwoFactorEnabled:    view.TwoFactorEnabled,
		FailedLoginAttempts: view.FailedLoginAttempts,
		LockoutEnd:          view.LockoutEnd,
		MergedInto:          view.MergedInto,
		CreatedAt:           view.CreatedAt,
		UpdatedAt:           view.UpdatedAt,
		Version:             view.Version,
	}
	if view.LastLogin != nil {
		payload.LastLogin = &LoginPayload{
			At:        view.LastLogin.At,
			IP:        view.LastLogin.IP,
			UserAgent: view.LastLogin.UserAgent,
		}
	}
	return payload
}

// RegistrationRequest is the payload of POST /v1/accounts.
type RegistrationRequest struct {
	Username string  `json:"username" binding:"required"`
	Email    string  `json:"email" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Phone    *string `json:"phone"`
}

// RegistrationResponse is returned for a created account.
type RegistrationResponse struct {
	ID                    string     `json:"id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	Status                []string   `json:"status"`
	VerificationExpiresAt *time.Time `json:"verification_expires_at,omitempty"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TwoFactorLoginRequest redeems a login challenge.
type TwoFactorLoginRequest struct {
	ChallengeToken string `json:"challenge_token" binding:"required"`
	Code           string `json:"code" binding:"required"`
}

// TokenPairPayload is the credential set issued after authentication.
type TokenPairPayload struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	FamilyID         string    `json:"family_id"`
}

func newTokenPairPayload(pair usecase.TokenPair, now time.Time) TokenPairPayload {
	expiresIn := int(pair.AccessExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenPairPayload{
		AccessToken:      pair.AccessToken,
		TokenType:        pair.TokenType,
		ExpiresIn:        expiresIn,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		FamilyID:         pair.FamilyID,
	}
}

// LoginResponse reports the outcome of a login step.
type LoginResponse struct {
	Result             domain.LoginResult     `json:"result"`
	AccountID          string                 `json:"account_id,omitempty"`
	PendingActions     []domain.PendingAction `json:"pending_actions,omitempty"`
	RemainingAttempts  *int                   `json:"remaining_attempts,omitempty"`
	LockedUntil        *time.Time             `json:"locked_until,omitempty"`
	Tokens             *TokenPairPayload      `json:"tokens,omitempty"`
	ChallengeToken     string                 `json:"challenge_token,omitempty"`
	ChallengeExpiresAt *time.Time             `json:"challenge_expires_at,omitempty"`
}

// TokenRefreshRequest represents the payload to refresh an access token.
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenRefreshResponse carries the rotated pair, or the reuse verdict.
type TokenRefreshResponse struct {
	Outcome  usecase.RefreshOutcome `json:"outcome"`
	FamilyID string                 `json:"family_id,omitempty"`
	Tokens   *TokenPairPayload      `json:"tokens,omitempty"`
}

// LogoutRequest revokes one refresh family, or every credential when All is set.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

// RevokeResponse reports how many tokens were revoked.
type RevokeResponse struct {
	Revoked int `json:"revoked"`
}

// AdminRevokeRequest revokes every credential of an account.
type AdminRevokeRequest struct {
	Reason string `json:"reason"`
}

// APIKeyRequest creates an API key.
type APIKeyRequest struct {
	Name             string `json:"name" binding:"required"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

// APIKeyResponse shows the key once.
type APIKeyResponse struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// EmailVerificationRequest confirms an e-mail address.
type EmailVerificationRequest struct {
	Email string `json:"email" binding:"required"`
	Token string `json:"token" binding:"required"`
}

// EmailRequest carries a bare e-mail address.
type EmailRequest struct {
	Email string `json:"email" binding:"required"`
}

// StatusResponse reports the account status after a transition.
type StatusResponse struct {
	Status []string `json:"status"`
}

// PasswordChangeRequest changes the caller's password.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// PasswordResetConfirmRequest completes a password reset.
type PasswordResetConfirmRequest struct {
	Email       string `json:"email" binding:"required"`
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// CodeIssueRequest issues a verification code.
type CodeIssueRequest struct {
	Type domain.CodeType `json:"type" binding:"required"`
}

// CodeIssueResponse describes a delivered code.
type CodeIssueResponse struct {
	Type        domain.CodeType `json:"type"`
	Channel     string          `json:"channel"`
	ExpiresAt   time.Time       `json:"expires_at"`
	MaxAttempts int             `json:"max_attempts"`
}

// CodeVerifyRequest redeems a verification code.
type CodeVerifyRequest struct {
	Type domain.CodeType `json:"type" binding:"required"`
	Code string          `json:"code" binding:"required"`
}

// CodeRequest carries a bare code.
type CodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// PasswordRequest carries a bare password.
type PasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// TwoFactorEnrollResponse carries the secret to import into an authenticator.
type TwoFactorEnrollResponse struct {
	KeyID           string `json:"key_id"`
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// SuspendRequest suspends or blocks an account.
type SuspendRequest struct {
	Reason string `json:"reason"`
	Block  bool   `json:"block"`
}

// MergeRequest merges an account into another.
type MergeRequest struct {
	TargetID string `json:"target_id" binding:"required"`
}

// RoleRequest upserts a role.
type RoleRequest struct {
	Description *string  `json:"description"`
	Permissions []string `json:"permissions"`
}

// RolePayload describes a role.
type RolePayload struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

func newRolePayload(role domain.Role) RolePayload {
	return RolePayload{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Permissions: role.Permissions.Names(),
	}
}

// RoleListResponse lists the roles assigned to an account.
type RoleListResponse struct {
	AccountID   string        `json:"account_id"`
	Roles       []RolePayload `json:"roles"`
	Permissions []string      `json:"permissions"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadyResponse describes readiness of the service dependencies.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
