package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/pipeline"
)

const apiKeyHeader = "X-API-Key"

// Authenticator resolves bearer credentials to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (pipeline.Principal, error)
	AuthenticateAPIKey(ctx context.Context, raw string) (pipeline.Principal, error)
}

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, code, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		Code:    code,
		TraceID: GetTraceID(c),
	}
}

// RequireAuth accepts "Authorization: Bearer <access token>",
// "Authorization: ApiKey <key>", or an X-API-Key header, and attaches the
// resolved principal to the request context.
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, credential, ok := credentials(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "unauthenticated", "missing or malformed authorization header"))
			return
		}

		ctx := c.Request.Context()
		var (
			principal pipeline.Principal
			err       error
		)
		if scheme == "apikey" {
			principal, err = auth.AuthenticateAPIKey(ctx, credential)
		} else {
			principal, err = auth.Authenticate(ctx, credential)
		}
		if err != nil {
			_ = c.Error(err)
			if domain.IsKind(err, domain.KindUnauthenticated) {
				code := "unauthenticated"
				var de *domain.Error
				if errors.As(err, &de) {
					code = de.Code
				}
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, code, err.Error()))
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				newErrorResponse(c, "internal", "authentication failed"))
			return
		}

		c.Set(AccountIDKey, principal.AccountID)
		GetRequestContext(c).AccountID = principal.AccountID
		c.Request = c.Request.WithContext(pipeline.WithPrincipal(ctx, principal))

		c.Next()
	}
}

func credentials(c *gin.Context) (scheme, credential string, ok bool) {
	if key := strings.TrimSpace(c.GetHeader(apiKeyHeader)); key != "" {
		return "apikey", key, true
	}

	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	credential = strings.TrimSpace(parts[1])
	if credential == "" {
		return "", "", false
	}

	switch {
	case strings.EqualFold(parts[0], "Bearer"):
		return "bearer", credential, true
	case strings.EqualFold(parts[0], "ApiKey"):
		return "apikey", credential, true
	}
	return "", "", false
}

// GetAuthenticatedAccountID retrieves the account ID set by RequireAuth.
func GetAuthenticatedAccountID(c *gin.Context) (string, bool) {
	accountID, exists := c.Get(AccountIDKey)
	if !exists {
		return "", false
	}
	if id, ok := accountID.(string); ok && id != "" {
		return id, true
	}
	return "", false
}
