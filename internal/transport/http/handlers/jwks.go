package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const jwksCacheControl = "public, max-age=3600"

// KeySet renders the public verification keys.
type KeySet interface {
	JWKS() ([]byte, error)
}

// JWKSHandler provides the JSON Web Key Set used for offline JWT validation.
type JWKSHandler struct {
	keys KeySet
}

// NewJWKSHandler constructs a JWKS handler backed by the supplied key set.
func NewJWKSHandler(keys KeySet) *JWKSHandler {
	return &JWKSHandler{keys: keys}
}

// Keys serves GET /.well-known/jwks.json.
func (h *JWKSHandler) Keys(c *gin.Context) {
	if h == nil || h.keys == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "jwks not available"))
		return
	}

	payload, err := h.keys.JWKS()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to render jwks"))
		return
	}

	c.Header("Cache-Control", jwksCacheControl)
	c.Data(http.StatusOK, "application/json", payload)
}
