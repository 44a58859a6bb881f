package security

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
)

// ErrKeyIDMissing indicates no kid is associated with the supplied key.
var ErrKeyIDMissing = errors.New("jwt: missing key identifier")

// ErrKeyNotRegistered indicates a supplied kid is unknown to the JWT manager.
var ErrKeyNotRegistered = errors.New("jwt: key not registered")

// JWTManager coordinates signing key retrieval and JWKS generation.
type JWTManager struct {
	KeyProvider KeyProvider
	mu          sync.RWMutex
	publicKeys  map[string]*rsa.PublicKey
}

// NewJWTManager constructs a JWTManager for the supplied key provider.
func NewJWTManager(provider KeyProvider) *JWTManager {
	mgr := &JWTManager{
		KeyProvider: provider,
		publicKeys:  make(map[string]*rsa.PublicKey),
	}

	if enumerator, ok := provider.(interface {
		ListVerificationKeys() map[string]*rsa.PublicKey
	}); ok {
		for kid, key := range enumerator.ListVerificationKeys() {
			_ = mgr.RegisterPublicKey(kid, key)
		}
	}

	return mgr
}

// RegisterPublicKey associates a kid with a public key for JWKS publication and future lookup.
func (m *JWTManager) RegisterPublicKey(kid string, key *rsa.PublicKey) error {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return ErrKeyIDMissing
	}
	if key == nil {
		return fmt.Errorf("jwt: public key for %s is nil", kid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicKeys[kid] = key
	return nil
}

// UnregisterPublicKey removes the supplied kid from the JWKS catalogue.
func (m *JWTManager) UnregisterPublicKey(kid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.publicKeys, strings.TrimSpace(kid))
}

// GetSigningKey retrieves the active signing key from the provider.
func (m *JWTManager) GetSigningKey() (*rsa.PrivateKey, error) {
	if m.KeyProvider == nil {
		return nil, fmt.Errorf("jwt: key provider not configured")
	}
	return m.KeyProvider.GetSigningKey()
}

// GetVerificationKey retrieves a public key by kid.
func (m *JWTManager) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}

	m.mu.RLock()
	key, ok := m.publicKeys[kid]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	if m.KeyProvider != nil {
		fetched, err := m.KeyProvider.GetVerificationKey(kid)
		if err == nil {
			_ = m.RegisterPublicKey(kid, fetched)
			return fetched, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrKeyNotRegistered, kid)
}

// JWKS produces the JSON Web Key Set for registered keys.
func (m *JWTManager) JWKS() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.publicKeys) == 0 {
		return json.Marshal(struct {
			Keys []any `json:"keys"`
		}{Keys: []any{}})
	}

	keys := make([]map[string]string, 0, len(m.publicKeys))
	for kid, key := range m.publicKeys {
		if key == nil {
			continue
		}
		keys = append(keys, buildJWK(kid, key))
	}

	payload := map[string]any{"keys": keys}
	return json.Marshal(payload)
}

func buildJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// ErrInvalidAccessToken indicates a malformed, forged, or expired access token.
var ErrInvalidAccessToken = domain.NewError(domain.KindUnauthenticated, "invalid_access_token", "access token is invalid")

// AccessTokenClaims carries the account, refresh family, and roles of an access token.
type AccessTokenClaims struct {
	Roles    []string `json:"roles,omitempty"`
	FamilyID string   `json:"fid,omitempty"`
	jwt.RegisteredClaims
}

// JWTIssuerOptions configures a JWTIssuer.
type JWTIssuerOptions struct {
	KeyID    string
	Issuer   string
	Audience []string
	TTL      time.Duration
	Leeway   time.Duration
}

const defaultAccessTokenTTL = 15 * time.Minute

// JWTIssuer signs RS256 access tokens and verifies them against registered keys.
type JWTIssuer struct {
	manager *JWTManager
	opts    JWTIssuerOptions
}

// NewJWTIssuer constructs an issuer bound to a manager.
func NewJWTIssuer(manager *JWTManager, opts JWTIssuerOptions) (*JWTIssuer, error) {
	if manager == nil {
		return nil, fmt.Errorf("jwt: manager is required")
	}
	opts.KeyID = strings.TrimSpace(opts.KeyID)
	if opts.KeyID == "" {
		return nil, ErrKeyIDMissing
	}
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	if opts.Issuer == "" {
		return nil, fmt.Errorf("jwt: issuer is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultAccessTokenTTL
	}
	return &JWTIssuer{manager: manager, opts: opts}, nil
}

// TTL returns the lifetime of issued tokens.
func (i *JWTIssuer) TTL() time.Duration { return i.opts.TTL }

// Issue signs claims. Missing timestamps and ids are filled in.
func (i *JWTIssuer) Issue(claims port.AccessClaims) (string, error) {
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("jwt: subject is required")
	}

	issuedAt := claims.IssuedAt.UTC()
	if claims.IssuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	expiresAt := claims.ExpiresAt.UTC()
	if claims.ExpiresAt.IsZero() {
		expiresAt = issuedAt.Add(i.opts.TTL)
	}
	jti := strings.TrimSpace(claims.TokenID)
	if jti == "" {
		jti = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &AccessTokenClaims{
		Roles:    normalizeRoles(claims.Roles),
		FamilyID: claims.FamilyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.opts.Issuer,
			Audience:  i.opts.Audience,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	})
	token.Header["kid"] = i.opts.KeyID

	signingKey, err := i.manager.GetSigningKey()
	if err != nil {
		return "", fmt.Errorf("jwt: get signing key: %w", err)
	}
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer, audience, and expiry.
func (i *JWTIssuer) Parse(raw string) (*port.AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(i.opts.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(i.opts.Leeway),
	}
	if len(i.opts.Audience) > 0 {
		options = append(options, jwt.WithAudience(i.opts.Audience[0]))
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return i.manager.GetVerificationKey(kid)
	}, options...)
	if err != nil {
		return nil, ErrInvalidAccessToken.WithDetail("reason", err.Error())
	}

	out := &port.AccessClaims{
		Subject:  claims.Subject,
		TokenID:  claims.ID,
		FamilyID: claims.FamilyID,
		Roles:    claims.Roles,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

func normalizeRoles(input []string) []string {
	if len(input) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, role := range input {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		result = append(result, role)
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

var _ port.AccessTokenIssuer = (*JWTIssuer)(nil)
