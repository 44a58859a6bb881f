package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/credential-engine/internal/infra/app"
	"github.com/arklim/credential-engine/internal/infra/config"
	"github.com/arklim/credential-engine/internal/transport/http/middleware"
	httproutes "github.com/arklim/credential-engine/internal/transport/http/routes"
)

const strongPassword = "Tr1cky-Parrot-Orbit-92"

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: logger,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

type failingChecker struct{}

func (failingChecker) Ping(context.Context) error { return context.DeadlineExceeded }

func TestReadinessReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{Config: cfg, Database: failingChecker{}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "unavailable" || body.Checks["database"] == "ok" {
		t.Fatalf("unexpected readiness payload %+v", body)
	}
}

type apiClient struct {
	t      *testing.T
	router http.Handler
}

func (c apiClient) do(method, path, token string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return out
}

func newMemoryAPI(t *testing.T) apiClient {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("IAM_STORAGE_DRIVER", config.StorageDriverMemory)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.App.Env = "test"
	cfg.JWT.KeyDirectory = ""
	cfg.Argon2.Memory = 8 * 1024
	cfg.Argon2.Iterations = 1
	cfg.Argon2.Parallelism = 1

	log := zaptest.NewLogger(t)
	container, err := app.NewContainer(context.Background(), cfg, log, app.ContainerOptions{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() { _ = container.Close() })

	router := httproutes.Register(httproutes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(container.RateLimits, log),
		Services: httproutes.ServiceSet{
			Accounts: container.Accounts,
			Tokens:   container.Tokens,
			Roles:    container.Roles,
		},
		Keys: container.JWT,
	})
	return apiClient{t: t, router: router}
}

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	FamilyID     string `json:"family_id"`
}

func TestRegisterLoginRefreshFlow(t *testing.T) {
	api := newMemoryAPI(t)

	w := api.do(http.MethodPost, "/v1/accounts", "", map[string]string{
		"username": "ada",
		"email":    "ada@example.com",
		"password": strongPassword,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	registered := decode[struct {
		ID     string   `json:"id"`
		Status []string `json:"status"`
	}](t, w)
	if registered.ID == "" {
		t.Fatalf("expected an account id")
	}

	w = api.do(http.MethodPost, "/v1/accounts", "", map[string]string{
		"username": "ada2",
		"email":    "ada@example.com",
		"password": strongPassword,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = api.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": "wrong-password"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", w.Code)
	}
	failed := decode[struct {
		Result            string `json:"result"`
		AccountID         string `json:"account_id"`
		RemainingAttempts *int   `json:"remaining_attempts"`
	}](t, w)
	if failed.Result != "invalid_password" || failed.RemainingAttempts == nil || failed.AccountID != "" {
		t.Fatalf("unexpected failed login payload %+v", failed)
	}

	w = api.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": strongPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	login := decode[struct {
		Result string  `json:"result"`
		Tokens *tokens `json:"tokens"`
	}](t, w)
	if login.Result != "not_verified" || login.Tokens == nil {
		t.Fatalf("expected not_verified login with tokens, got %+v", login)
	}

	w = api.do(http.MethodGet, "/v1/accounts/me", login.Tokens.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if me := decode[struct {
		ID string `json:"id"`
	}](t, w); me.ID != registered.ID {
		t.Fatalf("me returned %q, want %q", me.ID, registered.ID)
	}

	if w = api.do(http.MethodGet, "/v1/accounts/"+registered.ID, login.Tokens.AccessToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("admin read without accounts:read: expected 403, got %d", w.Code)
	}

	w = api.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": login.Tokens.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rotated := decode[struct {
		Outcome string  `json:"outcome"`
		Tokens  *tokens `json:"tokens"`
	}](t, w)
	if rotated.Tokens == nil || rotated.Tokens.FamilyID != login.Tokens.FamilyID {
		t.Fatalf("expected rotation within the family, got %+v", rotated)
	}

	w = api.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": login.Tokens.RefreshToken})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", w.Code)
	}
	if replay := decode[struct {
		Outcome string `json:"outcome"`
	}](t, w); replay.Outcome != "reuse_detected" {
		t.Fatalf("expected reuse_detected, got %q", replay.Outcome)
	}

	w = api.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": rotated.Tokens.RefreshToken})
	if w.Code == http.StatusOK {
		t.Fatalf("the family must be revoked after reuse")
	}
}

func TestProtectedRoutesRequireCredentials(t *testing.T) {
	api := newMemoryAPI(t)

	w := api.do(http.MethodGet, "/v1/accounts/me", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", w.Code)
	}
	w = api.do(http.MethodGet, "/v1/accounts/me", "not-a-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", w.Code)
	}
}

func TestAPIKeyAuthenticatesAndListsOwnRoles(t *testing.T) {
	api := newMemoryAPI(t)

	api.do(http.MethodPost, "/v1/accounts", "", map[string]string{"username": "grace", "email": "grace@example.com", "password": strongPassword})
	w := api.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "grace@example.com", "password": strongPassword})
	login := decode[struct {
		Tokens *tokens `json:"tokens"`
	}](t, w)
	if login.Tokens == nil {
		t.Fatalf("login failed: %s", w.Body.String())
	}

	w = api.do(http.MethodPost, "/v1/accounts/me/api-keys", login.Tokens.AccessToken, map[string]any{"name": "ci"})
	if w.Code != http.StatusCreated {
		t.Fatalf("api key: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	key := decode[struct {
		Key string `json:"key"`
	}](t, w)

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/me/roles", nil)
	req.Header.Set("X-API-Key", key.Key)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("roles via api key: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	roles := decode[struct {
		Roles       []any    `json:"roles"`
		Permissions []string `json:"permissions"`
	}](t, rec)
	if len(roles.Roles) != 0 || len(roles.Permissions) != 1 || roles.Permissions[0] != "accounts:self" {
		t.Fatalf("expected only the baseline permission, got %+v", roles)
	}
}

func TestResetRequestDoesNotRevealUnknownEmail(t *testing.T) {
	api := newMemoryAPI(t)

	w := api.do(http.MethodPost, "/v1/password/reset", "", map[string]string{"email": "nobody@example.com"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for unknown email, got %d: %s", w.Code, w.Body.String())
	}
}

func TestJWKSEndpointServesKeys(t *testing.T) {
	api := newMemoryAPI(t)

	w := api.do(http.MethodGet, "/.well-known/jwks.json", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	keys := decode[struct {
		Keys []map[string]any `json:"keys"`
	}](t, w)
	if len(keys.Keys) == 0 {
		t.Fatalf("expected at least one key")
	}
}
