package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/pipeline"
	"github.com/arklim/credential-engine/internal/repository/memory"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testPassword  = "correct horse battery"
	validTOTPCode = "246810"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubHasher stores passwords with a reversible prefix. When gate is set,
// Hash blocks until every holder of the WaitGroup reached it.
type stubHasher struct {
	gate     *sync.WaitGroup
	verifies atomic.Int32
}

func (h *stubHasher) Hash(password string) (string, error) {
	if h.gate != nil {
		h.gate.Done()
		h.gate.Wait()
	}
	return "stub$" + password, nil
}

func (h *stubHasher) Verify(password, encoded string) (bool, error) {
	h.verifies.Add(1)
	if !strings.HasPrefix(encoded, "stub$") {
		return false, errors.New("unknown hash format")
	}
	return encoded == "stub$"+password, nil
}

type stubTOTP struct{}

func (stubTOTP) Verify(secret, code string, _ time.Time) (bool, error) {
	if secret == "" {
		return false, errors.New("missing secret")
	}
	return code == validTOTPCode, nil
}

// stubIssuer hands out opaque access tokens and remembers their claims.
type stubIssuer struct {
	mu     sync.Mutex
	claims map[string]port.AccessClaims
}

func newStubIssuer() *stubIssuer {
	return &stubIssuer{claims: make(map[string]port.AccessClaims)}
}

func (i *stubIssuer) Issue(claims port.AccessClaims) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	token := "at-" + claims.TokenID
	i.claims[token] = claims
	return token, nil
}

func (i *stubIssuer) Parse(token string) (*port.AccessClaims, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	claims, ok := i.claims[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &claims, nil
}

type recordingDelivery struct {
	mu       sync.Mutex
	messages []port.DeliveryMessage
}

func (d *recordingDelivery) Deliver(_ context.Context, msg port.DeliveryMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	return nil
}

func (d *recordingDelivery) last(t *testing.T, accountID, purpose string) port.DeliveryMessage {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.messages) - 1; i >= 0; i-- {
		if d.messages[i].AccountID == accountID && d.messages[i].Purpose == purpose {
			return d.messages[i]
		}
	}
	t.Fatalf("no %s message delivered to %s", purpose, accountID)
	return port.DeliveryMessage{}
}

func (d *recordingDelivery) count(purpose string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, m := range d.messages {
		if m.Purpose == purpose {
			n++
		}
	}
	return n
}

type harness struct {
	clock       *testClock
	store       *memory.Store
	accountsDB  *memory.AccountRepository
	tokensDB    *memory.TokenRepository
	codes       *memory.VerificationCodeStore
	roles       *memory.RoleStore
	revocations *memory.RevocationStore
	hasher      *stubHasher
	issuer      *stubIssuer
	delivery    *recordingDelivery
	resolver    *PermissionResolver
	service     *AccountService
	tokens      *TokenService
	roleService *RoleService
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()

	h := &harness{
		clock:       &testClock{now: testNow},
		hasher:      &stubHasher{},
		issuer:      newStubIssuer(),
		delivery:    &recordingDelivery{},
		revocations: memory.NewRevocationStore(time.Minute),
	}
	h.store = memory.NewStore(h.clock)
	h.accountsDB = memory.NewAccountRepository(h.store)
	h.tokensDB = memory.NewTokenRepository(h.store)
	h.codes = memory.NewVerificationCodeStore(h.store)
	h.roles = memory.NewRoleStore(h.store)
	h.resolver = NewPermissionResolver(h.roles, domain.PermAccountsSelf, time.Minute)

	logger := zaptest.NewLogger(t)
	p, err := pipeline.New(pipeline.Dependencies{
		UnitOfWork: memory.NewUnitOfWork(h.store),
		Accounts:   h.accountsDB,
		Authorizer: h.resolver,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	opts := DefaultOptions()
	for _, m := range mutate {
		m(&opts)
	}
	h.service, err = NewAccountService(Dependencies{
		Pipeline:     p,
		Accounts:     h.accountsDB,
		Tokens:       h.tokensDB,
		Codes:        h.codes,
		RateLimits:   memory.NewRateLimitStore(h.store),
		Delivery:     h.delivery,
		Roles:        h.roles,
		Hasher:       h.hasher,
		TwoFactor:    stubTOTP{},
		AccessTokens: h.issuer,
		Revocations:  h.revocations,
		Clock:        h.clock,
		Logger:       logger,
	}, opts)
	if err != nil {
		t.Fatalf("NewAccountService: %v", err)
	}
	h.tokens = h.service.Tokens()
	h.roleService = NewRoleService(p, h.roles, h.accountsDB, h.resolver)
	h.roleService.now = h.clock.Now
	return h
}

// as returns a context acting on behalf of accountID.
func as(accountID string) context.Context {
	return pipeline.WithPrincipal(context.Background(), pipeline.Principal{AccountID: accountID})
}

func (h *harness) register(t *testing.T, email string, phone *string) string {
	t.Helper()
	res, err := h.service.Register(context.Background(), RegisterCommand{
		Username: strings.Split(email, "@")[0],
		Email:    email,
		Password: testPassword,
		Phone:    phone,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return res.AccountID
}

// registerActive registers an account and redeems its verification e-mail.
func (h *harness) registerActive(t *testing.T, email string) string {
	t.Helper()
	id := h.register(t, email, nil)
	msg := h.delivery.last(t, id, PurposeEmailVerification)
	if _, err := h.service.VerifyEmail(context.Background(), VerifyEmailCommand{Email: email, Token: msg.Secret}); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	return id
}

func (h *harness) login(t *testing.T, email, password string) LoginResult {
	t.Helper()
	res, err := h.service.Login(context.Background(), LoginCommand{Email: email, Password: password, IP: "203.0.113.7"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

// grant gives accountID a role holding perms, bypassing the command layer.
func (h *harness) grant(t *testing.T, accountID string, perms domain.Permissions) {
	t.Helper()
	ctx := context.Background()
	role := domain.Role{ID: "role-" + accountID, Name: "test-" + accountID, Permissions: perms}
	if err := h.roles.UpsertRole(ctx, role); err != nil {
		t.Fatalf("UpsertRole: %v", err)
	}
	if err := h.roles.AssignRole(ctx, domain.RoleAssignment{AccountID: accountID, RoleID: role.ID, AssignedAt: testNow}); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	h.resolver.Invalidate(accountID)
}

func (h *harness) account(t *testing.T, id string) *domain.Account {
	t.Helper()
	a, err := h.accountsDB.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	return a
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	if !domain.IsKind(err, kind) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}
