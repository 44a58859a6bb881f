package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/repository/memory"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

type recordingUnitOfWork struct {
	inner     *memory.UnitOfWork
	rec       *recorder
	commitErr error
}

func (u *recordingUnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	u.rec.add("begin")
	return u.inner.Begin(ctx)
}

func (u *recordingUnitOfWork) SaveChanges(ctx context.Context) error {
	u.rec.add("save")
	return u.inner.SaveChanges(ctx)
}

func (u *recordingUnitOfWork) Commit(ctx context.Context) error {
	u.rec.add("commit")
	if u.commitErr != nil {
		return u.commitErr
	}
	return u.inner.Commit(ctx)
}

func (u *recordingUnitOfWork) Rollback(ctx context.Context) error {
	u.rec.add("rollback")
	return u.inner.Rollback(ctx)
}

type recordingDispatcher struct {
	rec    *recorder
	events []domain.Event
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, events []domain.Event) error {
	d.rec.add("dispatch")
	d.events = append(d.events, events...)
	return d.err
}

type stubAuthorizer struct {
	rec     *recorder
	granted domain.Permissions
	err     error
}

func (a *stubAuthorizer) Authorize(_ context.Context, _ string, required domain.Permissions) error {
	a.rec.add("authorize")
	if a.err != nil {
		return a.err
	}
	if !a.granted.Has(required) {
		return ErrForbidden
	}
	return nil
}

type testCommand struct {
	name     string
	invalid  error
	required domain.Permissions
}

func (c testCommand) CommandName() string                    { return c.name }
func (c testCommand) Validate() error                        { return c.invalid }
func (c testCommand) RequiredPermission() domain.Permissions { return c.required }

type harness struct {
	rec        *recorder
	store      *memory.Store
	accounts   *memory.AccountRepository
	uow        *recordingUnitOfWork
	dispatcher *recordingDispatcher
	authorizer *stubAuthorizer
	registry   *prometheus.Registry
	pipeline   *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	rec := &recorder{}
	store := memory.NewStore(nil)
	h := &harness{
		rec:        rec,
		store:      store,
		accounts:   memory.NewAccountRepository(store),
		uow:        &recordingUnitOfWork{inner: memory.NewUnitOfWork(store), rec: rec},
		dispatcher: &recordingDispatcher{rec: rec},
		authorizer: &stubAuthorizer{rec: rec},
		registry:   prometheus.NewRegistry(),
	}

	metrics, err := NewMetrics(MetricsOptions{Registerer: h.registry})
	if err != nil {
		t.Fatalf("NewMetrics returned error: %v", err)
	}

	p, err := New(Dependencies{
		UnitOfWork: h.uow,
		Accounts:   h.accounts,
		Dispatcher: h.dispatcher,
		Authorizer: h.authorizer,
		Logger:     zaptest.NewLogger(t),
		Metrics:    metrics,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	h.pipeline = p
	return h
}

func (h *harness) seed(t *testing.T, id, email string) {
	t.Helper()

	acc, err := domain.NewAccount(id, "user-"+id, domain.Email(email), domain.PasswordHash("hash"), nil, testNow)
	if err != nil {
		t.Fatalf("NewAccount returned error: %v", err)
	}
	if err := h.accounts.Add(context.Background(), acc); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
}

func equalSteps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExecute_RunsStepsInOrder(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acc-1", "jane@example.com")
	h.authorizer.granted = domain.PermAccountsWrite

	ctx := WithPrincipal(context.Background(), Principal{AccountID: "admin"})
	cmd := testCommand{name: "suspend", required: domain.PermAccountsWrite}

	got, err := Execute(ctx, h.pipeline, cmd, func(ctx context.Context, scope *Scope, _ testCommand) (string, error) {
		h.rec.add("handle")
		acc, err := h.accounts.FindByID(ctx, "acc-1")
		if err != nil {
			return "", err
		}
		if err := acc.Suspend("review", testNow); err != nil {
			return "", err
		}
		scope.Track(acc)
		scope.AfterCommit(func(context.Context) error {
			h.rec.add("after")
			return nil
		})
		return acc.ID(), nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got != "acc-1" {
		t.Fatalf("unexpected result %q", got)
	}

	want := []string{"authorize", "begin", "handle", "save", "commit", "dispatch", "after"}
	if steps := h.rec.list(); !equalSteps(steps, want) {
		t.Fatalf("expected steps %v, got %v", want, steps)
	}
	if len(h.dispatcher.events) != 1 || h.dispatcher.events[0].Type != domain.EventAccountSuspended {
		t.Fatalf("expected one suspended event, got %+v", h.dispatcher.events)
	}

	stored, _ := h.accounts.FindByID(context.Background(), "acc-1")
	if !stored.Status().Has(domain.StatusSuspended) {
		t.Fatalf("expected suspension to be persisted")
	}

	if v := testutil.ToFloat64(h.pipeline.metrics.commands.WithLabelValues("suspend", "ok")); v != 1 {
		t.Fatalf("expected ok counter 1, got %v", v)
	}
}

func TestExecute_ValidationShortCircuits(t *testing.T) {
	h := newHarness(t)

	cmd := testCommand{name: "register", invalid: errors.New("username is required")}
	_, err := Execute(context.Background(), h.pipeline, cmd, func(context.Context, *Scope, testCommand) (struct{}, error) {
		t.Fatalf("handler must not run")
		return struct{}{}, nil
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if steps := h.rec.list(); len(steps) != 0 {
		t.Fatalf("expected no steps after validation failure, got %v", steps)
	}
	if v := testutil.ToFloat64(h.pipeline.metrics.commands.WithLabelValues("register", "validation")); v != 1 {
		t.Fatalf("expected validation counter 1, got %v", v)
	}
}

func TestExecute_RequiresPrincipal(t *testing.T) {
	h := newHarness(t)

	cmd := testCommand{name: "unlock", required: domain.PermAccountsUnlock}
	_, err := Execute(context.Background(), h.pipeline, cmd, func(context.Context, *Scope, testCommand) (struct{}, error) {
		t.Fatalf("handler must not run")
		return struct{}{}, nil
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestExecute_ForbiddenNeverOpensUnitOfWork(t *testing.T) {
	h := newHarness(t)
	h.authorizer.granted = domain.PermAccountsRead

	ctx := WithPrincipal(context.Background(), Principal{AccountID: "user"})
	cmd := testCommand{name: "delete", required: domain.PermAccountsDelete}
	_, err := Execute(ctx, h.pipeline, cmd, func(context.Context, *Scope, testCommand) (struct{}, error) {
		t.Fatalf("handler must not run")
		return struct{}{}, nil
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if steps := h.rec.list(); !equalSteps(steps, []string{"authorize"}) {
		t.Fatalf("expected only authorize, got %v", steps)
	}
}

func TestExecute_AuthorizerFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	h.authorizer.err = errors.New("role store unavailable")

	ctx := WithPrincipal(context.Background(), Principal{AccountID: "user"})
	_, err := Execute(ctx, h.pipeline, testCommand{name: "unlock", required: domain.PermAccountsUnlock},
		func(context.Context, *Scope, testCommand) (struct{}, error) { return struct{}{}, nil })
	if domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestExecute_HandlerErrorRollsBack(t *testing.T) {
	h := newHarness(t)

	_, err := Execute(context.Background(), h.pipeline, testCommand{name: "register"},
		func(ctx context.Context, scope *Scope, _ testCommand) (struct{}, error) {
			h.rec.add("handle")
			acc, err := domain.NewAccount("acc-9", "nine", domain.Email("nine@example.com"), domain.PasswordHash("hash"), nil, testNow)
			if err != nil {
				return struct{}{}, err
			}
			if err := h.accounts.Add(ctx, acc); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, domain.ErrEmailTaken
		})
	if !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	want := []string{"begin", "handle", "rollback"}
	if steps := h.rec.list(); !equalSteps(steps, want) {
		t.Fatalf("expected steps %v, got %v", want, steps)
	}
	if _, err := h.accounts.FindByID(context.Background(), "acc-9"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected write to be rolled back, got %v", err)
	}
}

func TestExecute_PanicBecomesInternalError(t *testing.T) {
	h := newHarness(t)

	_, err := Execute(context.Background(), h.pipeline, testCommand{name: "explode"},
		func(context.Context, *Scope, testCommand) (int, error) {
			panic("boom")
		})
	if domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if steps := h.rec.list(); !equalSteps(steps, []string{"begin", "rollback"}) {
		t.Fatalf("expected rollback after panic, got %v", steps)
	}
	if v := testutil.ToFloat64(h.pipeline.metrics.commands.WithLabelValues("explode", "internal")); v != 1 {
		t.Fatalf("expected internal counter 1, got %v", v)
	}
}

func TestExecute_CommitFailureSkipsDispatch(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acc-1", "jane@example.com")
	h.uow.commitErr = errors.New("connection reset")

	_, err := Execute(context.Background(), h.pipeline, testCommand{name: "suspend"},
		func(ctx context.Context, scope *Scope, _ testCommand) (struct{}, error) {
			acc, _ := h.accounts.FindByID(ctx, "acc-1")
			_ = acc.Suspend("review", testNow)
			scope.Track(acc)
			scope.AfterCommit(func(context.Context) error {
				t.Fatalf("after-commit work must not run")
				return nil
			})
			return struct{}{}, nil
		})
	if err == nil {
		t.Fatalf("expected commit error")
	}
	if len(h.dispatcher.events) != 0 {
		t.Fatalf("expected no events dispatched, got %d", len(h.dispatcher.events))
	}
	stored, _ := h.accounts.FindByID(context.Background(), "acc-1")
	if stored.Status().Has(domain.StatusSuspended) {
		t.Fatalf("expected update to be rolled back")
	}
}

func TestExecute_DispatchFailureDoesNotFailCommand(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acc-1", "jane@example.com")
	h.dispatcher.err = errors.New("broker down")

	_, err := Execute(context.Background(), h.pipeline, testCommand{name: "suspend"},
		func(ctx context.Context, scope *Scope, _ testCommand) (struct{}, error) {
			acc, _ := h.accounts.FindByID(ctx, "acc-1")
			_ = acc.Suspend("review", testNow)
			scope.Track(acc)
			return struct{}{}, nil
		})
	if err != nil {
		t.Fatalf("expected success despite dispatch failure, got %v", err)
	}
}

func TestExecute_ConcurrentWritersConflict(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "acc-1", "jane@example.com")

	first, _ := h.accounts.FindByID(context.Background(), "acc-1")
	second, _ := h.accounts.FindByID(context.Background(), "acc-1")

	run := func(acc *domain.Account, reason string) error {
		_, err := Execute(context.Background(), h.pipeline, testCommand{name: "suspend"},
			func(_ context.Context, scope *Scope, _ testCommand) (struct{}, error) {
				if err := acc.Suspend(reason, testNow); err != nil {
					return struct{}{}, err
				}
				scope.Track(acc)
				return struct{}{}, nil
			})
		return err
	}

	if err := run(first, "first"); err != nil {
		t.Fatalf("first writer returned error: %v", err)
	}
	err := run(second, "second")
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected conflict kind, got %s", domain.KindOf(err))
	}

	stored, _ := h.accounts.FindByID(context.Background(), "acc-1")
	if stored.Version() != first.Version() {
		t.Fatalf("expected stored version %d, got %d", first.Version(), stored.Version())
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}
