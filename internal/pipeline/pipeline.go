package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/infra/logger"
)

const tracerName = "github.com/arklim/credential-engine/internal/pipeline"

var (
	// ErrUnauthenticated is returned when a command needs a caller and none is present.
	ErrUnauthenticated = domain.NewError(domain.KindUnauthenticated, "unauthenticated", "authentication required")
	// ErrForbidden is returned when the caller lacks a required permission.
	ErrForbidden = domain.NewError(domain.KindForbidden, "forbidden", "permission denied")
)

// Command is a request executed through the pipeline.
type Command interface {
	CommandName() string
}

// Validatable commands check their own shape before anything else runs.
type Validatable interface {
	Validate() error
}

// Authorizable commands declare the permission their caller must hold.
type Authorizable interface {
	RequiredPermission() domain.Permissions
}

// Authorizer checks a caller's effective permissions.
type Authorizer interface {
	Authorize(ctx context.Context, accountID string, required domain.Permissions) error
}

// Handler runs the business step of a command inside an open unit of work.
type Handler[C Command, R any] func(ctx context.Context, scope *Scope, cmd C) (R, error)

// Dependencies bundles the collaborators of a Pipeline.
type Dependencies struct {
	UnitOfWork port.UnitOfWork
	Accounts   port.AccountRepository
	Dispatcher port.DomainEventDispatcher
	Authorizer Authorizer
	Logger     *zap.Logger
	Metrics    *Metrics
	Tracer     trace.Tracer
}

// Pipeline wraps every state-changing command in
// validate, authorize, begin, handle, persist, commit, dispatch, and log.
type Pipeline struct {
	uow        port.UnitOfWork
	accounts   port.AccountRepository
	dispatcher port.DomainEventDispatcher
	authorizer Authorizer
	logger     *zap.Logger
	metrics    *Metrics
	tracer     trace.Tracer
}

// New constructs a Pipeline.
func New(deps Dependencies) (*Pipeline, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("pipeline: unit of work is required")
	}
	if deps.Accounts == nil {
		return nil, errors.New("pipeline: account repository is required")
	}
	if deps.Authorizer == nil {
		return nil, errors.New("pipeline: authorizer is required")
	}

	p := &Pipeline{
		uow:        deps.UnitOfWork,
		accounts:   deps.Accounts,
		dispatcher: deps.Dispatcher,
		authorizer: deps.Authorizer,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p, nil
}

// Execute runs cmd through the pipeline. The chain stops at the first failure;
// the handler never runs unauthorized and nothing commits after a handler failure.
func Execute[C Command, R any](ctx context.Context, p *Pipeline, cmd C, handler Handler[C, R]) (result R, err error) {
	name := cmd.CommandName()
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "command "+name, trace.WithAttributes(attribute.String("command", name)))
	finish := p.metrics.begin(name)

	defer func() {
		outcome := outcomeOf(err)
		elapsed := time.Since(start)
		finish(outcome, elapsed.Seconds())

		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()

		p.logOutcome(ctx, name, outcome, elapsed, err)
	}()

	if err = p.validate(cmd); err != nil {
		return result, err
	}
	if err = p.authorize(ctx, cmd); err != nil {
		return result, err
	}

	txCtx, err := p.uow.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin unit of work: %w", err)
	}

	scope := &Scope{}
	result, err = invoke(txCtx, scope, cmd, handler)
	if err != nil {
		p.rollback(txCtx, name)
		return result, err
	}

	if err = p.persist(txCtx, scope); err != nil {
		p.rollback(txCtx, name)
		return result, err
	}
	events := scope.pullEvents()

	if err = p.uow.SaveChanges(txCtx); err != nil {
		p.rollback(txCtx, name)
		return result, fmt.Errorf("save changes: %w", err)
	}
	if err = p.uow.Commit(txCtx); err != nil {
		p.rollback(txCtx, name)
		return result, fmt.Errorf("commit unit of work: %w", err)
	}

	for _, a := range scope.tracked {
		a.MarkPersisted()
	}
	p.afterCommit(ctx, name, scope, events)

	return result, nil
}

func (p *Pipeline) validate(cmd Command) error {
	v, ok := cmd.(Validatable)
	if !ok {
		return nil
	}
	err := v.Validate()
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.NewError(domain.KindValidation, "invalid_command", err.Error())
}

func (p *Pipeline) authorize(ctx context.Context, cmd Command) error {
	a, ok := cmd.(Authorizable)
	if !ok {
		return nil
	}
	required := a.RequiredPermission()
	if required == domain.PermNone {
		return nil
	}

	principal, ok := PrincipalFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if err := p.authorizer.Authorize(ctx, principal.AccountID, required); err != nil {
		if domain.IsKind(err, domain.KindForbidden) {
			return err
		}
		return fmt.Errorf("authorize %s: %w", principal.AccountID, err)
	}
	return nil
}

// invoke runs the handler and converts a panic into an internal error.
func invoke[C Command, R any](ctx context.Context, scope *Scope, cmd C, handler Handler[C, R]) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			result = zero
			err = domain.Errorf(domain.KindInternal, "handler_panic", "command %s panicked: %v", cmd.CommandName(), r)
		}
	}()
	return handler(ctx, scope, cmd)
}

func (p *Pipeline) persist(ctx context.Context, scope *Scope) error {
	for _, a := range scope.tracked {
		switch {
		case a.IsNew():
			if err := p.accounts.Add(ctx, a); err != nil {
				return fmt.Errorf("add account: %w", err)
			}
		case a.HasPendingChanges():
			if err := p.accounts.Update(ctx, a); err != nil {
				return fmt.Errorf("update account: %w", err)
			}
		}
	}
	return nil
}

func (p *Pipeline) rollback(ctx context.Context, name string) {
	if err := p.uow.Rollback(ctx); err != nil {
		p.logger.Error("rollback failed", zap.String("command", name), zap.Error(err))
	}
}

// afterCommit dispatches events and runs deferred work. Failures are logged;
// the command already committed.
func (p *Pipeline) afterCommit(ctx context.Context, name string, scope *Scope, events []domain.Event) {
	if p.dispatcher != nil && len(events) > 0 {
		if err := p.dispatcher.Dispatch(ctx, events); err != nil {
			p.logger.Warn("dispatch domain events failed",
				zap.String("command", name),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
	}
	for _, fn := range scope.afterwards {
		if err := fn(ctx); err != nil {
			p.logger.Warn("post-commit action failed", zap.String("command", name), zap.Error(err))
		}
	}
}

func (p *Pipeline) logOutcome(ctx context.Context, name, outcome string, elapsed time.Duration, err error) {
	fields := []zap.Field{
		zap.String("command", name),
		zap.String("outcome", outcome),
		zap.Duration("duration", elapsed),
	}
	if id := logger.RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if principal, ok := PrincipalFrom(ctx); ok {
		fields = append(fields, zap.String("principal", principal.AccountID))
	}

	switch domain.KindOf(err) {
	case "":
		p.logger.Info("command completed", fields...)
	case domain.KindInternal:
		p.logger.Error("command failed", append(fields, zap.Error(err))...)
	default:
		p.logger.Info("command rejected", append(fields, zap.Error(err))...)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.KindOf(err))
}
