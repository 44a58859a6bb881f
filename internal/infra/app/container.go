package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/infra/config"
	"github.com/arklim/credential-engine/internal/infra/database"
	kafkainfra "github.com/arklim/credential-engine/internal/infra/kafka"
	redisinfra "github.com/arklim/credential-engine/internal/infra/redis"
	"github.com/arklim/credential-engine/internal/infra/security"
	"github.com/arklim/credential-engine/internal/pipeline"
	"github.com/arklim/credential-engine/internal/repository/memory"
	postgresrepo "github.com/arklim/credential-engine/internal/repository/postgres"
	redisrepo "github.com/arklim/credential-engine/internal/repository/redis"
	"github.com/arklim/credential-engine/internal/usecase"
)

// ContainerOptions adjusts how the use cases are assembled.
type ContainerOptions struct {
	// Operator skips permission checks. Only the local admin CLI sets it.
	Operator   bool
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
	Clock      domain.Clock
}

// Container holds the assembled use cases and the resources backing them.
type Container struct {
	Accounts *usecase.AccountService
	Tokens   *usecase.TokenService
	Roles    *usecase.RoleService
	Resolver *usecase.PermissionResolver
	JWT      *security.JWTManager

	// RateLimits backs the HTTP rate limiting middleware.
	RateLimits port.RateLimitStore
	// Pool and Redis are nil with the memory driver.
	Pool  *pgxpool.Pool
	Redis *redisinfra.Client

	closers []func() error
}

type stores struct {
	accounts    port.AccountRepository
	tokens      port.TokenRepository
	roles       port.RoleAdmin
	uow         port.UnitOfWork
	codes       port.VerificationCodeStore
	rateLimits  port.RateLimitStore
	revocations port.AccessRevocationStore
}

// NewContainer wires storage, security primitives, the pipeline, and the services.
func NewContainer(ctx context.Context, cfg *config.AppConfig, log *zap.Logger, opts ContainerOptions) (*Container, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock
	}

	c := &Container{}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	var st stores
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		st = c.memoryStores(cfg, opts.Clock)
		log.Info("using in-memory storage")
	default:
		var err error
		if st, err = c.postgresStores(ctx, cfg, log); err != nil {
			return nil, err
		}
	}
	c.RateLimits = st.rateLimits

	dispatcher, delivery := c.messaging(cfg, log)

	hasher, err := security.NewArgon2Hasher(port.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	keyProvider, err := security.NewKeyProvider(cfg.JWT.KeyDirectory, cfg.JWT.KeyID)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	c.JWT = security.NewJWTManager(keyProvider)

	var audience []string
	if cfg.JWT.Audience != "" {
		audience = []string{cfg.JWT.Audience}
	}
	issuer, err := security.NewJWTIssuer(c.JWT, security.JWTIssuerOptions{
		KeyID:    cfg.JWT.KeyID,
		Issuer:   cfg.JWT.Issuer,
		Audience: audience,
		TTL:      cfg.Tokens.AccessTTL,
		Leeway:   cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("init jwt issuer: %w", err)
	}

	c.Resolver = usecase.NewPermissionResolver(st.roles, domain.PermAccountsSelf, cfg.Permissions.CacheTTL)
	var authorizer pipeline.Authorizer = c.Resolver
	if opts.Operator {
		authorizer = usecase.OperatorAuthorizer{}
	}

	metrics, err := pipeline.NewMetrics(pipeline.MetricsOptions{Registerer: opts.Registerer})
	if err != nil {
		return nil, fmt.Errorf("init pipeline metrics: %w", err)
	}

	p, err := pipeline.New(pipeline.Dependencies{
		UnitOfWork: st.uow,
		Accounts:   st.accounts,
		Dispatcher: dispatcher,
		Authorizer: authorizer,
		Logger:     log,
		Metrics:    metrics,
		Tracer:     opts.Tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	c.Accounts, err = usecase.NewAccountService(usecase.Dependencies{
		Pipeline:   p,
		Accounts:   st.accounts,
		Tokens:     st.tokens,
		Codes:      st.codes,
		RateLimits: st.rateLimits,
		Delivery:   delivery,
		Roles:      st.roles,
		Hasher:     hasher,
		PasswordPolicy: security.NewPasswordPolicy(security.PasswordPolicyConfig{
			MinLength:           cfg.Password.MinLength,
			MinCharacterClasses: cfg.Password.MinCharacterClasses,
			MinStrengthScore:    cfg.Password.MinStrengthScore,
		}),
		TwoFactor:    security.NewTOTPVerifier(cfg.TwoFactor.Skew),
		AccessTokens: issuer,
		Revocations:  st.revocations,
		Clock:        opts.Clock,
		Random:       domain.CryptoRandom,
		Logger:       log,
	}, ServiceOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("init account service: %w", err)
	}
	c.Tokens = c.Accounts.Tokens()
	c.Roles = usecase.NewRoleService(p, st.roles, st.accounts, c.Resolver)

	ok = true
	return c, nil
}

func (c *Container) memoryStores(cfg *config.AppConfig, clock domain.Clock) stores {
	store := memory.NewStore(clock)
	return stores{
		accounts:    memory.NewAccountRepository(store),
		tokens:      memory.NewTokenRepository(store),
		roles:       memory.NewRoleStore(store),
		uow:         memory.NewUnitOfWork(store),
		codes:       memory.NewVerificationCodeStore(store),
		rateLimits:  memory.NewRateLimitStore(store),
		revocations: memory.NewRevocationStore(cfg.Tokens.RevocationCleanup),
	}
}

func (c *Container) postgresStores(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (stores, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return stores{}, fmt.Errorf("init postgres: %w", err)
	}
	c.Pool = pool
	c.closers = append(c.closers, func() error { pool.Close(); return nil })

	if cfg.Postgres.AutoMigrate {
		if err := postgresrepo.Migrate(ctx, pool); err != nil {
			return stores{}, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("database schema applied")
	}

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return stores{}, fmt.Errorf("init redis: %w", err)
	}
	c.Redis = redisClient
	c.closers = append(c.closers, redisClient.Close)

	window := cfg.RateLimit.WindowDuration
	if window < cfg.Codes.ResendWindow {
		window = cfg.Codes.ResendWindow
	}

	repos := postgresrepo.NewRepositories(pool)
	return stores{
		accounts: repos.Accounts,
		tokens:   repos.Tokens,
		roles:    repos.Roles,
		uow:      repos.UnitOfWork,
		codes:    redisrepo.NewCodeRepository(redisClient.Client(), cfg.Redis.CodePrefix),
		rateLimits: redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
			KeyPrefix: cfg.Redis.RateLimitPrefix,
			TTL:       2 * window,
		}),
		revocations: redisrepo.NewRevocationRepository(redisClient.Client(), cfg.Redis.RevocationPrefix),
	}, nil
}

// messaging picks Kafka when brokers are configured and falls back to logging.
func (c *Container) messaging(cfg *config.AppConfig, log *zap.Logger) (port.DomainEventDispatcher, port.CodeDelivery) {
	stub := kafkainfra.NewStubPublisher(log)
	if cfg.Storage.Driver == config.StorageDriverMemory || !cfg.Kafka.Enabled() {
		log.Info("kafka disabled, using stub publisher")
		return stub, stub
	}

	producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
	if err != nil {
		log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return stub, stub
	}
	c.closers = append(c.closers, producer.Close)

	return kafkainfra.NewEventDispatcher(producer, cfg.App, log),
		kafkainfra.NewCodeDelivery(producer, cfg.Kafka.DeliveryTopic)
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// ServiceOptions maps configuration onto use case options.
func ServiceOptions(cfg *config.AppConfig) usecase.Options {
	return usecase.Options{
		Lockout: domain.LockoutPolicy{
			MaxAttempts: cfg.Lockout.MaxAttempts,
			Duration:    cfg.Lockout.Duration,
		},
		EmailTokenLength:   cfg.Tokens.EmailLength,
		EmailTokenTTL:      cfg.Tokens.EmailTTL,
		ResetTokenLength:   cfg.Tokens.ResetLength,
		ResetTokenTTL:      cfg.Tokens.ResetTTL,
		TwoFactorIssuer:    cfg.TwoFactor.Issuer,
		AccessTokenTTL:     cfg.Tokens.AccessTTL,
		RefreshTokenLength: cfg.Tokens.RefreshLength,
		RefreshTokenTTL:    cfg.Tokens.RefreshTTL,
		ChallengeTTL:       cfg.Tokens.ChallengeTTL,
		APIKeyLength:       cfg.Tokens.APIKeyLength,
		CodeMaxAttempts:    cfg.Codes.MaxAttempts,
		CodeResendLimit:    cfg.Codes.ResendLimit,
		CodeResendWindow:   cfg.Codes.ResendWindow,
	}
}
