package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/infra/config"
	"github.com/arklim/credential-engine/internal/transport/http/handlers"
	"github.com/arklim/credential-engine/internal/transport/http/middleware"
	"github.com/arklim/credential-engine/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Accounts *usecase.AccountService
	Tokens   *usecase.TokenService
	Roles    *usecase.RoleService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.HTTPMetrics
	// MetricsHandler serves /metrics; the default registry is used when nil.
	MetricsHandler http.Handler
	Services       ServiceSet
	Keys           handlers.KeySet
	Database       DatabaseChecker
	Cache          CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())
	r.Use(middleware.CORS(deps.Config.App.CORSOrigins))

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))
	r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.Keys).Keys)

	if deps.Services.Accounts == nil || deps.Services.Tokens == nil {
		return r
	}

	api := r.Group("/v1")
	authMiddleware := middleware.RequireAuth(deps.Services.Tokens)
	window := deps.Config.RateLimit.WindowDuration

	authHandler := handlers.NewAuthHandler(deps.Services.Accounts, deps.Services.Tokens)
	authHandler.RegisterRoutes(api, handlers.AuthRouteOptions{
		Register: ipLimit(deps, "accounts_register_ip", deps.Config.RateLimit.RegisterMaxAttempts, window),
		Login:    ipLimit(deps, "auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts, window),
		Refresh:  ipLimit(deps, "auth_refresh_ip", deps.Config.RateLimit.RefreshMaxAttempts, window),
		Auth:     authMiddleware,
	})

	accountHandler := handlers.NewAccountHandler(deps.Services.Accounts, deps.Services.Tokens)
	accountHandler.RegisterRoutes(api, handlers.AccountRouteOptions{
		Auth:           authMiddleware,
		PasswordReset:  ipLimit(deps, "password_reset_ip", deps.Config.RateLimit.PasswordResetMaxAttempts, window),
		PasswordChange: accountLimit(deps, "password_change_account", deps.Config.RateLimit.LoginMaxAttempts, window),
	})

	if deps.Services.Roles != nil {
		handlers.NewRoleHandler(deps.Services.Roles).RegisterRoutes(api, authMiddleware)
	}

	return r
}

// ipLimit returns a per-client-IP rule, or nothing when limiting is disabled.
func ipLimit(deps Dependencies, name string, limit int, window time.Duration) []gin.HandlerFunc {
	return limitBy(deps, name, limit, window, middleware.ClientIPIdentifier())
}

// accountLimit scopes the rule to the authenticated account.
func accountLimit(deps Dependencies, name string, limit int, window time.Duration) []gin.HandlerFunc {
	return limitBy(deps, name, limit, window, middleware.AccountIdentifier())
}

func limitBy(deps Dependencies, name string, limit int, window time.Duration, identifier middleware.IdentifierFunc) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: identifier,
	}
	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
