package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/infra/config"
	"github.com/arklim/credential-engine/internal/infra/logger"
	"github.com/arklim/credential-engine/internal/infra/telemetry"
	"github.com/arklim/credential-engine/internal/transport/http/middleware"
	"github.com/arklim/credential-engine/internal/transport/http/routes"
)

const shutdownTimeout = 10 * time.Second

const tracerName = "github.com/arklim/credential-engine"

type Application struct {
	cfg           *config.AppConfig
	engine        *gin.Engine
	logger        *zap.Logger
	container     *Container
	telemetry     *telemetry.Provider
	metricsServer *http.Server
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return NewWithLogger(ctx, cfg, log)
}

// NewWithLogger assembles the application around an existing logger.
func NewWithLogger(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*Application, error) {
	tel, err := telemetry.Attach(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	container, err := NewContainer(ctx, cfg, log, ContainerOptions{
		Registerer: tel.Registerer(),
		Tracer:     tel.Tracer(tracerName),
	})
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: tel.Registerer()})
	if err != nil {
		_ = container.Close()
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	deps := routes.Dependencies{
		Config:         cfg,
		Logger:         log,
		RateLimiter:    middleware.NewRateLimiter(container.RateLimits, log),
		Metrics:        httpMetrics,
		MetricsHandler: tel.MetricsHandler(),
		Keys:           container.JWT,
		Services: routes.ServiceSet{
			Accounts: container.Accounts,
			Tokens:   container.Tokens,
			Roles:    container.Roles,
		},
	}
	if container.Pool != nil {
		deps.Database = container.Pool
	}
	if container.Redis != nil {
		deps.Cache = container.Redis
	}

	a := &Application{
		cfg:       cfg,
		engine:    routes.Register(deps),
		logger:    log,
		container: container,
		telemetry: tel,
	}

	if port := cfg.Telemetry.MetricsPort; port > 0 && port != cfg.App.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", tel.MetricsHandler())
		a.metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.App.Host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// Handler exposes the HTTP engine.
func (a *Application) Handler() http.Handler {
	return a.engine
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if err := a.container.Close(); err != nil {
			a.logger.Warn("failed to release resources", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting credential engine",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("storage", a.cfg.Storage.Driver),
	)

	serverErrCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		a.logger.Info("starting metrics listener", zap.String("address", a.metricsServer.Addr))
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrCh <- fmt.Errorf("run metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}
