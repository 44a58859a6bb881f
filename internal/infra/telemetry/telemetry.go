package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/credential-engine/internal/infra/config"
)

// Provider owns the metrics registry and tracer shared by the application.
type Provider struct {
	registry *prometheus.Registry
	tracing  *TracerProvider
	logger   *zap.Logger
}

// Attach builds a private registry with runtime collectors and, when an OTLP
// endpoint is configured, an exporting tracer provider.
func Attach(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}

	p := &Provider{registry: registry, logger: logger}

	if cfg.Telemetry.OTLPEndpoint != "" {
		tp, err := NewTracerProvider(ctx, cfg.Telemetry, logger)
		if err != nil {
			return nil, err
		}
		p.tracing = tp
	}

	return p, nil
}

// Registerer is where components register their collectors.
func (p *Provider) Registerer() prometheus.Registerer {
	if p == nil {
		return prometheus.NewRegistry()
	}
	return p.registry
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Tracer returns a named tracer; without an exporter it falls back to the global no-op provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.tracing == nil {
		return otel.Tracer(name)
	}
	return p.tracing.Tracer(name)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracing == nil {
		return nil
	}
	return p.tracing.Shutdown(ctx)
}
