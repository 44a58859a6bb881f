package pipeline

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsOptions controls construction of pipeline collectors.
type MetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
	Buckets    []float64
}

// Metrics wraps Prometheus collectors for command execution.
type Metrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

// NewMetrics constructs collectors and registers them with the supplied registerer.
func NewMetrics(opts MetricsOptions) (*Metrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "credential"
	}

	subsystem := opts.Subsystem
	if subsystem == "" {
		subsystem = "pipeline"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "commands_total",
		Help:      "Total number of commands partitioned by command and outcome.",
	}, []string{"command", "outcome"})
	if err := register(reg, &commands); err != nil {
		return nil, err
	}

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "command_duration_seconds",
		Help:      "Histogram of command latencies in seconds partitioned by command and outcome.",
		Buckets:   buckets,
	}, []string{"command", "outcome"})
	if err := register(reg, &duration); err != nil {
		return nil, err
	}

	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "in_flight_commands",
		Help:      "Current number of executing commands partitioned by command.",
	}, []string{"command"})
	if err := register(reg, &inFlight); err != nil {
		return nil, err
	}

	return &Metrics{commands: commands, duration: duration, inFlight: inFlight}, nil
}

// register adds c to reg, reusing an already registered collector of the same type.
func register[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return fmt.Errorf("register pipeline collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return fmt.Errorf("existing pipeline collector has wrong type %T", already.ExistingCollector)
		}
		*c = existing
	}
	return nil
}

func (m *Metrics) begin(command string) func(outcome string, seconds float64) {
	if m == nil {
		return func(string, float64) {}
	}
	gauge := m.inFlight.WithLabelValues(command)
	gauge.Inc()
	return func(outcome string, seconds float64) {
		gauge.Dec()
		labels := prometheus.Labels{"command": command, "outcome": outcome}
		m.commands.With(labels).Inc()
		m.duration.With(labels).Observe(seconds)
	}
}
