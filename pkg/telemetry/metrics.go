package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Metrics provides Prometheus metrics for stackpilot invocations.
type Metrics struct {
	config MetricsConfig

	// Invocation metrics
	invocationsStarted   *prometheus.CounterVec
	invocationsCompleted *prometheus.CounterVec
	invocationDuration   *prometheus.HistogramVec

	// Control plane metrics
	deploymentsFinished *prometheus.CounterVec
	instanceEvents      *prometheus.CounterVec
	cleanSkipped        prometheus.Counter

	// Error metrics
	errorsByKind *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. A disabled config yields a
// collector whose recorders are no-ops.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		invocationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_started_total",
				Help:      "Total number of CLI invocations started",
			},
			[]string{"command", "environment"},
		),
		invocationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_completed_total",
				Help:      "Total number of CLI invocations completed",
			},
			[]string{"command", "result"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Duration of CLI invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"command", "result"},
		),

		deploymentsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_finished_total",
				Help:      "Total number of deployments polled to completion",
			},
			[]string{"status"},
		),
		instanceEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instance_events_total",
				Help:      "Total number of instance lifecycle transitions requested or observed",
			},
			[]string{"event"},
		),
		cleanSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clean_skipped_total",
				Help:      "Total number of instances skipped by clean",
			},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of failed invocations by error kind",
			},
			[]string{"kind"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of failed invocations by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.invocationsStarted,
		m.invocationsCompleted,
		m.invocationDuration,
		m.deploymentsFinished,
		m.instanceEvents,
		m.cleanSkipped,
		m.errorsByKind,
		m.errorsByCode,
	)

	return m, nil
}

// RecordInvocationStarted increments the started counter.
func (m *Metrics) RecordInvocationStarted(command, environment string) {
	if m.invocationsStarted == nil {
		return
	}
	m.invocationsStarted.WithLabelValues(command, environment).Inc()
}

// RecordInvocationCompleted records the outcome of an invocation. The result
// label is derived from the returned error.
func (m *Metrics) RecordInvocationCompleted(command string, duration time.Duration, err error) {
	if m.invocationsCompleted == nil {
		return
	}
	result := ResultLabel(err)
	m.invocationsCompleted.WithLabelValues(command, result).Inc()
	m.invocationDuration.WithLabelValues(command, result).Observe(duration.Seconds())
	if err != nil && result != "declined" {
		m.RecordError(err)
	}
}

// RecordError counts err by kind and, when set, by code.
func (m *Metrics) RecordError(err error) {
	if m.errorsByKind == nil || err == nil {
		return
	}
	m.errorsByKind.WithLabelValues(string(engine.KindOf(err))).Inc()
	var e *engine.Error
	if errors.As(err, &e) && e.Code != "" {
		m.errorsByCode.WithLabelValues(e.Code).Inc()
	}
}

// ObserveEvent updates counters from a lifecycle event. It is registered as
// an EventPublisher subscriber.
func (m *Metrics) ObserveEvent(event Event) {
	if m.instanceEvents == nil {
		return
	}
	switch event.Type {
	case engine.EventDeploymentFinished:
		status, _ := event.Data["status"].(string)
		m.deploymentsFinished.WithLabelValues(status).Inc()
	case engine.EventCleanSkipped:
		m.cleanSkipped.Inc()
	case engine.EventInstanceCreated, engine.EventInstanceStarted, engine.EventInstanceOnline,
		engine.EventInstanceStopped, engine.EventInstanceDeleted:
		m.instanceEvents.WithLabelValues(event.Type).Inc()
	}
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Push sends the collected metrics to the configured Pushgateway, grouped by
// invocation id so parallel runs do not overwrite each other.
func (m *Metrics) Push(ctx context.Context, invocationID string) error {
	if m.registry == nil || m.config.PushGateway == "" {
		return nil
	}
	pusher := push.New(m.config.PushGateway, m.config.Job).
		Gatherer(m.registry).
		Grouping("invocation", invocationID)
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", m.config.PushGateway, err)
	}
	return nil
}

// ResultLabel maps an invocation error to a metric label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case engine.IsKind(err, engine.KindDeclined):
		return "declined"
	default:
		return "failure"
	}
}

// Timer measures an operation's duration.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
