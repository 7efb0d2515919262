package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Telemetry bundles logging, tracing, metrics and events for one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

type invocationContextKey struct{}

// NewTelemetry creates a telemetry bundle from configuration. The metrics
// collector is subscribed to the event publisher.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

// NewTelemetryWithLogger is NewTelemetry with an existing logger.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events := NewEventPublisher(cfg.Events)
	events.Subscribe(metrics.ObserveEvent, nil)

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry bundle and its logger to ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext returns the bundle stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// InvocationIDFromContext returns the invocation id stored by
// StartInvocation, or "".
func InvocationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(invocationContextKey{}).(string)
	return id
}

// Shutdown drains events and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// InvocationScope instruments a single CLI invocation.
type InvocationScope struct {
	Ctx     context.Context
	Span    trace.Span
	Logger  *Logger
	id      string
	command string
	timer   *Timer
	tel     *Telemetry
}

// StartInvocation opens the root span, tags the logger and counts the
// invocation.
func (t *Telemetry) StartInvocation(ctx context.Context, invocationID, command string) *InvocationScope {
	ctx = context.WithValue(ctx, invocationContextKey{}, invocationID)
	ctx, span := t.Tracer.StartInvocationSpan(ctx, invocationID, command)
	logger := t.Logger.WithInvocation(invocationID, command)
	ctx = logger.WithContext(context.WithValue(ctx, telemetryContextKey{}, t))

	t.Metrics.RecordInvocationStarted(command, t.Config.Environment)
	logger.Debug("invocation started")

	return &InvocationScope{
		Ctx:     ctx,
		Span:    span,
		Logger:  logger,
		id:      invocationID,
		command: command,
		timer:   NewTimer(),
		tel:     t,
	}
}

// End closes the span, records the outcome and pushes metrics. A push
// failure is logged, never returned.
func (s *InvocationScope) End(err error) {
	duration := s.timer.Duration()
	s.tel.Metrics.RecordInvocationCompleted(s.command, duration, err)

	if err != nil {
		s.Span.SetAttributes(AttrErrorKind.String(string(engine.KindOf(err))))
		RecordError(s.Span, err)
		s.Logger.WithError(err).WithField("duration", duration.String()).Debug("invocation failed")
	} else {
		RecordSuccess(s.Span)
		s.Logger.WithField("duration", duration.String()).Debug("invocation completed")
	}
	s.Span.End()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.Ctx), 5*time.Second)
	defer cancel()
	if pushErr := s.tel.Metrics.Push(ctx, s.id); pushErr != nil {
		s.Logger.WithError(pushErr).Warn("failed to push metrics")
	}
}
