package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging,
// tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// The metrics server keeps serving until process exit

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// invocationSpanKey is the context key for invocation spans.
type invocationSpanKey struct{}

// invocationTimerKey is the context key for invocation timers.
type invocationTimerKey struct{}

// WithInvocationContext creates a context enriched with invocation-specific
// telemetry: a trace span, a scoped logger, started metrics and an event.
func WithInvocationContext(ctx context.Context, path, entityType, action string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartInvocationSpan(ctx, path, entityType, action)

	logger := tel.Logger.
		WithEntityPath(path).
		WithEntityType(entityType).
		WithAction(action)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordInvocationStarted(entityType, action)
	_ = tel.Events.PublishInvocationStarted(path, entityType, action)

	spanCtx = context.WithValue(spanCtx, invocationSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, invocationTimerKey{}, NewTimer())

	return spanCtx
}

// EndInvocationContext completes the invocation context, recording metrics
// and events.
func EndInvocationContext(ctx context.Context, path, entityType, action string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(invocationSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(invocationTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	status := "success"
	if err != nil {
		status = "failure"
	}
	tel.Metrics.RecordInvocationCompleted(entityType, action, status, duration)

	if err != nil {
		_ = tel.Events.PublishInvocationFailed(path, entityType, action, err.Error())
	} else {
		_ = tel.Events.PublishInvocationCompleted(path, entityType, action, duration)
	}
}

// RecordAdoption records that an entity adopted a pre-existing remote
// resource instead of creating one. Safe to call without telemetry in
// the context.
func RecordAdoption(ctx context.Context, path, entityType, resourceID string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordAdoption(entityType)
	_ = tel.Events.PublishEntityAdopted(path, entityType, resourceID)
}

// RecordGatewayOperation times an outbound request and records its metrics
// and span.
func RecordGatewayOperation(ctx context.Context, method, url string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		_, span = tel.Tracer.StartGatewaySpan(ctx, method, url)
		defer span.End()
	}

	timer := NewTimer()
	err := fn()

	if tel != nil {
		duration := timer.Duration()
		if err != nil {
			tel.Metrics.RecordGatewayError(method)
			tel.Metrics.RecordGatewayCall(method, "error", duration)
			RecordError(span, err)
		} else {
			tel.Metrics.RecordGatewayCall(method, "ok", duration)
			RecordSuccess(span)
		}
	}

	return err
}
