package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for provisor.
type Metrics struct {
	config MetricsConfig

	// Invocation metrics
	invocationsStarted   *prometheus.CounterVec
	invocationsCompleted *prometheus.CounterVec
	invocationDuration   *prometheus.HistogramVec

	// Readiness metrics
	readinessProbes   *prometheus.CounterVec
	readinessWait     *prometheus.HistogramVec
	readinessTimeouts *prometheus.CounterVec

	// Gateway metrics
	gatewayCalls    *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	gatewayErrors   *prometheus.CounterVec

	// Entity metrics
	entitiesManaged *prometheus.GaugeVec
	entityAdoptions *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeInvocations prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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
				Help:      "Total number of entity invocations started",
			},
			[]string{"entity_type", "action"},
		),
		invocationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_completed_total",
				Help:      "Total number of entity invocations completed",
			},
			[]string{"entity_type", "action", "status"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Duration of entity invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"entity_type", "action"},
		),

		readinessProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readiness_probes_total",
				Help:      "Total number of readiness probes",
			},
			[]string{"entity_type", "result"},
		),
		readinessWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "readiness_wait_seconds",
				Help:      "Time spent waiting for entities to become ready",
				Buckets:   buckets,
			},
			[]string{"entity_type"},
		),
		readinessTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readiness_timeouts_total",
				Help:      "Total number of readiness polls that exhausted their attempts",
			},
			[]string{"entity_type"},
		),

		gatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Total number of gateway requests",
			},
			[]string{"method", "status"},
		),
		gatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Duration of gateway requests in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),
		gatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_errors_total",
				Help:      "Total number of gateway transport failures",
			},
			[]string{"method"},
		),

		entitiesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entities_managed",
				Help:      "Current number of entities with recorded state",
			},
			[]string{"entity_type"},
		),
		entityAdoptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entity_adoptions_total",
				Help:      "Total number of pre-existing resources adopted during create",
			},
			[]string{"entity_type"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeInvocations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_invocations",
				Help:      "Current number of in-flight entity invocations",
			},
		),
	}

	registry.MustRegister(
		m.invocationsStarted,
		m.invocationsCompleted,
		m.invocationDuration,
		m.readinessProbes,
		m.readinessWait,
		m.readinessTimeouts,
		m.gatewayCalls,
		m.gatewayDuration,
		m.gatewayErrors,
		m.entitiesManaged,
		m.entityAdoptions,
		m.errorsByClass,
		m.errorsByCode,
		m.activeInvocations,
	)

	return m, nil
}

// Invocation Metrics

// RecordInvocationStarted increments the counter for started invocations.
func (m *Metrics) RecordInvocationStarted(entityType, action string) {
	if m.invocationsStarted == nil {
		return
	}
	m.invocationsStarted.WithLabelValues(entityType, action).Inc()
	m.activeInvocations.Inc()
}

// RecordInvocationCompleted records a completed invocation with its status
// and duration.
func (m *Metrics) RecordInvocationCompleted(entityType, action, status string, duration time.Duration) {
	if m.invocationsCompleted == nil {
		return
	}
	m.invocationsCompleted.WithLabelValues(entityType, action, status).Inc()
	m.invocationDuration.WithLabelValues(entityType, action).Observe(duration.Seconds())
	m.activeInvocations.Dec()
}

// Readiness Metrics

// RecordReadinessProbe records one probe and its outcome
// (ready, waiting, error).
func (m *Metrics) RecordReadinessProbe(entityType, result string) {
	if m.readinessProbes == nil {
		return
	}
	m.readinessProbes.WithLabelValues(entityType, result).Inc()
}

// RecordReadinessWait records the total time a poll spent waiting.
func (m *Metrics) RecordReadinessWait(entityType string, duration time.Duration) {
	if m.readinessWait == nil {
		return
	}
	m.readinessWait.WithLabelValues(entityType).Observe(duration.Seconds())
}

// RecordReadinessTimeout records an exhausted readiness poll.
func (m *Metrics) RecordReadinessTimeout(entityType string) {
	if m.readinessTimeouts == nil {
		return
	}
	m.readinessTimeouts.WithLabelValues(entityType).Inc()
}

// Gateway Metrics

// RecordGatewayCall records a gateway request with its status and duration.
func (m *Metrics) RecordGatewayCall(method, status string, duration time.Duration) {
	if m.gatewayCalls == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(method, status).Inc()
	m.gatewayDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordGatewayError records a gateway transport failure.
func (m *Metrics) RecordGatewayError(method string) {
	if m.gatewayErrors == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(method).Inc()
}

// Entity Metrics

// SetEntityCount sets the current count of entities with recorded state.
func (m *Metrics) SetEntityCount(entityType string, count float64) {
	if m.entitiesManaged == nil {
		return
	}
	m.entitiesManaged.WithLabelValues(entityType).Set(count)
}

// RecordAdoption records a create that adopted a pre-existing resource.
func (m *Metrics) RecordAdoption(entityType string) {
	if m.entityAdoptions == nil {
		return
	}
	m.entityAdoptions.WithLabelValues(entityType).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
