package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Components receive it by injection instead of touching the Prometheus globals.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Tenant resolution metrics
	IncrementTenantResolution(source, outcome string)
	IncrementIsolationFailure(kind string)

	// Foreign ad server metrics
	IncrementAdapterCall(op, outcome string)
	RecordAdapterLatency(op string, duration time.Duration)
	IncrementAdapterRetry(op string)
	IncrementRateLimitHits(tenantID string)

	// Core operation metrics
	IncrementKeyBinding(result string)
	IncrementReconciliation(outcome string)
	IncrementWorkflowStep(step, status string)
	IncrementNameRender(object string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementTenantResolution(source, outcome string) {
	TenantResolutions.WithLabelValues(source, outcome).Inc()
}

func (r *PrometheusRegistry) IncrementIsolationFailure(kind string) {
	TenantIsolationFailures.WithLabelValues(kind).Inc()
}

func (r *PrometheusRegistry) IncrementAdapterCall(op, outcome string) {
	AdapterCalls.WithLabelValues(op, outcome).Inc()
}

func (r *PrometheusRegistry) RecordAdapterLatency(op string, duration time.Duration) {
	AdapterLatency.WithLabelValues(op).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementAdapterRetry(op string) {
	AdapterRetries.WithLabelValues(op).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(tenantID string) {
	RateLimitHits.WithLabelValues(tenantID).Inc()
}

func (r *PrometheusRegistry) IncrementKeyBinding(result string) {
	KeyBindings.WithLabelValues(result).Inc()
}

func (r *PrometheusRegistry) IncrementReconciliation(outcome string) {
	Reconciliations.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementWorkflowStep(step, status string) {
	WorkflowSteps.WithLabelValues(step, status).Inc()
}

func (r *PrometheusRegistry) IncrementNameRender(object string) {
	NameRenders.WithLabelValues(object).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementTenantResolution(source, outcome string)                     {}
func (r *NoOpRegistry) IncrementIsolationFailure(kind string)                                {}
func (r *NoOpRegistry) IncrementAdapterCall(op, outcome string)                              {}
func (r *NoOpRegistry) RecordAdapterLatency(op string, duration time.Duration)               {}
func (r *NoOpRegistry) IncrementAdapterRetry(op string)                                      {}
func (r *NoOpRegistry) IncrementRateLimitHits(tenantID string)                               {}
func (r *NoOpRegistry) IncrementKeyBinding(result string)                                    {}
func (r *NoOpRegistry) IncrementReconciliation(outcome string)                               {}
func (r *NoOpRegistry) IncrementWorkflowStep(step, status string)                            {}
func (r *NoOpRegistry) IncrementNameRender(object string)                                    {}
