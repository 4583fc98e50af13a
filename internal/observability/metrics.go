package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesagent_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// tenant resolutions labelled by signal source and outcome
	TenantResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_tenant_resolutions_total",
			Help: "Tenant resolution attempts",
		},
		[]string{"source", "outcome"},
	)

	// isolation failures: tenant mismatch, no host signal, unknown tenant
	TenantIsolationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_tenant_isolation_failures_total",
			Help: "Requests rejected because they could not be bound to exactly one tenant",
		},
		[]string{"kind"},
	)

	// foreign ad server calls labelled by operation and outcome
	AdapterCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_adapter_calls_total",
			Help: "Calls made to the foreign ad server",
		},
		[]string{"op", "outcome"},
	)

	AdapterLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesagent_adapter_call_duration_seconds",
			Help:    "Duration of foreign ad server calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	AdapterRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_adapter_retries_total",
			Help: "Retries of idempotent foreign ad server calls",
		},
		[]string{"op"},
	)

	// custom targeting key bindings labelled by how they were obtained
	KeyBindings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_key_bindings_total",
			Help: "Custom targeting key binding lookups by result",
		},
		[]string{"result"},
	)

	// package reconciliations labelled by outcome
	Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_reconciliations_total",
			Help: "Creative assignment reconciliations per package",
		},
		[]string{"outcome"},
	)

	WorkflowSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_workflow_steps_total",
			Help: "Workflow step status transitions",
		},
		[]string{"step", "status"},
	)

	NameRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_name_renders_total",
			Help: "Names rendered for ad server objects",
		},
		[]string{"object"},
	)

	// adapter calls rejected by the per-tenant rate limiter
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesagent_ratelimit_hits_total",
			Help: "Total rate limit hits per tenant",
		},
		[]string{"tenant_id"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		TenantResolutions,
		TenantIsolationFailures,
		AdapterCalls,
		AdapterLatency,
		AdapterRetries,
		KeyBindings,
		Reconciliations,
		WorkflowSteps,
		NameRenders,
		RateLimitHits,
	)
}
