package observability

import (
	"strings"
	"sync"
	"time"
)

// RecordingRegistry counts every metric call by name and labels. Tests use
// it to assert that a code path emitted the expected signal.
type RecordingRegistry struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewRecordingRegistry returns an empty RecordingRegistry.
func NewRecordingRegistry() *RecordingRegistry {
	return &RecordingRegistry{counts: make(map[string]int)}
}

// Count returns how many times the metric with the given labels was recorded.
func (m *RecordingRegistry) Count(name string, labels ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key(name, labels...)]
}

func (m *RecordingRegistry) inc(name string, labels ...string) {
	m.mu.Lock()
	m.counts[key(name, labels...)]++
	m.mu.Unlock()
}

func key(name string, labels ...string) string {
	return name + "{" + strings.Join(labels, ",") + "}"
}

func (m *RecordingRegistry) IncrementRequests(endpoint, method, status string) {
	m.inc("requests", endpoint, method, status)
}

func (m *RecordingRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	m.inc("request_latency", endpoint, method)
}

func (m *RecordingRegistry) IncrementTenantResolution(source, outcome string) {
	m.inc("tenant_resolution", source, outcome)
}

func (m *RecordingRegistry) IncrementIsolationFailure(kind string) {
	m.inc("isolation_failure", kind)
}

func (m *RecordingRegistry) IncrementAdapterCall(op, outcome string) {
	m.inc("adapter_call", op, outcome)
}

func (m *RecordingRegistry) RecordAdapterLatency(op string, duration time.Duration) {
	m.inc("adapter_latency", op)
}

func (m *RecordingRegistry) IncrementAdapterRetry(op string) {
	m.inc("adapter_retry", op)
}

func (m *RecordingRegistry) IncrementRateLimitHits(tenantID string) {
	m.inc("ratelimit_hit", tenantID)
}

func (m *RecordingRegistry) IncrementKeyBinding(result string) {
	m.inc("key_binding", result)
}

func (m *RecordingRegistry) IncrementReconciliation(outcome string) {
	m.inc("reconciliation", outcome)
}

func (m *RecordingRegistry) IncrementWorkflowStep(step, status string) {
	m.inc("workflow_step", step, status)
}

func (m *RecordingRegistry) IncrementNameRender(object string) {
	m.inc("name_render", object)
}
