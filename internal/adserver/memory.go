package adserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

// MemoryAdapter is an in-process ad server used for local runs and tests.
type MemoryAdapter struct {
	mu        sync.Mutex
	keys      map[string]models.ExternalKeyID
	orders    map[string]string
	lineItems map[string]LineItemSpec
	calls     map[string]int
	failures  map[string][]error
	rejects   map[string]error
	nextID    int
}

// NewMemoryAdapter creates an empty in-memory ad server.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		keys:      make(map[string]models.ExternalKeyID),
		orders:    make(map[string]string),
		lineItems: make(map[string]LineItemSpec),
		calls:     make(map[string]int),
		failures:  make(map[string][]error),
		rejects:   make(map[string]error),
	}
}

// FailNext queues errors returned by the next calls of op, one per call.
func (m *MemoryAdapter) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// Reject makes every call of op for target fail with err until Accept is
// called. The target is the key name for ensure_custom_targeting_key and
// the package id for apply_line_item_targeting.
func (m *MemoryAdapter) Reject(op, target string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejects[op+"/"+target] = err
}

// Accept clears a Reject.
func (m *MemoryAdapter) Accept(op, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rejects, op+"/"+target)
}

// Calls returns how many times op was invoked, including failed calls.
func (m *MemoryAdapter) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// KeyCount returns the number of distinct custom targeting keys.
func (m *MemoryAdapter) KeyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Order returns the name of an order.
func (m *MemoryAdapter) Order(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.orders[id]
	return name, ok
}

// LineItem returns the last spec applied for a package.
func (m *MemoryAdapter) LineItem(orderID, packageID string) (LineItemSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	spec, ok := m.lineItems[orderID+"/"+packageID]
	return spec, ok
}

// begin records a call and returns a rejection or a queued failure.
// Callers hold m.mu.
func (m *MemoryAdapter) begin(op, target string) error {
	m.calls[op]++
	if err, ok := m.rejects[op+"/"+target]; ok {
		return err
	}
	if q := m.failures[op]; len(q) > 0 {
		m.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (m *MemoryAdapter) EnsureCustomTargetingKey(ctx context.Context, name string) (models.ExternalKeyID, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Op: "ensure_custom_targeting_key", Message: err.Error(), Err: ErrTransient}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("ensure_custom_targeting_key", name); err != nil {
		return "", err
	}
	if id, ok := m.keys[name]; ok {
		return id, nil
	}
	m.nextID++
	id := models.ExternalKeyID(fmt.Sprintf("key-%d", m.nextID))
	m.keys[name] = id
	return id, nil
}

func (m *MemoryAdapter) CreateOrder(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("create_order", name); err != nil {
		return "", err
	}
	m.nextID++
	id := fmt.Sprintf("order-%d", m.nextID)
	m.orders[id] = name
	return id, nil
}

func (m *MemoryAdapter) ApplyLineItemTargeting(ctx context.Context, spec LineItemSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("apply_line_item_targeting", spec.PackageID); err != nil {
		return err
	}
	if _, ok := m.orders[spec.OrderID]; !ok {
		return &Error{Op: "apply_line_item_targeting", StatusCode: 404, Message: "unknown order " + spec.OrderID}
	}
	m.lineItems[spec.OrderID+"/"+spec.PackageID] = spec
	return nil
}

// MemoryProvider hands each tenant its own MemoryAdapter.
type MemoryProvider struct {
	mu       sync.Mutex
	adapters map[string]*MemoryAdapter
}

// NewMemoryProvider creates a provider with no tenants.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{adapters: make(map[string]*MemoryAdapter)}
}

func (p *MemoryProvider) AdapterFor(tc *models.TenantContext) (Adapter, error) {
	if err := models.RequireTenant(tc); err != nil {
		return nil, err
	}
	return p.Tenant(tc.TenantID), nil
}

// Tenant returns the tenant's adapter, creating it on first use.
func (p *MemoryProvider) Tenant(tenantID string) *MemoryAdapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.adapters[tenantID]
	if !ok {
		a = NewMemoryAdapter()
		p.adapters[tenantID] = a
	}
	return a
}
