// Package adserver defines the port through which the core drives a
// tenant's foreign ad server, together with an HTTP implementation, an
// in-memory implementation and per-tenant rate limiting.
package adserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/targeting"
)

var (
	// ErrPermissionDenied is fatal for the operation and never retried.
	ErrPermissionDenied = errors.New("ad server permission denied")
	// ErrTransient covers timeouts, throttling and 5xx responses.
	ErrTransient = errors.New("ad server transient error")
)

// Error describes a failed adapter call.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("adserver %s", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": http %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsPermissionDenied reports whether err is an authorization failure.
func IsPermissionDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }

// LineItemSpec is the line item created for one package.
type LineItemSpec struct {
	OrderID   string
	PackageID string
	Name      string
	Criteria  *targeting.NativeCriteria
}

// Adapter is one tenant's view of a foreign ad server. Additional ad
// servers are supported by implementing this interface.
type Adapter interface {
	// EnsureCustomTargetingKey returns the key with the given name,
	// creating it when absent. It is idempotent by name.
	EnsureCustomTargetingKey(ctx context.Context, name string) (models.ExternalKeyID, error)
	// CreateOrder creates an order and returns its id.
	CreateOrder(ctx context.Context, name string) (string, error)
	// ApplyLineItemTargeting creates or replaces the package's line item.
	ApplyLineItemTargeting(ctx context.Context, spec LineItemSpec) error
}

// Provider returns the adapter bound to a tenant's ad server account.
type Provider interface {
	AdapterFor(tc *models.TenantContext) (Adapter, error)
}
