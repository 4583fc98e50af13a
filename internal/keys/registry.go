// Package keys maps a tenant's logical targeting roles onto custom
// targeting keys in the tenant's ad server, creating them on first use.
package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/adserver"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
)

// BindingStore persists bindings. CreateBinding must fail with
// models.ErrAlreadyExists when a binding for the (tenant, role) exists.
type BindingStore interface {
	GetBinding(ctx context.Context, tenantID string, role models.LogicalRole) (models.CustomTargetingKeyBinding, error)
	CreateBinding(ctx context.Context, b models.CustomTargetingKeyBinding) error
}

// BindingCache is an optional read-through cache in front of the store.
type BindingCache interface {
	GetCachedBinding(ctx context.Context, tenantID string, role models.LogicalRole) (models.CustomTargetingKeyBinding, error)
	CacheBinding(ctx context.Context, b models.CustomTargetingKeyBinding) error
}

// Registry resolves logical roles to external key ids.
type Registry struct {
	store    BindingStore
	cache    BindingCache
	adapters adserver.Provider
	retry    adserver.RetryPolicy
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
}

// Option configures a Registry.
type Option func(*Registry)

// WithCache puts cache in front of the binding store.
func WithCache(cache BindingCache) Option {
	return func(r *Registry) { r.cache = cache }
}

// WithRetryPolicy overrides the retry policy for key creation.
func WithRetryPolicy(p adserver.RetryPolicy) Option {
	return func(r *Registry) { r.retry = p }
}

// NewRegistry creates a Registry.
func NewRegistry(store BindingStore, adapters adserver.Provider, logger *zap.Logger, metrics observability.MetricsRegistry, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		adapters: adapters,
		retry:    adserver.DefaultRetryPolicy,
		logger:   logger,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureKey returns the external key bound to role for the tenant,
// creating the ad server key and the binding when absent. The tenant's
// configured key name for the role takes precedence over defaultName.
//
// Concurrent callers for the same (tenant, role) observe the same key: the
// ad server call is idempotent by name and the binding's uniqueness
// constraint picks one winner, which losers re-read.
func (r *Registry) EnsureKey(ctx context.Context, tc *models.TenantContext, role models.LogicalRole, defaultName string) (models.ExternalKeyID, error) {
	b, err := r.EnsureBinding(ctx, tc, role, defaultName)
	if err != nil {
		return "", err
	}
	return b.ExternalKeyID, nil
}

// EnsureBinding is EnsureKey returning the whole binding.
func (r *Registry) EnsureBinding(ctx context.Context, tc *models.TenantContext, role models.LogicalRole, defaultName string) (models.CustomTargetingKeyBinding, error) {
	if err := models.RequireTenant(tc); err != nil {
		return models.CustomTargetingKeyBinding{}, err
	}

	b, found, err := r.lookup(ctx, tc.TenantID, role)
	if err != nil {
		return models.CustomTargetingKeyBinding{}, err
	}
	if found {
		r.metrics.IncrementKeyBinding("reused")
		return b, nil
	}

	name := tc.KeyName(role, defaultName)
	if name == "" {
		return models.CustomTargetingKeyBinding{}, fmt.Errorf("no key name configured for role %q", role)
	}

	adapter, err := r.adapters.AdapterFor(tc)
	if err != nil {
		return models.CustomTargetingKeyBinding{}, err
	}
	keyID, err := adserver.Retry(ctx, r.retry, "ensure_custom_targeting_key", r.logger, r.metrics,
		func() (models.ExternalKeyID, error) {
			return adapter.EnsureCustomTargetingKey(ctx, name)
		})
	if err != nil {
		r.metrics.IncrementKeyBinding("error")
		r.logger.Error("ensure custom targeting key failed",
			zap.String("tenant_id", tc.TenantID),
			zap.String("role", string(role)),
			zap.String("key_name", name),
			zap.Bool("permission_denied", adserver.IsPermissionDenied(err)),
			zap.Error(err))
		return models.CustomTargetingKeyBinding{}, err
	}

	b = models.CustomTargetingKeyBinding{
		TenantID:        tc.TenantID,
		Role:            role,
		ExternalKeyName: name,
		ExternalKeyID:   keyID,
		CreatedAt:       time.Now(),
	}
	err = r.store.CreateBinding(ctx, b)
	switch {
	case err == nil:
		r.metrics.IncrementKeyBinding("created")
		r.logger.Info("created custom targeting key binding",
			zap.String("tenant_id", tc.TenantID),
			zap.String("role", string(role)),
			zap.String("key_name", name),
			zap.String("key_id", string(keyID)))
	case errors.Is(err, models.ErrAlreadyExists):
		b, err = r.store.GetBinding(ctx, tc.TenantID, role)
		if err != nil {
			return models.CustomTargetingKeyBinding{}, fmt.Errorf("re-read binding after conflict: %w", err)
		}
		r.metrics.IncrementKeyBinding("conflict")
	default:
		r.metrics.IncrementKeyBinding("error")
		return models.CustomTargetingKeyBinding{}, fmt.Errorf("persist binding: %w", err)
	}

	r.fill(ctx, b)
	return b, nil
}

// lookup checks the cache, then the store. Cache failures degrade to the store.
func (r *Registry) lookup(ctx context.Context, tenantID string, role models.LogicalRole) (models.CustomTargetingKeyBinding, bool, error) {
	if r.cache != nil {
		b, err := r.cache.GetCachedBinding(ctx, tenantID, role)
		if err == nil {
			return b, true, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			r.logger.Warn("binding cache unavailable", zap.Error(err))
		}
	}
	b, err := r.store.GetBinding(ctx, tenantID, role)
	if errors.Is(err, models.ErrNotFound) {
		return models.CustomTargetingKeyBinding{}, false, nil
	}
	if err != nil {
		return models.CustomTargetingKeyBinding{}, false, fmt.Errorf("lookup binding: %w", err)
	}
	r.fill(ctx, b)
	return b, true, nil
}

func (r *Registry) fill(ctx context.Context, b models.CustomTargetingKeyBinding) {
	if r.cache == nil {
		return
	}
	if err := r.cache.CacheBinding(ctx, b); err != nil {
		r.logger.Warn("failed to cache binding", zap.Error(err))
	}
}
