// Package tenant binds an inbound request to exactly one tenant and checks
// that the caller's credential belongs to it.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
	"github.com/adcontextprotocol/salesagent/internal/token"
)

// Store is the tenant lookup port.
type Store interface {
	GetTenant(ctx context.Context, id string) (models.Tenant, error)
	GetTenantByVirtualHost(ctx context.Context, host string) (models.Tenant, error)
	GetTenantBySubdomain(ctx context.Context, subdomain string) (models.Tenant, error)
	GetPrincipalByTokenHash(ctx context.Context, hash string) (models.Principal, error)
}

// Request carries the tenant signals of one inbound request.
type Request struct {
	// VirtualHost is injected by the trusted reverse proxy.
	VirtualHost string
	// Host is the standard Host header.
	Host string
	// TenantHeader names a tenant by id or subdomain for path-based routing.
	TenantHeader string
	// Credential is the caller's bearer token.
	Credential string
}

// CredentialHeader is the protocol's token header, accepted alongside
// Authorization: Bearer.
const CredentialHeader = "x-adcp-auth"

// RequestFromHTTP extracts the tenant signals from r.
func RequestFromHTTP(r *http.Request, virtualHostHeader, tenantHeader string) Request {
	req := Request{
		VirtualHost:  strings.TrimSpace(r.Header.Get(virtualHostHeader)),
		Host:         strings.TrimSpace(r.Host),
		TenantHeader: strings.TrimSpace(r.Header.Get(tenantHeader)),
		Credential:   strings.TrimSpace(r.Header.Get(CredentialHeader)),
	}
	if auth := r.Header.Get("Authorization"); req.Credential == "" && len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		req.Credential = strings.TrimSpace(auth[7:])
	}
	return req
}

// Options configure a Resolver.
type Options struct {
	// BaseDomain enables <subdomain>.<BaseDomain> host routing when set.
	BaseDomain string
	// TokenSecret verifies signed credentials. Signed credentials are
	// rejected when empty.
	TokenSecret []byte
}

// Resolver resolves TenantContexts. It never substitutes a default tenant.
type Resolver struct {
	store   Store
	opts    Options
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(store Store, opts Options, logger *zap.Logger, metrics observability.MetricsRegistry) *Resolver {
	opts.BaseDomain = strings.ToLower(strings.Trim(opts.BaseDomain, "."))
	return &Resolver{store: store, opts: opts, logger: logger, metrics: metrics, now: time.Now}
}

type signal struct {
	source models.ResolutionSource
	value  string
	lookup func(ctx context.Context, value string) (models.Tenant, error)
}

// Resolve returns the TenantContext for req. Signals are tried in order
// virtual host, Host, explicit tenant header; a present signal that names
// no active tenant falls through to the next one. Every failure is a
// *models.TenantResolutionError, except store failures which are returned
// wrapped.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*models.TenantContext, error) {
	signals := []signal{
		{models.SourceVirtualHost, normalizeHost(req.VirtualHost), r.byVirtualHost},
		{models.SourceHostHeader, normalizeHost(req.Host), r.byHost},
		{models.SourceExplicitHeader, req.TenantHeader, r.byExplicit},
	}

	var (
		tenant  models.Tenant
		matched *signal
		first   *signal
	)
	for i := range signals {
		s := &signals[i]
		if s.value == "" {
			continue
		}
		if first == nil {
			first = s
		}
		t, err := s.lookup(ctx, s.value)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve tenant from %s: %w", s.source, err)
		}
		tenant, matched = t, s
		break
	}

	if first == nil {
		return nil, r.fail("", &models.TenantResolutionError{Kind: models.NoHostSignal})
	}
	if matched == nil {
		return nil, r.fail(first.source, &models.TenantResolutionError{
			Kind: models.UnknownTenant, Signal: first.value, Detail: "no active tenant for any request signal",
		})
	}

	principalID, err := r.authenticate(ctx, tenant, req.Credential)
	if err != nil {
		var tre *models.TenantResolutionError
		if errors.As(err, &tre) {
			tre.Signal = matched.value
			return nil, r.fail(matched.source, tre)
		}
		return nil, err
	}

	r.metrics.IncrementTenantResolution(string(matched.source), "success")
	tc := &models.TenantContext{
		TenantID:    tenant.ID,
		Source:      matched.source,
		ResolvedAt:  r.now().UTC(),
		PrincipalID: principalID,
		Tenant:      tenant,
	}
	if matched.source != models.SourceExplicitHeader {
		tc.VirtualHost = matched.value
	}
	r.logger.Debug("tenant resolved",
		zap.String("tenant_id", tenant.ID),
		zap.String("source", string(matched.source)),
		zap.String("principal_id", principalID))
	return tc, nil
}

// authenticate checks that credential belongs to tenant and returns the
// principal id.
func (r *Resolver) authenticate(ctx context.Context, tenant models.Tenant, credential string) (string, error) {
	if credential == "" {
		return "", &models.TenantResolutionError{Kind: models.MissingCredential}
	}

	if token.IsSigned(credential) {
		if len(r.opts.TokenSecret) == 0 {
			return "", &models.TenantResolutionError{Kind: models.TenantMismatch, Detail: "signed credentials are not accepted"}
		}
		claims, err := token.Verify(credential, r.opts.TokenSecret)
		if err != nil {
			return "", &models.TenantResolutionError{Kind: models.TenantMismatch, Detail: err.Error()}
		}
		if claims.TenantID != tenant.ID {
			return "", &models.TenantResolutionError{Kind: models.TenantMismatch, Detail: "credential issued for another tenant"}
		}
		return claims.PrincipalID, nil
	}

	p, err := r.store.GetPrincipalByTokenHash(ctx, token.Hash(credential))
	if errors.Is(err, models.ErrNotFound) {
		return "", &models.TenantResolutionError{Kind: models.TenantMismatch, Detail: "unknown credential"}
	}
	if err != nil {
		return "", fmt.Errorf("lookup principal: %w", err)
	}
	if p.TenantID != tenant.ID {
		return "", &models.TenantResolutionError{Kind: models.TenantMismatch, Detail: "credential belongs to another tenant"}
	}
	return p.ID, nil
}

func (r *Resolver) fail(source models.ResolutionSource, err *models.TenantResolutionError) error {
	label := string(source)
	if label == "" {
		label = "none"
	}
	r.metrics.IncrementTenantResolution(label, "failure")
	r.metrics.IncrementIsolationFailure(string(err.Kind))
	r.logger.Warn("tenant isolation violation",
		observability.SecurityEvent(),
		zap.String("kind", string(err.Kind)),
		zap.String("source", string(source)),
		zap.String("signal", err.Signal),
		zap.String("detail", err.Detail))
	return err
}

func (r *Resolver) byVirtualHost(ctx context.Context, host string) (models.Tenant, error) {
	return active(r.store.GetTenantByVirtualHost(ctx, host))
}

// byHost matches the host as a virtual host first, then as a subdomain of
// the base domain.
func (r *Resolver) byHost(ctx context.Context, host string) (models.Tenant, error) {
	t, err := r.byVirtualHost(ctx, host)
	if !errors.Is(err, models.ErrNotFound) || r.opts.BaseDomain == "" {
		return t, err
	}
	sub, ok := strings.CutSuffix(host, "."+r.opts.BaseDomain)
	if !ok || sub == "" || strings.Contains(sub, ".") {
		return models.Tenant{}, models.ErrNotFound
	}
	return active(r.store.GetTenantBySubdomain(ctx, sub))
}

// byExplicit matches a tenant id first, then a subdomain.
func (r *Resolver) byExplicit(ctx context.Context, value string) (models.Tenant, error) {
	t, err := active(r.store.GetTenant(ctx, value))
	if !errors.Is(err, models.ErrNotFound) {
		return t, err
	}
	return active(r.store.GetTenantBySubdomain(ctx, strings.ToLower(value)))
}

// active hides inactive tenants.
func active(t models.Tenant, err error) (models.Tenant, error) {
	if err != nil {
		return models.Tenant{}, err
	}
	if !t.IsActive {
		return models.Tenant{}, models.ErrNotFound
	}
	return t, nil
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.TrimSuffix(h, ".")
}
