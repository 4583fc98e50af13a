package adserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
)

// Credentials hold the bearer tokens the sales agent presents to the ad
// server. ByNetwork takes precedence over Default.
type Credentials struct {
	Default   string
	ByNetwork map[string]string
}

// For returns the token for network, or "" when none is configured.
func (c Credentials) For(network string) string {
	if tok := c.ByNetwork[network]; tok != "" {
		return tok
	}
	return c.Default
}

// HTTPProvider builds adapters for a REST ad server API where each tenant
// is a network identified by its network code.
type HTTPProvider struct {
	baseURL     string
	httpClient  *http.Client
	credentials Credentials
	logger      *zap.Logger
	metrics     observability.MetricsRegistry
}

// NewHTTPProvider creates a provider. Every call is bounded by timeout and
// authenticated with the tenant network's credential.
func NewHTTPProvider(baseURL string, timeout time.Duration, creds Credentials, logger *zap.Logger, metrics observability.MetricsRegistry) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		credentials: creds,
		logger:      logger,
		metrics:     metrics,
	}
}

// AdapterFor returns an adapter scoped to the tenant's network. Tenants
// without a network code or credential cannot reach the ad server.
func (p *HTTPProvider) AdapterFor(tc *models.TenantContext) (Adapter, error) {
	if err := models.RequireTenant(tc); err != nil {
		return nil, err
	}
	network := tc.Tenant.NetworkCode
	if network == "" {
		return nil, &Error{Op: "configure", Message: fmt.Sprintf("tenant %s has no network code", tc.TenantID), Err: ErrPermissionDenied}
	}
	token := p.credentials.For(network)
	if token == "" {
		return nil, &Error{Op: "configure", Message: fmt.Sprintf("no ad server credential for network %s", network), Err: ErrPermissionDenied}
	}
	return &httpAdapter{provider: p, network: network, token: token, tenantID: tc.TenantID}, nil
}

type httpAdapter struct {
	provider *HTTPProvider
	network  string
	token    string
	tenantID string
}

type namedRequest struct {
	Name string `json:"name"`
}

type idResponse struct {
	ID string `json:"id"`
}

type lineItemRequest struct {
	Name      string `json:"name"`
	Targeting any    `json:"targeting,omitempty"`
}

func (a *httpAdapter) EnsureCustomTargetingKey(ctx context.Context, name string) (models.ExternalKeyID, error) {
	var out idResponse
	if err := a.do(ctx, "ensure_custom_targeting_key", http.MethodPut,
		"/custom-targeting-keys/"+url.PathEscape(name), namedRequest{Name: name}, &out); err != nil {
		return "", err
	}
	return models.ExternalKeyID(out.ID), nil
}

func (a *httpAdapter) CreateOrder(ctx context.Context, name string) (string, error) {
	var out idResponse
	if err := a.do(ctx, "create_order", http.MethodPost, "/orders", namedRequest{Name: name}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (a *httpAdapter) ApplyLineItemTargeting(ctx context.Context, spec LineItemSpec) error {
	body := lineItemRequest{Name: spec.Name}
	if spec.Criteria != nil {
		body.Targeting = spec.Criteria
	}
	path := fmt.Sprintf("/orders/%s/line-items/%s", url.PathEscape(spec.OrderID), url.PathEscape(spec.PackageID))
	return a.do(ctx, "apply_line_item_targeting", http.MethodPut, path, body, nil)
}

// do performs one call and classifies failures into permission and
// transient errors.
func (a *httpAdapter) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	p := a.provider
	start := time.Now()
	outcome := "success"
	defer func() {
		p.metrics.RecordAdapterLatency(op, time.Since(start))
		p.metrics.IncrementAdapterCall(op, outcome)
	}()
	fail := func(e *Error) error {
		switch {
		case errors.Is(e, ErrPermissionDenied):
			outcome = "permission_denied"
		case errors.Is(e, ErrTransient):
			outcome = "transient"
		default:
			outcome = "failure"
		}
		return e
	}

	reqBody, err := json.Marshal(in)
	if err != nil {
		return fail(&Error{Op: op, Message: "marshal request", Err: err})
	}
	endpoint := fmt.Sprintf("%s/networks/%s%s", p.baseURL, url.PathEscape(a.network), path)
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fail(&Error{Op: op, Message: "create request", Err: err})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return fail(&Error{Op: op, Message: err.Error(), Err: ErrTransient})
		}
		return fail(&Error{Op: op, Message: "http request", Err: errors.Join(ErrTransient, err)})
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && p.logger != nil {
			p.logger.Warn("failed to close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e := &Error{Op: op, StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			e.Err = ErrPermissionDenied
			p.logger.Error("ad server rejected credentials",
				zap.String("op", op),
				zap.String("tenant_id", a.tenantID),
				zap.String("network", a.network),
				zap.Int("status", resp.StatusCode))
		case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			e.Err = ErrTransient
		}
		return fail(e)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fail(&Error{Op: op, Message: "decode response", Err: err})
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
