package naming

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
)

// MaxNameLength is the ad server's limit on order and line item names.
const MaxNameLength = 255

// Engine applies a tenant's templates, falling back to the built-in defaults.
type Engine struct {
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewEngine creates a naming Engine.
func NewEngine(logger *zap.Logger, metrics observability.MetricsRegistry) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Engine{logger: logger, metrics: metrics}
}

// OrderName renders the tenant's order template. Naming never fails: a
// missing tenant context renders the default template.
func (e *Engine) OrderName(tc *models.TenantContext, c Context) string {
	return e.render(tc, "order", e.templates(tc).OrderTemplate(), c)
}

// LineItemName renders the tenant's line item template.
func (e *Engine) LineItemName(tc *models.TenantContext, c Context) string {
	return e.render(tc, "line_item", e.templates(tc).LineItemTemplate(), c)
}

func (e *Engine) templates(tc *models.TenantContext) models.NamingTemplates {
	if err := models.RequireTenant(tc); err != nil {
		e.logger.Warn("rendering name with default templates", zap.Error(err))
		return models.NamingTemplates{}
	}
	return tc.Tenant.NamingTemplates
}

func (e *Engine) render(tc *models.TenantContext, object, template string, c Context) string {
	var tenantID string
	if tc != nil {
		tenantID = tc.TenantID
		if c.TenantName == "" {
			c.TenantName = tc.Tenant.Name
		}
	}
	name := Truncate(strings.TrimSpace(Render(template, c.Variables())), MaxNameLength)
	e.metrics.IncrementNameRender(object)
	e.logger.Debug("rendered name",
		zap.String("tenant_id", tenantID),
		zap.String("object", object),
		zap.String("template", template),
		zap.String("name", name))
	return name
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
