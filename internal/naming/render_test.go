package naming

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			name:     "fallback skips missing variable",
			template: "{campaign_name|promoted_offering}",
			vars:     map[string]string{"promoted_offering": "Nike Shoes Q1"},
			want:     "Nike Shoes Q1",
		},
		{
			name:     "all missing renders empty",
			template: "{a|b}",
			vars:     map[string]string{},
			want:     "",
		},
		{
			name:     "empty value is skipped",
			template: "{campaign_name|buyer_ref}",
			vars:     map[string]string{"campaign_name": "  ", "buyer_ref": "ref-9"},
			want:     "ref-9",
		},
		{
			name:     "first present wins",
			template: "{campaign_name|promoted_offering}",
			vars:     map[string]string{"campaign_name": "Spring", "promoted_offering": "Shoes"},
			want:     "Spring",
		},
		{
			name:     "literal text around placeholders",
			template: "Order: {campaign_name} ({buyer_ref})",
			vars:     map[string]string{"campaign_name": "Spring"},
			want:     "Order: Spring ()",
		},
		{
			name:     "whitespace inside chain",
			template: "{ a | b }",
			vars:     map[string]string{"b": "x"},
			want:     "x",
		},
		{
			name:     "unterminated placeholder is literal",
			template: "Name {campaign_name",
			vars:     map[string]string{"campaign_name": "Spring"},
			want:     "Name {campaign_name",
		},
		{
			name:     "empty placeholder",
			template: "a{}b",
			vars:     nil,
			want:     "ab",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Render(tc.template, tc.vars))
		})
	}
}

func TestRender_NeverEmitsPlaceholderText(t *testing.T) {
	out := Render("{x} - {y|z} - {date_range}", nil)
	assert.False(t, strings.ContainsAny(out, "{}"), "got %q", out)
}

func TestFormatDateRange(t *testing.T) {
	d := func(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 0, 0, 0, 0, time.UTC) }

	assert.Equal(t, "Jan 5–20, 2025", FormatDateRange(d(2025, time.January, 5), d(2025, time.January, 20)))
	assert.Equal(t, "Jan 5 – Feb 20, 2025", FormatDateRange(d(2025, time.January, 5), d(2025, time.February, 20)))
	assert.Equal(t, "Dec 15, 2024 – Jan 10, 2025", FormatDateRange(d(2024, time.December, 15), d(2025, time.January, 10)))
	assert.Equal(t, "", FormatDateRange(time.Time{}, d(2025, time.January, 10)))
}

func TestContextVariables(t *testing.T) {
	c := Context{
		PromotedOffering: "Nike Shoes Q1",
		Start:            time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		End:              time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
		PackageCount:     2,
	}
	vars := c.Variables()
	_, hasCampaign := vars["campaign_name"]
	assert.False(t, hasCampaign)
	assert.Equal(t, "Mar 1–31, 2025", vars["date_range"])
	assert.Equal(t, "Mar 2025", vars["month_year"])
	assert.Equal(t, "2", vars["package_count"])

	assert.Equal(t, "Nike Shoes Q1 - Mar 1–31, 2025", Render(models.DefaultOrderNameTemplate, vars))
}

func TestEngine_UsesTenantTemplateAndTruncates(t *testing.T) {
	metrics := observability.NewRecordingRegistry()
	e := NewEngine(zap.NewNop(), metrics)

	tc := &models.TenantContext{TenantID: "t1", Tenant: models.Tenant{
		ID:              "t1",
		Name:            "Acme News",
		NamingTemplates: models.NamingTemplates{Order: "{tenant_name}: {campaign_name|buyer_ref}"},
	}}
	assert.Equal(t, "Acme News: ref-1", e.OrderName(tc, Context{BuyerRef: "ref-1"}))
	assert.Equal(t, 1, metrics.Count("name_render", "order"))

	long := strings.Repeat("é", 300)
	name := e.LineItemName(tc, Context{OrderName: long, ProductName: "Display"})
	assert.Equal(t, MaxNameLength, len([]rune(name)))
}

func TestEngine_MinimalRequestStillNamed(t *testing.T) {
	e := NewEngine(nil, nil)
	tc := &models.TenantContext{TenantID: "t1"}
	assert.Equal(t, "-", e.OrderName(tc, Context{}))
}

func TestContextVariables_AutoName(t *testing.T) {
	assert.Equal(t, "ref-1", Context{BuyerRef: "ref-1", MediaBuyID: "mb-1"}.Variables()["auto_name"])
	assert.Equal(t, "mb-1", Context{MediaBuyID: "mb-1"}.Variables()["auto_name"])
	_, ok := Context{}.Variables()["auto_name"]
	assert.False(t, ok)
}

func TestEngine_MissingTenantContextUsesDefaults(t *testing.T) {
	e := NewEngine(zap.NewNop(), nil)
	c := Context{
		CampaignName: "Spring Sale",
		ProductName:  "Display",
		Start:        time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC),
	}
	assert.NotPanics(t, func() {
		assert.Equal(t, "Spring Sale - Jan 5–20, 2025", e.OrderName(nil, c))
		c.OrderName = "Spring Sale - Jan 5–20, 2025"
		assert.Equal(t, "Spring Sale - Jan 5–20, 2025 - Display", e.LineItemName(&models.TenantContext{}, c))
	})
}
