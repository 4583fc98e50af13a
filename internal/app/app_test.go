package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/config"
	"github.com/adcontextprotocol/salesagent/internal/db/storetest"
	"github.com/adcontextprotocol/salesagent/internal/mediabuy"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
	"github.com/adcontextprotocol/salesagent/internal/tenant"
	"github.com/adcontextprotocol/salesagent/internal/token"
)

func testConfig() config.Config {
	return config.Config{
		StoreDriver:               "sqlite",
		SQLitePath:                ":memory:",
		BaseDomain:                "sales-agent.example.com",
		AdServerRateLimitCapacity: 100,
		AdServerRateLimitRefill:   10,
		BindingCacheTTL:           time.Minute,
	}
}

func TestNew_SQLiteWithMemoryAdapter(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()

	a, err := New(ctx, cfg, zap.NewNop(), observability.NewNoOpRegistry())
	require.NoError(t, err)
	defer a.Close()

	storetest.SeedTenant(t, a.Store, "acme", "ads.acme.com")
	require.NoError(t, a.Store.CreatePrincipal(ctx, models.Principal{ID: "p1", TenantID: "acme", TokenHash: token.Hash("tok")}))

	tc, err := a.Resolver.Resolve(ctx, tenant.Request{Host: "acme.sales-agent.example.com", Credential: "tok"})
	require.NoError(t, err)

	resp, err := a.MediaBuys.Create(ctx, tc, mediabuy.CreateRequest{
		CampaignName: "Launch",
		StartTime:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		Packages: []mediabuy.PackageRequest{{
			PackageID: "p1",
			Targeting: models.NewTargetingExpression(models.OperatorAND).IncludeValues("audience", "seg_A"),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MediaBuyActive, resp.Status)
	assert.Equal(t, models.StatusCompleted, resp.Workflow.Status)
	assert.Contains(t, a.Limiter.Stats(), "acme")

	assert.True(t, mr.Exists("binding:acme:audience_segment"))
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "mysql"
	_, err := New(context.Background(), cfg, zap.NewNop(), observability.NewNoOpRegistry())
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	_, err := New(context.Background(), cfg, zap.NewNop(), observability.NewNoOpRegistry())
	assert.ErrorContains(t, err, "redis")
}
