package keys

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/adserver"
	"github.com/adcontextprotocol/salesagent/internal/db"
	"github.com/adcontextprotocol/salesagent/internal/db/storetest"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
)

var fastRetry = adserver.RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

type fixture struct {
	store    *db.Store
	provider *adserver.MemoryProvider
	metrics  *observability.RecordingRegistry
	registry *Registry
	tc       *models.TenantContext
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := storetest.OpenTestDB(t)
	tenant := storetest.SeedTenant(t, store, "t1", "")
	f := &fixture{
		store:    store,
		provider: adserver.NewMemoryProvider(),
		metrics:  observability.NewRecordingRegistry(),
		tc:       &models.TenantContext{TenantID: "t1", Tenant: tenant},
	}
	opts = append([]Option{WithRetryPolicy(fastRetry)}, opts...)
	f.registry = NewRegistry(store, f.provider, zap.NewNop(), f.metrics, opts...)
	return f
}

func TestEnsureKey_CreatesOnceThenReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.registry.EnsureKey(ctx, f.tc, models.RoleAudienceSegment, "axe_segment")
	require.NoError(t, err)
	second, err := f.registry.EnsureKey(ctx, f.tc, models.RoleAudienceSegment, "axe_segment")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.provider.Tenant("t1").Calls("ensure_custom_targeting_key"))
	assert.Equal(t, 1, f.metrics.Count("key_binding", "created"))
	assert.Equal(t, 1, f.metrics.Count("key_binding", "reused"))

	b, err := f.store.GetBinding(ctx, "t1", models.RoleAudienceSegment)
	require.NoError(t, err)
	assert.Equal(t, "axe_segment", b.ExternalKeyName)
}

func TestEnsureKey_TenantConfiguredName(t *testing.T) {
	f := newFixture(t)
	f.tc.Tenant.KeyNames = map[models.LogicalRole]string{models.RoleAudienceSegment: "acme_audience"}

	_, err := f.registry.EnsureKey(context.Background(), f.tc, models.RoleAudienceSegment, "axe_segment")
	require.NoError(t, err)

	b, err := f.store.GetBinding(context.Background(), "t1", models.RoleAudienceSegment)
	require.NoError(t, err)
	assert.Equal(t, "acme_audience", b.ExternalKeyName)
}

func TestEnsureKey_ConcurrentCallersShareOneKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]models.ExternalKeyID, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = f.registry.EnsureKey(ctx, f.tc, models.RoleAudienceSegment, "axe_segment")
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, f.provider.Tenant("t1").KeyCount())
	n, err := f.store.CountBindings(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// staleStore hides existing bindings from the first read, forcing the
// insert to lose against a row written by another process.
type staleStore struct {
	*db.Store
	reads int32
}

func (s *staleStore) GetBinding(ctx context.Context, tenantID string, role models.LogicalRole) (models.CustomTargetingKeyBinding, error) {
	if atomic.AddInt32(&s.reads, 1) == 1 {
		return models.CustomTargetingKeyBinding{}, models.ErrNotFound
	}
	return s.Store.GetBinding(ctx, tenantID, role)
}

func TestEnsureKey_ConflictReReadsWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateBinding(ctx, models.CustomTargetingKeyBinding{
		TenantID: "t1", Role: models.RoleAudienceSegment, ExternalKeyName: "axe_segment", ExternalKeyID: "winner",
	}))

	registry := NewRegistry(&staleStore{Store: f.store}, f.provider, zap.NewNop(), f.metrics, WithRetryPolicy(fastRetry))
	id, err := registry.EnsureKey(ctx, f.tc, models.RoleAudienceSegment, "axe_segment")
	require.NoError(t, err)
	assert.Equal(t, models.ExternalKeyID("winner"), id)
	assert.Equal(t, 1, f.metrics.Count("key_binding", "conflict"))
}

func TestEnsureKey_TransientErrorsAreRetried(t *testing.T) {
	f := newFixture(t)
	adapter := f.provider.Tenant("t1")
	adapter.FailNext("ensure_custom_targeting_key",
		&adserver.Error{Op: "ensure_custom_targeting_key", StatusCode: 503, Err: adserver.ErrTransient},
		&adserver.Error{Op: "ensure_custom_targeting_key", StatusCode: 429, Err: adserver.ErrTransient},
	)

	id, err := f.registry.EnsureKey(context.Background(), f.tc, models.RoleAudienceSegment, "axe_segment")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 3, adapter.Calls("ensure_custom_targeting_key"))
	assert.Equal(t, 2, f.metrics.Count("adapter_retry", "ensure_custom_targeting_key"))
}

func TestEnsureKey_TransientErrorsExhaustBudget(t *testing.T) {
	f := newFixture(t)
	adapter := f.provider.Tenant("t1")
	transient := &adserver.Error{Op: "ensure_custom_targeting_key", StatusCode: 503, Err: adserver.ErrTransient}
	adapter.FailNext("ensure_custom_targeting_key", transient, transient, transient, transient)

	_, err := f.registry.EnsureKey(context.Background(), f.tc, models.RoleAudienceSegment, "axe_segment")
	assert.True(t, adserver.IsTransient(err))
	assert.Equal(t, fastRetry.Attempts, adapter.Calls("ensure_custom_targeting_key"))
}

func TestEnsureKey_PermissionDeniedIsNotRetried(t *testing.T) {
	f := newFixture(t)
	adapter := f.provider.Tenant("t1")
	adapter.FailNext("ensure_custom_targeting_key",
		&adserver.Error{Op: "ensure_custom_targeting_key", StatusCode: 403, Err: adserver.ErrPermissionDenied})

	_, err := f.registry.EnsureKey(context.Background(), f.tc, models.RoleAudienceSegment, "axe_segment")
	assert.True(t, adserver.IsPermissionDenied(err))
	assert.Equal(t, 1, adapter.Calls("ensure_custom_targeting_key"))

	_, err = f.store.GetBinding(context.Background(), "t1", models.RoleAudienceSegment)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestEnsureKey_RequiresTenantContext(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.EnsureKey(context.Background(), nil, models.RoleAudienceSegment, "axe_segment")
	assert.ErrorIs(t, err, models.ErrMissingTenantContext)
	assert.Equal(t, 0, f.provider.Tenant("t1").Calls("ensure_custom_targeting_key"))
}

func TestEnsureKey_UsesRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	cache := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}), TTL: time.Minute}

	f := newFixture(t, WithCache(cache))
	ctx := context.Background()

	id, err := f.registry.EnsureKey(ctx, f.tc, models.RoleAudienceSegment, "axe_segment")
	require.NoError(t, err)

	cached, err := cache.GetCachedBinding(ctx, "t1", models.RoleAudienceSegment)
	require.NoError(t, err)
	assert.Equal(t, id, cached.ExternalKeyID)

	// unavailable cache falls back to the store
	mr.Close()
	again, err := f.registry.EnsureKey(ctx, f.tc, models.RoleAudienceSegment, "axe_segment")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, f.provider.Tenant("t1").Calls("ensure_custom_targeting_key"))
}
