package assignments

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/audit"
	"github.com/adcontextprotocol/salesagent/internal/db"
	"github.com/adcontextprotocol/salesagent/internal/db/storetest"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
)

func setup(t *testing.T) (*db.Store, *models.TenantContext) {
	t.Helper()
	store := storetest.OpenTestDB(t)
	tenant := storetest.SeedTenant(t, store, "t1", "")
	storetest.SeedTenant(t, store, "t2", "")
	storetest.SeedMediaBuy(t, store, "t1", "mb1", "p1", "p2")
	storetest.SeedMediaBuy(t, store, "t2", "mb2", "q1")
	storetest.SeedCreatives(t, store, "t1", "c1", "c2", "c3", "c4")
	storetest.SeedCreatives(t, store, "t2", "foreign")
	return store, &models.TenantContext{TenantID: "t1", Tenant: tenant}
}

func TestDiffAlgebra(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []string{"a", "b", "c", "d", "e", "f", "g"}
	pick := func() []string {
		var out []string
		for _, id := range pool {
			if rng.Intn(2) == 0 {
				out = append(out, id)
			}
		}
		return out
	}

	for i := 0; i < 500; i++ {
		current, requested := pick(), pick()
		d := Diff("p", current, requested)

		removed := toSet(d.Removed)
		for _, id := range d.Added {
			_, both := removed[id]
			require.False(t, both, "added and removed overlap on %s", id)
		}

		after := toSet(current)
		for _, id := range d.Removed {
			delete(after, id)
		}
		for _, id := range d.Added {
			after[id] = struct{}{}
		}
		assert.Equal(t, sorted(requested), sorted(keys(after)))
		assert.Equal(t, sorted(requested), d.Current)
	}
}

func TestReconcile_AppliesDiff(t *testing.T) {
	store, tc := setup(t)
	sink := audit.NewRecorder()
	r := NewReconciler(store, sink, zap.NewNop(), observability.NewNoOpRegistry())
	ctx := context.Background()

	d, err := r.Reconcile(ctx, tc, "mb1", "p1", []string{"c2", "c1", "c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, d.Added)
	assert.Empty(t, d.Removed)
	assert.Equal(t, []string{"c1", "c2"}, d.Current)

	d, err = r.Reconcile(ctx, tc, "mb1", "p1", []string{"c2", "c3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, d.Added)
	assert.Equal(t, []string{"c1"}, d.Removed)
	assert.Equal(t, []string{"c2", "c3"}, d.Current)

	got, err := store.ListAssignments(ctx, "t1", "mb1", "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3"}, got)

	d, err = r.Reconcile(ctx, tc, "mb1", "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3"}, d.Removed)
	assert.Empty(t, d.Current)

	assert.Len(t, sink.Events(audit.EventReconciliation), 3)
}

func TestReconcile_UnknownCreativeTouchesNothing(t *testing.T) {
	store, tc := setup(t)
	metrics := observability.NewRecordingRegistry()
	r := NewReconciler(store, nil, zap.NewNop(), metrics)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, tc, "mb1", "p1", []string{"c1"})
	require.NoError(t, err)

	_, err = r.Reconcile(ctx, tc, "mb1", "p1", []string{"c2", "nope", "foreign"})
	var cnf *models.CreativeNotFoundError
	require.True(t, errors.As(err, &cnf))
	assert.ErrorIs(t, err, models.ErrCreativeNotFound)
	assert.Equal(t, "p1", cnf.PackageID)
	assert.Equal(t, []string{"nope", "foreign"}, cnf.CreativeIDs)
	assert.Equal(t, 1, metrics.Count("reconciliation", "creative_not_found"))

	got, err := store.ListAssignments(ctx, "t1", "mb1", "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, got)
}

func TestReconcile_ForeignPackage(t *testing.T) {
	store, tc := setup(t)
	r := NewReconciler(store, nil, zap.NewNop(), observability.NewNoOpRegistry())

	_, err := r.Reconcile(context.Background(), tc, "mb2", "q1", []string{"c1"})
	assert.ErrorIs(t, err, models.ErrPackageNotFound)

	_, err = r.Reconcile(context.Background(), tc, "mb1", "missing", []string{"c1"})
	assert.ErrorIs(t, err, models.ErrPackageNotFound)
}

func TestReconcile_RequiresTenantContext(t *testing.T) {
	store, _ := setup(t)
	r := NewReconciler(store, nil, zap.NewNop(), observability.NewNoOpRegistry())
	_, err := r.Reconcile(context.Background(), nil, "mb1", "p1", nil)
	assert.ErrorIs(t, err, models.ErrMissingTenantContext)
}

func TestReconcileAll_PerPackageIsolation(t *testing.T) {
	store, tc := setup(t)
	r := NewReconciler(store, nil, zap.NewNop(), observability.NewNoOpRegistry())
	ctx := context.Background()

	results, err := r.ReconcileAll(ctx, tc, "mb1", []Request{
		{PackageID: "p1", CreativeIDs: []string{"c1", "c2"}},
		{PackageID: "p2", CreativeIDs: []string{"c3", "ghost"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "p1", results[0].PackageID)
	require.NoError(t, results[0].Err)
	assert.Equal(t, []string{"c1", "c2"}, results[0].Diff.Current)

	assert.Equal(t, "p2", results[1].PackageID)
	assert.Nil(t, results[1].Diff)
	assert.ErrorIs(t, results[1].Err, models.ErrCreativeNotFound)

	p1, err := store.ListAssignments(ctx, "t1", "mb1", "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, p1)
	p2, err := store.ListAssignments(ctx, "t1", "mb1", "p2")
	require.NoError(t, err)
	assert.Empty(t, p2)
}

// failingStore fails inserts for one package after its deletes ran, so the
// package transaction must roll back.
type failingStore struct {
	*db.Store
	packageID string
}

func (s *failingStore) InPackageTx(ctx context.Context, tenantID, mediaBuyID, packageID string, fn func(models.AssignmentTx) error) error {
	return s.Store.InPackageTx(ctx, tenantID, mediaBuyID, packageID, func(tx models.AssignmentTx) error {
		if packageID == s.packageID {
			return fn(failingTx{tx})
		}
		return fn(tx)
	})
}

type failingTx struct{ models.AssignmentTx }

func (failingTx) InsertAssignments(context.Context, []string, time.Time) error {
	return fmt.Errorf("disk full")
}

func TestReconcileAll_PersistenceFailureRollsBackOnePackage(t *testing.T) {
	store, tc := setup(t)
	ctx := context.Background()
	seed := NewReconciler(store, nil, zap.NewNop(), observability.NewNoOpRegistry())
	_, err := seed.Reconcile(ctx, tc, "mb1", "p2", []string{"c4"})
	require.NoError(t, err)

	metrics := observability.NewRecordingRegistry()
	r := NewReconciler(&failingStore{Store: store, packageID: "p2"}, nil, zap.NewNop(), metrics)
	results, err := r.ReconcileAll(ctx, tc, "mb1", []Request{
		{PackageID: "p1", CreativeIDs: []string{"c1"}},
		{PackageID: "p2", CreativeIDs: []string{"c3"}},
	})
	require.NoError(t, err)

	require.NoError(t, results[0].Err)
	var pue *models.PackageUpdateError
	require.True(t, errors.As(results[1].Err, &pue))
	assert.Equal(t, "p2", pue.PackageID)
	assert.ErrorIs(t, results[1].Err, models.ErrPackageUpdateFailed)
	assert.Equal(t, 1, metrics.Count("reconciliation", "error"))

	p2, err := store.ListAssignments(ctx, "t1", "mb1", "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"c4"}, p2, "delete of c4 must roll back")
	p1, err := store.ListAssignments(ctx, "t1", "mb1", "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, p1)
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sorted(ids []string) []string {
	out := append([]string{}, ids...)
	sort.Strings(out)
	return out
}
