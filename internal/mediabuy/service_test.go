package mediabuy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/adserver"
	"github.com/adcontextprotocol/salesagent/internal/assignments"
	"github.com/adcontextprotocol/salesagent/internal/audit"
	"github.com/adcontextprotocol/salesagent/internal/db"
	"github.com/adcontextprotocol/salesagent/internal/db/storetest"
	"github.com/adcontextprotocol/salesagent/internal/keys"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/naming"
	"github.com/adcontextprotocol/salesagent/internal/observability"
	"github.com/adcontextprotocol/salesagent/internal/workflow"
)

var fastRetry = adserver.RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

type harness struct {
	svc      *Service
	store    *db.Store
	provider *adserver.MemoryProvider
	sink     *audit.Recorder
	tc       *models.TenantContext
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := storetest.OpenTestDB(t)
	tenant := storetest.SeedTenant(t, store, "t1", "")
	storetest.SeedTenant(t, store, "t2", "")
	storetest.SeedCreatives(t, store, "t1", "c1", "c2")

	logger := zap.NewNop()
	metrics := observability.NewNoOpRegistry()
	provider := adserver.NewMemoryProvider()
	sink := audit.NewRecorder()
	svc := NewService(store,
		keys.NewRegistry(store, provider, logger, metrics, keys.WithRetryPolicy(fastRetry)),
		assignments.NewReconciler(store, sink, logger, metrics),
		workflow.NewTracker(store, sink, logger, metrics),
		naming.NewEngine(logger, metrics),
		provider, logger, metrics, WithRetryPolicy(fastRetry))
	return &harness{svc: svc, store: store, provider: provider, sink: sink,
		tc: &models.TenantContext{TenantID: "t1", Tenant: tenant}}
}

func scenarioRequest() CreateRequest {
	expr := models.NewTargetingExpression(models.OperatorAND).
		IncludeValues("audience", "seg_A", "seg_B").
		ExcludeValues("audience", "seg_C")
	return CreateRequest{
		CampaignName: "Spring Sale",
		StartTime:    time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC),
		Packages: []PackageRequest{{
			PackageID:   "p1",
			ProductName: "Display",
			Targeting:   expr,
			Dimensions:  map[string][]string{"geo": {"US"}},
		}},
	}
}

func TestCreate_TranslatesTargetingAndNames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.svc.Create(ctx, h.tc, scenarioRequest())
	require.NoError(t, err)
	assert.Equal(t, models.MediaBuyActive, resp.Status)
	assert.Equal(t, "Spring Sale - Jan 5–20, 2025", resp.OrderName)
	assert.Equal(t, models.StatusCompleted, resp.Workflow.Status)
	assert.Nil(t, resp.Error)

	adapter := h.provider.Tenant("t1")
	spec, ok := adapter.LineItem(resp.OrderID, "p1")
	require.True(t, ok)
	assert.Equal(t, "(audience=seg_A OR audience=seg_B) AND NOT(audience=seg_C) AND geo=US", spec.Criteria.String())
	assert.Equal(t, "Spring Sale - Jan 5–20, 2025 - Display", spec.Name)

	mb, err := h.svc.Get(ctx, h.tc, resp.MediaBuyID)
	require.NoError(t, err)
	assert.Equal(t, resp.OrderID, mb.OrderID)
	assert.Equal(t, models.MediaBuyActive, mb.Status)
	assert.Equal(t, "Spring Sale - Jan 5–20, 2025 - Display", mb.Packages[0].LineItemName)

	status, err := h.svc.Status(ctx, h.tc, resp.MediaBuyID)
	require.NoError(t, err)
	require.NotNil(t, status.Workflow)
	assert.Equal(t, resp.Workflow.ID, status.Workflow.ID)

	b, err := h.store.GetBinding(ctx, "t1", models.RoleAudienceSegment)
	require.NoError(t, err)
	assert.Equal(t, "axe_segment", b.ExternalKeyName)
	assert.Equal(t, b.ExternalKeyID, models.ExternalKeyID(spec.Criteria.Children[0].KeyID))
	require.Len(t, resp.Keys, 1)
	assert.Equal(t, KeyResult{Key: "audience", Role: models.RoleAudienceSegment, ExternalKeyID: b.ExternalKeyID, ExternalKeyName: "axe_segment"}, resp.Keys[0])
	require.Len(t, resp.Packages, 1)
	assert.Equal(t, "Spring Sale - Jan 5–20, 2025 - Display", resp.Packages[0].LineItemName)
	assert.Nil(t, resp.Packages[0].Error)

	events := h.sink.Events(audit.EventWorkflow)
	require.Len(t, events, 1)
	assert.Equal(t, "completed", events[0].Status)
}

func TestCreate_ConflictingTargetingPersistsNothing(t *testing.T) {
	h := newHarness(t)
	req := scenarioRequest()
	req.Packages[0].Targeting = &models.TargetingExpression{
		Include: map[string][]string{"audience": {"seg_A"}},
		Exclude: map[string][]string{"audience": {"seg_A"}},
	}

	resp, err := h.svc.Create(context.Background(), h.tc, req)
	assert.Nil(t, resp)
	var cte *models.ConflictingTargetingError
	require.True(t, errors.As(err, &cte))
	assert.Equal(t, []models.KeyValue{{Key: "audience", Value: "seg_A"}}, cte.Conflicts)
	assert.Equal(t, 0, h.provider.Tenant("t1").Calls("ensure_custom_targeting_key"))
}

func TestCreate_PermissionDeniedThenResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	adapter := h.provider.Tenant("t1")
	adapter.FailNext("create_order", &adserver.Error{Op: "create_order", StatusCode: 403, Err: adserver.ErrPermissionDenied})

	resp, err := h.svc.Create(ctx, h.tc, scenarioRequest())
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.True(t, adserver.IsPermissionDenied(err))
	assert.Equal(t, models.MediaBuyFailed, resp.Status)
	assert.Equal(t, CodeAdapterPermission, resp.Error.Code)
	assert.Equal(t, models.StatusFailed, resp.Workflow.Status)
	assert.Equal(t, models.StatusCompleted, resp.Workflow.Step(StepEnsureKeys).Status)
	assert.Equal(t, models.StatusFailed, resp.Workflow.Step(StepCreateOrder).Status)
	assert.Equal(t, 1, adapter.Calls("create_order"), "order creation is not retried")

	resumed, err := h.svc.Resume(ctx, h.tc, resp.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MediaBuyActive, resumed.Status)
	assert.Equal(t, models.StatusCompleted, resumed.Workflow.Status)
	assert.NotEmpty(t, resumed.OrderID)
	assert.Equal(t, 1, adapter.Calls("ensure_custom_targeting_key"))
	_, ok := adapter.LineItem(resumed.OrderID, "p1")
	assert.True(t, ok)

	again, err := h.svc.Resume(ctx, h.tc, resp.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, resumed.OrderID, again.OrderID)
	assert.Equal(t, 2, adapter.Calls("create_order"))
}

func TestCreate_RetriesTransientLineItemWrites(t *testing.T) {
	h := newHarness(t)
	adapter := h.provider.Tenant("t1")
	adapter.FailNext("apply_line_item_targeting", &adserver.Error{Op: "apply_line_item_targeting", StatusCode: 503, Err: adserver.ErrTransient})

	resp, err := h.svc.Create(context.Background(), h.tc, scenarioRequest())
	require.NoError(t, err)
	assert.Equal(t, models.MediaBuyActive, resp.Status)
	assert.Equal(t, 2, adapter.Calls("apply_line_item_targeting"))
}

func TestCreate_WithCreatives(t *testing.T) {
	h := newHarness(t)
	req := scenarioRequest()
	req.Packages[0].CreativeIDs = []string{"c1"}
	req.Packages = append(req.Packages, PackageRequest{PackageID: "p2", ProductName: "Video", CreativeIDs: []string{"ghost"}})

	resp, err := h.svc.Create(context.Background(), h.tc, req)
	require.NoError(t, err)
	require.Len(t, resp.Packages, 2)
	assert.Equal(t, []string{"c1"}, resp.Packages[0].ChangesApplied.CreativeIDs.Added)
	assert.Equal(t, CodeCreativeNotFound, resp.Packages[1].Error.Code)
	assert.Equal(t, []string{"ghost"}, resp.Packages[1].Error.CreativeIDs)
}

func TestCreate_UnknownKeyCreatesNoAdServerKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	adapter := h.provider.Tenant("t1")
	req := scenarioRequest()
	req.Packages[0].Targeting = models.NewTargetingExpression(models.OperatorAND).
		IncludeValues("junk_1", "x").
		IncludeValues("junk_2", "y")

	resp, err := h.svc.Create(ctx, h.tc, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnboundKey)
	require.NotNil(t, resp)
	assert.Equal(t, models.MediaBuyFailed, resp.Status)
	assert.Equal(t, CodeUnboundKey, resp.Error.Code)
	assert.Equal(t, CodeUnboundKey, resp.Packages[0].Error.Code)
	require.Len(t, resp.Keys, 2)
	assert.Equal(t, "junk_1", resp.Keys[0].Key)
	assert.Equal(t, CodeUnboundKey, resp.Keys[0].Error.Code)
	assert.Equal(t, models.StatusFailed, resp.Workflow.Step(StepEnsureKeys).Status)

	assert.Equal(t, 0, adapter.Calls("ensure_custom_targeting_key"))
	assert.Equal(t, 0, adapter.KeyCount())
	assert.Equal(t, 0, adapter.Calls("create_order"))
	_, err = h.store.GetBinding(ctx, "t1", models.LogicalRole("junk_1"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreate_UnknownKeyOnlyBlocksItsPackage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	adapter := h.provider.Tenant("t1")
	req := scenarioRequest()
	req.Packages = append(req.Packages, PackageRequest{
		PackageID: "p2",
		Targeting: models.NewTargetingExpression(models.OperatorAND).IncludeValues("junk_1", "x"),
	})

	resp, err := h.svc.Create(ctx, h.tc, req)
	require.NoError(t, err)
	assert.Equal(t, models.MediaBuyPartial, resp.Status)
	assert.NotEmpty(t, resp.Packages[0].LineItemName)
	assert.Nil(t, resp.Packages[0].Error)
	assert.Equal(t, CodeUnboundKey, resp.Packages[1].Error.Code)
	assert.Equal(t, 1, adapter.KeyCount())
	_, ok := adapter.LineItem(resp.OrderID, "p2")
	assert.False(t, ok)
}

func TestCreate_KeyFailureBlocksOnlyPackagesUsingIt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	adapter := h.provider.Tenant("t1")
	denied := &adserver.Error{Op: "ensure_custom_targeting_key", StatusCode: 403, Err: adserver.ErrPermissionDenied}
	adapter.Reject("ensure_custom_targeting_key", "content_category", denied)

	req := scenarioRequest()
	req.Packages = append(req.Packages, PackageRequest{
		PackageID:   "p2",
		ProductName: "Video",
		Targeting:   models.NewTargetingExpression(models.OperatorAND).IncludeValues("genre", "news"),
	})

	resp, err := h.svc.Create(ctx, h.tc, req)
	require.NoError(t, err)
	assert.Equal(t, models.MediaBuyPartial, resp.Status)
	assert.Nil(t, resp.Error)
	assert.NotEmpty(t, resp.OrderID)

	require.Len(t, resp.Packages, 2)
	assert.Equal(t, "p1", resp.Packages[0].PackageID)
	assert.NotEmpty(t, resp.Packages[0].LineItemName)
	assert.Nil(t, resp.Packages[0].Error)
	assert.Equal(t, "p2", resp.Packages[1].PackageID)
	assert.Empty(t, resp.Packages[1].LineItemName)
	assert.Equal(t, CodeAdapterPermission, resp.Packages[1].Error.Code)

	require.Len(t, resp.Keys, 2)
	assert.Equal(t, "audience", resp.Keys[0].Key)
	assert.Nil(t, resp.Keys[0].Error)
	assert.Equal(t, "genre", resp.Keys[1].Key)
	assert.Equal(t, CodeAdapterPermission, resp.Keys[1].Error.Code)

	_, ok := adapter.LineItem(resp.OrderID, "p1")
	assert.True(t, ok)
	assert.Equal(t, models.StatusCompleted, resp.Workflow.Step(StepEnsureKeys).Status)
	assert.Equal(t, models.StatusFailed, resp.Workflow.Step(StepApplyTargeting).Status)

	adapter.Accept("ensure_custom_targeting_key", "content_category")
	resumed, err := h.svc.Resume(ctx, h.tc, resp.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MediaBuyActive, resumed.Status)
	assert.Equal(t, models.StatusCompleted, resumed.Workflow.Status)
	assert.NotEmpty(t, resumed.Packages[1].LineItemName)
	assert.Equal(t, 1, adapter.Calls("create_order"))
	assert.Equal(t, 2, adapter.Calls("apply_line_item_targeting"), "p1 is not reapplied")
}

func TestCreate_LineItemFailureIsItemised(t *testing.T) {
	h := newHarness(t)
	adapter := h.provider.Tenant("t1")
	adapter.Reject("apply_line_item_targeting", "p1", &adserver.Error{Op: "apply_line_item_targeting", StatusCode: 403, Err: adserver.ErrPermissionDenied})

	req := scenarioRequest()
	req.Packages = append(req.Packages, PackageRequest{PackageID: "p2", ProductName: "Video"})

	resp, err := h.svc.Create(context.Background(), h.tc, req)
	require.NoError(t, err)
	assert.Equal(t, models.MediaBuyPartial, resp.Status)
	assert.Equal(t, CodeAdapterPermission, resp.Packages[0].Error.Code)
	assert.Equal(t, "Spring Sale - Jan 5–20, 2025 - Video", resp.Packages[1].LineItemName)
	assert.Nil(t, resp.Packages[1].Error)
	assert.Equal(t, models.StatusFailed, resp.Workflow.Status)

	mb, err := h.svc.Get(context.Background(), h.tc, resp.MediaBuyID)
	require.NoError(t, err)
	assert.Equal(t, models.MediaBuyPartial, mb.Status)
}

func TestUpdate_PartialSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := scenarioRequest()
	req.Packages = append(req.Packages, PackageRequest{PackageID: "p2", ProductName: "Video"})
	created, err := h.svc.Create(ctx, h.tc, req)
	require.NoError(t, err)

	resp, err := h.svc.Update(ctx, h.tc, created.MediaBuyID, UpdateRequest{Packages: []PackageUpdate{
		{PackageID: "p1", CreativeIDs: []string{"c1", "c2"}},
		{PackageID: "p2", CreativeIDs: []string{"c1", "nope"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, resp.Status)
	assert.Equal(t, "p1", resp.Packages[0].PackageID)
	assert.Equal(t, []string{"c1", "c2"}, resp.Packages[0].ChangesApplied.CreativeIDs.Current)
	assert.Equal(t, []string{}, resp.Packages[0].ChangesApplied.CreativeIDs.Removed)
	assert.Equal(t, CodeCreativeNotFound, resp.Packages[1].Error.Code)

	resp, err = h.svc.Update(ctx, h.tc, created.MediaBuyID, UpdateRequest{Packages: []PackageUpdate{
		{PackageID: "p1", CreativeIDs: []string{"c2"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, []string{"c1"}, resp.Packages[0].ChangesApplied.CreativeIDs.Removed)

	resp, err = h.svc.Update(ctx, h.tc, created.MediaBuyID, UpdateRequest{Packages: []PackageUpdate{
		{PackageID: "p9", CreativeIDs: []string{"c2"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, CodePackageNotFound, resp.Packages[0].Error.Code)

	resp, err = h.svc.Update(ctx, h.tc, created.MediaBuyID, UpdateRequest{Packages: []PackageUpdate{
		{PackageID: "p1"},
		{PackageID: "p2", CreativeIDs: []string{}},
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, resp.Status)
	assert.Equal(t, "p1", resp.Packages[0].PackageID)
	assert.Equal(t, CodeInvalidRequest, resp.Packages[0].Error.Code)
	assert.Equal(t, "p2", resp.Packages[1].PackageID)
	assert.Equal(t, []string{}, resp.Packages[1].ChangesApplied.CreativeIDs.Current)

	mb, err := h.svc.Get(ctx, h.tc, created.MediaBuyID)
	require.NoError(t, err)
	current, err := h.store.ListAssignments(ctx, "t1", mb.ID, "p1")
	require.NoError(t, err)
	assert.Len(t, current, 1, "a missing creative set leaves assignments untouched")
}

func TestUpdate_TenantIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created, err := h.svc.Create(ctx, h.tc, scenarioRequest())
	require.NoError(t, err)

	other := &models.TenantContext{TenantID: "t2"}
	_, err = h.svc.Update(ctx, other, created.MediaBuyID, UpdateRequest{Packages: []PackageUpdate{{PackageID: "p1"}}})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = h.svc.Get(ctx, other, created.MediaBuyID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.svc.Create(ctx, nil, scenarioRequest())
	assert.ErrorIs(t, err, models.ErrMissingTenantContext)
}

func TestItemErrorFor(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{&models.CreativeNotFoundError{PackageID: "p", CreativeIDs: []string{"x"}}, CodeCreativeNotFound},
		{models.ErrPackageNotFound, CodePackageNotFound},
		{&models.PackageUpdateError{PackageID: "p", Err: errors.New("db")}, CodePackageUpdateFailed},
		{&models.TenantResolutionError{Kind: models.TenantMismatch}, CodeTenantResolution},
		{&adserver.Error{Op: "x", Err: adserver.ErrTransient}, CodeAdapterTransient},
		{fmt.Errorf("%w: junk", models.ErrUnboundKey), CodeUnboundKey},
		{ErrCreativeIDsRequired, CodeInvalidRequest},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.code, ItemErrorFor(tc.err).Code, tc.err.Error())
	}
	assert.Nil(t, ItemErrorFor(nil))
}
