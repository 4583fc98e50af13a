// Package storetest provides contract tests for [db.Store] backends.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcontextprotocol/salesagent/internal/db"
	"github.com/adcontextprotocol/salesagent/internal/models"
)

// Factory creates a fresh, empty store for each test invocation.
type Factory func(t *testing.T) *db.Store

// SeedTenant inserts an active tenant with the given id, using the id as
// subdomain.
func SeedTenant(t *testing.T, s *db.Store, id, virtualHost string) models.Tenant {
	t.Helper()
	tenant := models.Tenant{
		ID:          id,
		Name:        "Tenant " + id,
		Subdomain:   id,
		VirtualHost: virtualHost,
		NetworkCode: "net-" + id,
		IsActive:    true,
	}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

// SeedMediaBuy inserts a pending media buy with the given package ids.
func SeedMediaBuy(t *testing.T, s *db.Store, tenantID, id string, packageIDs ...string) models.MediaBuy {
	t.Helper()
	mb := models.MediaBuy{
		ID:        id,
		TenantID:  tenantID,
		Status:    models.MediaBuyPending,
		StartTime: time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC),
	}
	for _, pid := range packageIDs {
		mb.Packages = append(mb.Packages, models.Package{ID: pid, MediaBuyID: id, ProductName: "Product " + pid})
	}
	require.NoError(t, s.CreateMediaBuy(context.Background(), mb))
	return mb
}

// SeedCreatives registers creatives for the tenant.
func SeedCreatives(t *testing.T, s *db.Store, tenantID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.CreateCreative(context.Background(), models.Creative{ID: id, TenantID: tenantID, Name: id}))
	}
}

// Run exercises the store contract.
func Run(t *testing.T, factory Factory) {
	t.Run("Tenants", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		tenant := models.Tenant{
			ID:              "acme",
			Name:            "Acme",
			Subdomain:       "acme",
			VirtualHost:     "ads.acme.com",
			KeyNames:        map[models.LogicalRole]string{models.RoleAudienceSegment: "acme_aud"},
			NamingTemplates: models.NamingTemplates{Order: "{campaign_name}"},
			IsActive:        true,
		}
		require.NoError(t, s.CreateTenant(ctx, tenant))
		SeedTenant(t, s, "other", "")
		SeedTenant(t, s, "third", "")

		got, err := s.GetTenantByVirtualHost(ctx, "ads.acme.com")
		require.NoError(t, err)
		assert.Equal(t, "acme", got.ID)
		assert.Equal(t, "acme_aud", got.KeyNames[models.RoleAudienceSegment])
		assert.Equal(t, "{campaign_name}", got.NamingTemplates.Order)
		assert.True(t, got.IsActive)

		got, err = s.GetTenantBySubdomain(ctx, "other")
		require.NoError(t, err)
		assert.Equal(t, "other", got.ID)
		assert.Empty(t, got.VirtualHost)

		_, err = s.GetTenantByVirtualHost(ctx, "")
		assert.True(t, errors.Is(err, models.ErrNotFound))
		_, err = s.GetTenant(ctx, "missing")
		assert.True(t, errors.Is(err, models.ErrNotFound))

		dup := tenant
		dup.ID = "acme2"
		err = s.CreateTenant(ctx, dup)
		assert.True(t, errors.Is(err, models.ErrAlreadyExists), "got %v", err)
	})

	t.Run("Principals", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		SeedTenant(t, s, "acme", "")
		require.NoError(t, s.CreatePrincipal(ctx, models.Principal{ID: "p1", TenantID: "acme", Name: "buyer", TokenHash: "h1"}))

		p, err := s.GetPrincipalByTokenHash(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, "acme", p.TenantID)

		_, err = s.GetPrincipalByTokenHash(ctx, "h2")
		assert.True(t, errors.Is(err, models.ErrNotFound))

		err = s.CreatePrincipal(ctx, models.Principal{ID: "p2", TenantID: "acme", Name: "dup", TokenHash: "h1"})
		assert.True(t, errors.Is(err, models.ErrAlreadyExists))
	})

	t.Run("Bindings", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		SeedTenant(t, s, "a", "")
		SeedTenant(t, s, "b", "")

		b := models.CustomTargetingKeyBinding{
			TenantID:        "a",
			Role:            models.RoleAudienceSegment,
			ExternalKeyName: "axe_segment",
			ExternalKeyID:   "k1",
		}
		require.NoError(t, s.CreateBinding(ctx, b))

		got, err := s.GetBinding(ctx, "a", models.RoleAudienceSegment)
		require.NoError(t, err)
		assert.Equal(t, models.ExternalKeyID("k1"), got.ExternalKeyID)
		assert.Equal(t, models.RoleAudienceSegment, got.Role)

		_, err = s.GetBinding(ctx, "b", models.RoleAudienceSegment)
		assert.True(t, errors.Is(err, models.ErrNotFound))

		b.ExternalKeyID = "k2"
		err = s.CreateBinding(ctx, b)
		assert.True(t, errors.Is(err, models.ErrAlreadyExists), "got %v", err)

		n, err := s.CountBindings(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("MediaBuys", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		SeedTenant(t, s, "a", "")
		SeedTenant(t, s, "b", "")

		mb := models.MediaBuy{
			ID:        "mb1",
			TenantID:  "a",
			BuyerRef:  "ref-1",
			Status:    models.MediaBuyPending,
			StartTime: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
			EndTime:   time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
			Packages: []models.Package{
				{ID: "pkg2", ProductName: "Video", Targeting: *models.NewTargetingExpression(models.OperatorOR).IncludeValues("audience", "seg_A")},
				{ID: "pkg1", ProductName: "Display", Dimensions: map[string][]string{"geo": {"US"}}},
			},
		}
		require.NoError(t, s.CreateMediaBuy(ctx, mb))

		got, err := s.GetMediaBuy(ctx, "a", "mb1")
		require.NoError(t, err)
		assert.Equal(t, "ref-1", got.BuyerRef)
		assert.True(t, got.StartTime.Equal(mb.StartTime))
		require.Len(t, got.Packages, 2)
		assert.Equal(t, "pkg2", got.Packages[0].ID)
		assert.Equal(t, []string{"seg_A"}, got.Packages[0].Targeting.Include["audience"])
		assert.Equal(t, models.OperatorOR, got.Packages[0].Targeting.Operator)
		assert.Equal(t, []string{"US"}, got.Packages[1].Dimensions["geo"])

		_, err = s.GetMediaBuy(ctx, "b", "mb1")
		assert.True(t, errors.Is(err, models.ErrNotFound))

		require.NoError(t, s.UpdateMediaBuyOrder(ctx, "a", "mb1", "Order 1", "o-1", models.MediaBuyActive))
		err = s.UpdateMediaBuyOrder(ctx, "b", "mb1", "x", "x", models.MediaBuyActive)
		assert.True(t, errors.Is(err, models.ErrNotFound))

		require.NoError(t, s.UpdatePackageLineItem(ctx, "a", "mb1", "pkg1", "Order 1 - Display"))
		err = s.UpdatePackageLineItem(ctx, "b", "mb1", "pkg1", "x")
		assert.True(t, errors.Is(err, models.ErrNotFound))

		got, err = s.GetMediaBuy(ctx, "a", "mb1")
		require.NoError(t, err)
		assert.Equal(t, "o-1", got.OrderID)
		assert.Equal(t, models.MediaBuyActive, got.Status)
		assert.Equal(t, "Order 1 - Display", got.Packages[1].LineItemName)
	})

	t.Run("Assignments", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		SeedTenant(t, s, "a", "")
		SeedTenant(t, s, "b", "")
		SeedMediaBuy(t, s, "a", "mb1", "pkg1")
		SeedCreatives(t, s, "a", "c1", "c2")
		SeedCreatives(t, s, "b", "c3")

		missing, err := s.MissingCreatives(ctx, "a", []string{"c1", "c3", "c9", "c9"})
		require.NoError(t, err)
		assert.Equal(t, []string{"c3", "c9"}, missing)

		err = s.InPackageTx(ctx, "a", "mb1", "pkg1", func(tx models.AssignmentTx) error {
			return tx.InsertAssignments(ctx, []string{"c2", "c1"}, time.Now())
		})
		require.NoError(t, err)

		ids, err := s.ListAssignments(ctx, "a", "mb1", "pkg1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2"}, ids)

		boom := errors.New("boom")
		err = s.InPackageTx(ctx, "a", "mb1", "pkg1", func(tx models.AssignmentTx) error {
			if err := tx.DeleteAssignments(ctx, []string{"c1"}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		ids, err = s.ListAssignments(ctx, "a", "mb1", "pkg1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2"}, ids, "failed transaction must roll back")

		err = s.InPackageTx(ctx, "a", "mb1", "pkg1", func(tx models.AssignmentTx) error {
			current, err := tx.CurrentCreativeIDs(ctx)
			if err != nil {
				return err
			}
			assert.Equal(t, []string{"c1", "c2"}, current)
			return tx.DeleteAssignments(ctx, []string{"c1"})
		})
		require.NoError(t, err)
		ids, err = s.ListAssignments(ctx, "a", "mb1", "pkg1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, ids)

		called := false
		err = s.InPackageTx(ctx, "b", "mb1", "pkg1", func(models.AssignmentTx) error {
			called = true
			return nil
		})
		assert.True(t, errors.Is(err, models.ErrNotFound))
		assert.False(t, called)

		err = s.InPackageTx(ctx, "a", "mb1", "nope", func(models.AssignmentTx) error { return nil })
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("WorkflowRuns", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		SeedTenant(t, s, "a", "")
		SeedTenant(t, s, "b", "")

		now := time.Now().UTC().Truncate(time.Second)
		run := models.WorkflowRun{
			ID:         "run1",
			TenantID:   "a",
			MediaBuyID: "mb1",
			Status:     models.StatusPending,
			Steps: []models.WorkflowStep{
				{Name: "ensure_custom_targeting_keys", Status: models.StatusPending},
				{Name: "create_order", Status: models.StatusPending},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, s.CreateRun(ctx, run))

		started := now.Add(time.Second)
		step := run.Steps[0]
		step.Status = models.StatusInProgress
		step.StartedAt = &started
		require.NoError(t, s.UpdateStep(ctx, "a", "run1", step))
		require.NoError(t, s.UpdateRunStatus(ctx, "a", "run1", models.StatusInProgress, started))

		got, err := s.GetRun(ctx, "a", "run1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusInProgress, got.Status)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, "ensure_custom_targeting_keys", got.Steps[0].Name)
		assert.Equal(t, models.StatusInProgress, got.Steps[0].Status)
		require.NotNil(t, got.Steps[0].StartedAt)
		assert.True(t, got.Steps[0].StartedAt.Equal(started))
		assert.Nil(t, got.Steps[1].StartedAt)

		latest, err := s.GetLatestRunForMediaBuy(ctx, "a", "mb1")
		require.NoError(t, err)
		assert.Equal(t, "run1", latest.ID)

		_, err = s.GetRun(ctx, "b", "run1")
		assert.True(t, errors.Is(err, models.ErrNotFound))
		err = s.UpdateStep(ctx, "b", "run1", step)
		assert.True(t, errors.Is(err, models.ErrNotFound))
		err = s.UpdateRunStatus(ctx, "b", "run1", models.StatusFailed, now)
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})
}
