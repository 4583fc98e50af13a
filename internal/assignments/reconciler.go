// Package assignments reconciles requested creative-to-package assignments
// against persisted state.
package assignments

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/audit"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
)

// Store is the persistence port used by the Reconciler.
type Store interface {
	MissingCreatives(ctx context.Context, tenantID string, ids []string) ([]string, error)
	InPackageTx(ctx context.Context, tenantID, mediaBuyID, packageID string, fn func(models.AssignmentTx) error) error
}

// Request is the requested creative set for one package.
type Request struct {
	PackageID   string
	CreativeIDs []string
}

// Result is the outcome for one package. Exactly one of Diff and Err is set.
type Result struct {
	PackageID string
	Diff      *models.AssignmentDiff
	Err       error
}

// Reconciler computes and applies assignment diffs, one transaction per package.
type Reconciler struct {
	store   Store
	audit   audit.Sink
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewReconciler creates a Reconciler. A nil sink disables auditing.
func NewReconciler(store Store, sink audit.Sink, logger *zap.Logger, metrics observability.MetricsRegistry) *Reconciler {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Reconciler{store: store, audit: sink, logger: logger, metrics: metrics, now: time.Now}
}

// Reconcile makes the package's assignments equal to requested and returns
// the applied diff.
//
// Unknown creative ids fail the call with *models.CreativeNotFoundError
// before any state is touched. A package that does not belong to the
// tenant fails with models.ErrPackageNotFound. Persistence failures roll
// back this package only and are returned as *models.PackageUpdateError.
func (r *Reconciler) Reconcile(ctx context.Context, tc *models.TenantContext, mediaBuyID, packageID string, requested []string) (models.AssignmentDiff, error) {
	if err := models.RequireTenant(tc); err != nil {
		return models.AssignmentDiff{}, err
	}
	want := dedupe(requested)

	missing, err := r.store.MissingCreatives(ctx, tc.TenantID, want)
	if err != nil {
		r.metrics.IncrementReconciliation("error")
		return models.AssignmentDiff{}, &models.PackageUpdateError{PackageID: packageID, Err: err}
	}
	if len(missing) > 0 {
		r.metrics.IncrementReconciliation("creative_not_found")
		return models.AssignmentDiff{}, &models.CreativeNotFoundError{PackageID: packageID, CreativeIDs: missing}
	}

	var diff models.AssignmentDiff
	err = r.store.InPackageTx(ctx, tc.TenantID, mediaBuyID, packageID, func(tx models.AssignmentTx) error {
		current, err := tx.CurrentCreativeIDs(ctx)
		if err != nil {
			return err
		}
		diff = Diff(packageID, current, want)
		if err := tx.DeleteAssignments(ctx, diff.Removed); err != nil {
			return err
		}
		return tx.InsertAssignments(ctx, diff.Added, r.now())
	})
	switch {
	case errors.Is(err, models.ErrNotFound):
		r.metrics.IncrementReconciliation("package_not_found")
		return models.AssignmentDiff{}, models.ErrPackageNotFound
	case err != nil:
		r.metrics.IncrementReconciliation("error")
		r.logger.Error("package reconciliation failed",
			zap.String("tenant_id", tc.TenantID),
			zap.String("media_buy_id", mediaBuyID),
			zap.String("package_id", packageID),
			zap.Error(err))
		return models.AssignmentDiff{}, &models.PackageUpdateError{PackageID: packageID, Err: err}
	}

	r.metrics.IncrementReconciliation("success")
	r.logger.Debug("reconciled package",
		zap.String("tenant_id", tc.TenantID),
		zap.String("media_buy_id", mediaBuyID),
		zap.String("package_id", packageID),
		zap.Strings("added", diff.Added),
		zap.Strings("removed", diff.Removed))
	if err := r.audit.RecordReconciliation(ctx, tc.TenantID, mediaBuyID, diff); err != nil && !errors.Is(err, audit.ErrUnavailable) {
		r.logger.Warn("audit reconciliation failed", zap.Error(err))
	}
	return diff, nil
}

// ReconcileAll reconciles every package concurrently. Each package commits
// or fails on its own; results are returned in request order.
func (r *Reconciler) ReconcileAll(ctx context.Context, tc *models.TenantContext, mediaBuyID string, reqs []Request) ([]Result, error) {
	if err := models.RequireTenant(tc); err != nil {
		return nil, err
	}
	results := make([]Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			res := Result{PackageID: req.PackageID}
			diff, err := r.Reconcile(ctx, tc, mediaBuyID, req.PackageID, req.CreativeIDs)
			if err != nil {
				res.Err = err
			} else {
				res.Diff = &diff
			}
			results[i] = res
		}(i, req)
	}
	wg.Wait()
	return results, nil
}

// Diff computes added = requested - current and removed = current -
// requested. Current in the result is requested, sorted.
func Diff(packageID string, current, requested []string) models.AssignmentDiff {
	have := make(map[string]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}
	want := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		want[id] = struct{}{}
	}

	diff := models.AssignmentDiff{
		PackageID: packageID,
		Added:     []string{},
		Removed:   []string{},
		Current:   make([]string, 0, len(want)),
	}
	for id := range want {
		diff.Current = append(diff.Current, id)
		if _, ok := have[id]; !ok {
			diff.Added = append(diff.Added, id)
		}
	}
	for id := range have {
		if _, ok := want[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Current)
	return diff
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
