// Package mediabuy orchestrates media buy creation and updates: it builds
// ad server requests from translated targeting and rendered names, records
// each adapter call as a workflow step and reconciles creative assignments.
package mediabuy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/adserver"
	"github.com/adcontextprotocol/salesagent/internal/assignments"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/naming"
	"github.com/adcontextprotocol/salesagent/internal/observability"
	"github.com/adcontextprotocol/salesagent/internal/targeting"
	"github.com/adcontextprotocol/salesagent/internal/workflow"
)

// Workflow steps of a media buy creation, in order.
const (
	StepEnsureKeys     = "ensure_custom_targeting_keys"
	StepCreateOrder    = "create_order"
	StepApplyTargeting = "apply_line_item_targeting"
)

var createSteps = []string{StepEnsureKeys, StepCreateOrder, StepApplyTargeting}

// Store is the media buy persistence port.
type Store interface {
	CreateMediaBuy(ctx context.Context, mb models.MediaBuy) error
	GetMediaBuy(ctx context.Context, tenantID, id string) (models.MediaBuy, error)
	UpdateMediaBuyOrder(ctx context.Context, tenantID, id, orderName, orderID string, status models.MediaBuyStatus) error
	UpdatePackageLineItem(ctx context.Context, tenantID, mediaBuyID, packageID, lineItemName string) error
}

// KeyRegistry resolves logical roles to ad server keys.
type KeyRegistry interface {
	EnsureBinding(ctx context.Context, tc *models.TenantContext, role models.LogicalRole, defaultName string) (models.CustomTargetingKeyBinding, error)
}

// Reconciler applies creative assignments per package.
type Reconciler interface {
	ReconcileAll(ctx context.Context, tc *models.TenantContext, mediaBuyID string, reqs []assignments.Request) ([]assignments.Result, error)
}

// Service implements create_media_buy and update_media_buy.
type Service struct {
	store      Store
	keys       KeyRegistry
	reconciler Reconciler
	tracker    *workflow.Tracker
	names      *naming.Engine
	adapters   adserver.Provider
	retry      adserver.RetryPolicy
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy overrides the retry policy for idempotent adapter calls.
func WithRetryPolicy(p adserver.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// NewService wires a Service.
func NewService(store Store, keys KeyRegistry, reconciler Reconciler, tracker *workflow.Tracker, names *naming.Engine,
	adapters adserver.Provider, logger *zap.Logger, metrics observability.MetricsRegistry, opts ...Option) *Service {
	s := &Service{
		store:      store,
		keys:       keys,
		reconciler: reconciler,
		tracker:    tracker,
		names:      names,
		adapters:   adapters,
		retry:      adserver.DefaultRetryPolicy,
		logger:     logger,
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a media buy and drives the ad server through the
// creation workflow. Keys and packages succeed or fail independently: a
// package whose keys bound gets its line item even when another package's
// key failed, and the response itemises every key and package. A failed
// run can be resumed. The error is returned only when no line item could
// be applied; errors returned without a response mean nothing was persisted.
func (s *Service) Create(ctx context.Context, tc *models.TenantContext, req CreateRequest) (*CreateResponse, error) {
	if err := models.RequireTenant(tc); err != nil {
		return nil, err
	}

	mb := models.MediaBuy{
		ID:               "mb_" + uuid.NewString(),
		TenantID:         tc.TenantID,
		PrincipalID:      tc.PrincipalID,
		BuyerRef:         req.BuyerRef,
		CampaignName:     req.CampaignName,
		PromotedOffering: req.PromotedOffering,
		Status:           models.MediaBuyPending,
		StartTime:        req.StartTime.UTC(),
		EndTime:          req.EndTime.UTC(),
	}
	seen := make(map[string]struct{}, len(req.Packages))
	for _, p := range req.Packages {
		if _, dup := seen[p.PackageID]; dup {
			return nil, fmt.Errorf("duplicate package %s: %w", p.PackageID, models.ErrAlreadyExists)
		}
		seen[p.PackageID] = struct{}{}

		pkg := models.Package{ID: p.PackageID, MediaBuyID: mb.ID, ProductName: p.ProductName, Dimensions: p.Dimensions}
		if p.Targeting != nil {
			if err := p.Targeting.Validate(); err != nil {
				return nil, fmt.Errorf("package %s: %w", p.PackageID, err)
			}
			pkg.Targeting = p.Targeting.Normalize()
		}
		mb.Packages = append(mb.Packages, pkg)
	}

	if err := s.store.CreateMediaBuy(ctx, mb); err != nil {
		return nil, fmt.Errorf("persist media buy: %w", err)
	}
	run, err := s.tracker.Start(ctx, tc, mb.ID, createSteps...)
	if err != nil {
		return nil, err
	}

	resp, runErr := s.execute(ctx, tc, &mb, run)

	var updates []assignments.Request
	for _, p := range req.Packages {
		if len(p.CreativeIDs) > 0 {
			updates = append(updates, assignments.Request{PackageID: p.PackageID, CreativeIDs: p.CreativeIDs})
		}
	}
	if len(updates) > 0 {
		results, err := s.reconciler.ReconcileAll(ctx, tc, mb.ID, updates)
		if err != nil {
			return resp, errors.Join(runErr, err)
		}
		mergeCreatives(resp.Packages, results)
	}
	return resp, runErr
}

// Resume re-runs a failed creation workflow from its first non-completed step.
func (s *Service) Resume(ctx context.Context, tc *models.TenantContext, runID string) (*CreateResponse, error) {
	run, next, err := s.tracker.Resume(ctx, tc, runID)
	if err != nil {
		return nil, err
	}
	mb, err := s.store.GetMediaBuy(ctx, tc.TenantID, run.MediaBuyID)
	if err != nil {
		return nil, fmt.Errorf("load media buy %s: %w", run.MediaBuyID, err)
	}
	if next == nil {
		return response(&mb, run, newCreation()), nil
	}
	return s.execute(ctx, tc, &mb, run)
}

// Get returns the tenant's media buy.
func (s *Service) Get(ctx context.Context, tc *models.TenantContext, id string) (models.MediaBuy, error) {
	if err := models.RequireTenant(tc); err != nil {
		return models.MediaBuy{}, err
	}
	return s.store.GetMediaBuy(ctx, tc.TenantID, id)
}

// Status returns the tenant's media buy with its most recent workflow run.
func (s *Service) Status(ctx context.Context, tc *models.TenantContext, id string) (*StatusResponse, error) {
	mb, err := s.Get(ctx, tc, id)
	if err != nil {
		return nil, err
	}
	resp := &StatusResponse{MediaBuy: mb}
	run, err := s.tracker.Latest(ctx, tc, id)
	switch {
	case err == nil:
		resp.Workflow = run
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}
	return resp, nil
}

// Update reconciles the requested creative sets. Packages succeed or fail
// independently; the response itemises every package.
func (s *Service) Update(ctx context.Context, tc *models.TenantContext, mediaBuyID string, req UpdateRequest) (*UpdateResponse, error) {
	if err := models.RequireTenant(tc); err != nil {
		return nil, err
	}
	if _, err := s.store.GetMediaBuy(ctx, tc.TenantID, mediaBuyID); err != nil {
		return nil, err
	}

	reqs := make([]assignments.Request, 0, len(req.Packages))
	var rejected []assignments.Result
	for _, p := range req.Packages {
		if p.CreativeIDs == nil {
			rejected = append(rejected, assignments.Result{PackageID: p.PackageID, Err: fmt.Errorf("package %s: %w", p.PackageID, ErrCreativeIDsRequired)})
			continue
		}
		reqs = append(reqs, assignments.Request{PackageID: p.PackageID, CreativeIDs: p.CreativeIDs})
	}
	var results []assignments.Result
	if len(reqs) > 0 {
		var err error
		results, err = s.reconciler.ReconcileAll(ctx, tc, mediaBuyID, reqs)
		if err != nil {
			return nil, err
		}
	}

	results = append(results, rejected...)
	order := make(map[string]int, len(req.Packages))
	for i, p := range req.Packages {
		order[p.PackageID] = i
	}
	sort.SliceStable(results, func(i, j int) bool { return order[results[i].PackageID] < order[results[j].PackageID] })

	resp := &UpdateResponse{MediaBuyID: mediaBuyID, Packages: packageResults(results)}
	failed := 0
	for _, r := range resp.Packages {
		if r.Error != nil {
			failed++
		}
	}
	switch {
	case failed == 0:
		resp.Status = StatusCompleted
	case failed == len(resp.Packages):
		resp.Status = StatusFailed
	default:
		resp.Status = StatusPartial
	}
	return resp, nil
}

// creation collects the per-key and per-package outcomes of one execution.
type creation struct {
	bindings map[string]targeting.Binding
	keys     []KeyResult
	keyErrs  map[string]error
	pkgErrs  map[string]error
}

func newCreation() *creation {
	return &creation{keyErrs: map[string]error{}, pkgErrs: map[string]error{}}
}

// blocked reports the first failed key used by p.
func (c *creation) blocked(p *models.Package) error {
	for _, k := range p.Targeting.Keys() {
		if err, ok := c.keyErrs[k]; ok {
			return fmt.Errorf("key %s: %w", k, err)
		}
	}
	return nil
}

// execute runs the creation steps. Completed steps and packages that
// already have a line item are skipped, so it also serves resumption.
func (s *Service) execute(ctx context.Context, tc *models.TenantContext, mb *models.MediaBuy, run *models.WorkflowRun) (*CreateResponse, error) {
	adapter, adapterErr := s.adapters.AdapterFor(tc)
	c := newCreation()

	err := s.tracker.Step(ctx, tc, run, StepEnsureKeys, func(ctx context.Context) (string, error) {
		s.ensureKeys(ctx, tc, mb, c)
		ready := 0
		var errs []error
		for i := range mb.Packages {
			p := &mb.Packages[i]
			if p.LineItemName != "" {
				continue
			}
			if err := c.blocked(p); err != nil {
				errs = append(errs, fmt.Errorf("package %s: %w", p.ID, err))
				continue
			}
			ready++
		}
		if ready == 0 && len(errs) > 0 {
			return "", errors.Join(errs...)
		}
		return fmt.Sprintf("%d keys bound, %d failed", len(c.bindings), len(c.keyErrs)), nil
	})
	if err == nil {
		err = s.tracker.Step(ctx, tc, run, StepCreateOrder, func(ctx context.Context) (string, error) {
			if adapterErr != nil {
				return "", adapterErr
			}
			return s.createOrder(ctx, tc, adapter, mb)
		})
	}
	if err == nil {
		err = s.tracker.Step(ctx, tc, run, StepApplyTargeting, func(ctx context.Context) (string, error) {
			if adapterErr != nil {
				return "", adapterErr
			}
			if c.bindings == nil {
				// keys were bound by an earlier attempt; the registry returns the
				// stored bindings and retries the keys that failed
				s.ensureKeys(ctx, tc, mb, c)
			}
			return s.applyTargeting(ctx, tc, adapter, mb, c)
		})
	}

	applied := 0
	for i := range mb.Packages {
		p := &mb.Packages[i]
		if p.LineItemName != "" {
			applied++
			continue
		}
		if _, ok := c.pkgErrs[p.ID]; ok {
			continue
		}
		if blockErr := c.blocked(p); blockErr != nil {
			c.pkgErrs[p.ID] = blockErr
		} else if err != nil {
			c.pkgErrs[p.ID] = err
		}
	}

	status := models.MediaBuyActive
	switch {
	case applied == 0 && err != nil:
		status = models.MediaBuyFailed
	case err != nil:
		status = models.MediaBuyPartial
	}
	uerr := s.store.UpdateMediaBuyOrder(ctx, tc.TenantID, mb.ID, mb.OrderName, mb.OrderID, status)
	if uerr != nil {
		s.logger.Error("failed to record media buy status",
			zap.String("tenant_id", tc.TenantID),
			zap.String("media_buy_id", mb.ID),
			zap.Error(uerr))
		err = errors.Join(err, uerr)
	} else {
		mb.Status = status
	}

	if err != nil {
		s.logger.Warn("media buy workflow incomplete",
			zap.String("tenant_id", tc.TenantID),
			zap.String("media_buy_id", mb.ID),
			zap.String("run_id", run.ID),
			zap.Int("line_items_applied", applied),
			zap.Int("packages", len(mb.Packages)),
			zap.Error(err))
	}

	resp := response(mb, run, c)
	if status == models.MediaBuyFailed || uerr != nil {
		resp.Error = ItemErrorFor(err)
		return resp, err
	}
	return resp, nil
}

// ensureKeys binds every targeting key used by packages that still need a
// line item. Keys without a logical role for the tenant are unbound and
// never reach the ad server. Outcomes are recorded per key in c.
func (s *Service) ensureKeys(ctx context.Context, tc *models.TenantContext, mb *models.MediaBuy, c *creation) {
	keySet := map[string]struct{}{}
	for _, p := range mb.Packages {
		if p.LineItemName != "" {
			continue
		}
		for _, k := range p.Targeting.Keys() {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c.bindings = make(map[string]targeting.Binding, len(keys))
	c.keys = c.keys[:0]
	clear(c.keyErrs)
	for _, key := range keys {
		role, ok := tc.RoleForKey(key)
		if !ok {
			err := fmt.Errorf("%w: %s", models.ErrUnboundKey, key)
			c.keyErrs[key] = err
			c.keys = append(c.keys, KeyResult{Key: key, Error: ItemErrorFor(err)})
			s.logger.Warn("targeting key has no logical role",
				zap.String("tenant_id", tc.TenantID),
				zap.String("media_buy_id", mb.ID),
				zap.String("key", key))
			continue
		}
		b, err := s.keys.EnsureBinding(ctx, tc, role, models.DefaultKeyNames[role])
		if err != nil {
			c.keyErrs[key] = err
			c.keys = append(c.keys, KeyResult{Key: key, Role: role, Error: ItemErrorFor(err)})
			continue
		}
		c.bindings[key] = targeting.Binding{ID: b.ExternalKeyID, Name: key}
		c.keys = append(c.keys, KeyResult{Key: key, Role: role, ExternalKeyID: b.ExternalKeyID, ExternalKeyName: b.ExternalKeyName})
	}
}

// createOrder is not retried: order creation is not idempotent.
func (s *Service) createOrder(ctx context.Context, tc *models.TenantContext, adapter adserver.Adapter, mb *models.MediaBuy) (string, error) {
	if mb.OrderID != "" {
		return mb.OrderID, nil
	}
	name := s.names.OrderName(tc, naming.Context{
		CampaignName:     mb.CampaignName,
		PromotedOffering: mb.PromotedOffering,
		BuyerRef:         mb.BuyerRef,
		MediaBuyID:       mb.ID,
		Start:            mb.StartTime,
		End:              mb.EndTime,
		PackageCount:     len(mb.Packages),
	})
	orderID, err := adapter.CreateOrder(ctx, name)
	if err != nil {
		return "", err
	}
	mb.OrderName, mb.OrderID = name, orderID
	if err := s.store.UpdateMediaBuyOrder(ctx, tc.TenantID, mb.ID, name, orderID, mb.Status); err != nil {
		return "", fmt.Errorf("record order %s: %w", orderID, err)
	}
	return orderID, nil
}

// applyTargeting creates or replaces one line item per package that does
// not have one yet. Packages blocked by a failed key are skipped. Line item
// writes are idempotent and retried. Failures are recorded per package.
func (s *Service) applyTargeting(ctx context.Context, tc *models.TenantContext, adapter adserver.Adapter, mb *models.MediaBuy, c *creation) (string, error) {
	var errs []error
	fail := func(id string, err error) {
		c.pkgErrs[id] = err
		errs = append(errs, fmt.Errorf("package %s: %w", id, err))
	}
	applied := 0
	for i := range mb.Packages {
		p := &mb.Packages[i]
		if p.LineItemName != "" {
			continue
		}
		if err := c.blocked(p); err != nil {
			fail(p.ID, err)
			continue
		}
		criteria, err := targeting.Translate(&p.Targeting, c.bindings, dimensions(p.Dimensions)...)
		if err != nil {
			fail(p.ID, err)
			continue
		}
		name := s.names.LineItemName(tc, naming.Context{
			CampaignName:     mb.CampaignName,
			PromotedOffering: mb.PromotedOffering,
			BuyerRef:         mb.BuyerRef,
			ProductName:      p.ProductName,
			OrderName:        mb.OrderName,
			MediaBuyID:       mb.ID,
			PackageID:        p.ID,
			Start:            mb.StartTime,
			End:              mb.EndTime,
			PackageCount:     len(mb.Packages),
		})
		spec := adserver.LineItemSpec{OrderID: mb.OrderID, PackageID: p.ID, Name: name, Criteria: criteria}
		_, err = adserver.Retry(ctx, s.retry, "apply_line_item_targeting", s.logger, s.metrics, func() (struct{}, error) {
			return struct{}{}, adapter.ApplyLineItemTargeting(ctx, spec)
		})
		if err != nil {
			fail(p.ID, err)
			continue
		}
		if err := s.store.UpdatePackageLineItem(ctx, tc.TenantID, mb.ID, p.ID, name); err != nil {
			fail(p.ID, fmt.Errorf("record line item: %w", err))
			continue
		}
		p.LineItemName = name
		applied++
		s.logger.Debug("applied line item targeting",
			zap.String("tenant_id", tc.TenantID),
			zap.String("media_buy_id", mb.ID),
			zap.String("package_id", p.ID),
			zap.String("criteria", criteria.String()))
	}
	return fmt.Sprintf("%d line items", applied), errors.Join(errs...)
}

// dimensions turns stored non key-value targeting into criteria leaves in
// a stable order.
func dimensions(dims map[string][]string) []*targeting.NativeCriteria {
	names := make([]string, 0, len(dims))
	for name, values := range dims {
		if len(values) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]*targeting.NativeCriteria, 0, len(names))
	for _, name := range names {
		out = append(out, targeting.Dimension(name, dims[name]...))
	}
	return out
}

func response(mb *models.MediaBuy, run *models.WorkflowRun, c *creation) *CreateResponse {
	resp := &CreateResponse{
		MediaBuyID: mb.ID,
		Status:     mb.Status,
		OrderID:    mb.OrderID,
		OrderName:  mb.OrderName,
		Workflow:   run,
		Keys:       c.keys,
	}
	for _, p := range mb.Packages {
		resp.Packages = append(resp.Packages, PackageResult{
			PackageID:    p.ID,
			LineItemName: p.LineItemName,
			Error:        ItemErrorFor(c.pkgErrs[p.ID]),
		})
	}
	return resp
}

// mergeCreatives adds the initial creative assignment results to the
// package entries. A line item error takes precedence over a creative one.
func mergeCreatives(pkgs []PackageResult, results []assignments.Result) {
	byID := make(map[string]assignments.Result, len(results))
	for _, r := range results {
		byID[r.PackageID] = r
	}
	for i := range pkgs {
		r, ok := byID[pkgs[i].PackageID]
		if !ok {
			continue
		}
		if r.Err != nil {
			if pkgs[i].Error == nil {
				pkgs[i].Error = ItemErrorFor(r.Err)
			}
			continue
		}
		changes := r.Diff.ChangesApplied()
		pkgs[i].ChangesApplied = &changes
	}
}

func packageResults(results []assignments.Result) []PackageResult {
	out := make([]PackageResult, 0, len(results))
	for _, r := range results {
		pr := PackageResult{PackageID: r.PackageID}
		if r.Err != nil {
			pr.Error = ItemErrorFor(r.Err)
		} else {
			changes := r.Diff.ChangesApplied()
			pr.ChangesApplied = &changes
		}
		out = append(out, pr)
	}
	return out
}
