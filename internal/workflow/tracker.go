// Package workflow records the step-by-step progress of multi-call ad
// server operations so they can be polled and resumed.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/audit"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
)

// Store is the persistence port used by the Tracker.
type Store interface {
	CreateRun(ctx context.Context, run models.WorkflowRun) error
	GetRun(ctx context.Context, tenantID, runID string) (models.WorkflowRun, error)
	GetLatestRunForMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (models.WorkflowRun, error)
	UpdateStep(ctx context.Context, tenantID, runID string, step models.WorkflowStep) error
	UpdateRunStatus(ctx context.Context, tenantID, runID string, status models.WorkflowStatus, at time.Time) error
}

// StepFunc performs one step. The returned detail is stored on the step.
type StepFunc func(ctx context.Context) (detail string, err error)

// Tracker drives runs through their state machine and persists every transition.
type Tracker struct {
	store   Store
	audit   audit.Sink
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewTracker creates a Tracker. A nil sink disables auditing.
func NewTracker(store Store, sink audit.Sink, logger *zap.Logger, metrics observability.MetricsRegistry) *Tracker {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Tracker{store: store, audit: sink, logger: logger, metrics: metrics, now: time.Now}
}

// Start persists a new pending run with the named steps in order.
func (t *Tracker) Start(ctx context.Context, tc *models.TenantContext, mediaBuyID string, steps ...string) (*models.WorkflowRun, error) {
	if err := models.RequireTenant(tc); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, errors.New("workflow needs at least one step")
	}
	now := t.now().UTC()
	run := &models.WorkflowRun{
		ID:         uuid.NewString(),
		TenantID:   tc.TenantID,
		MediaBuyID: mediaBuyID,
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, name := range steps {
		run.Steps = append(run.Steps, models.WorkflowStep{Name: name, Status: models.StatusPending})
	}
	if err := t.store.CreateRun(ctx, *run); err != nil {
		return nil, fmt.Errorf("create workflow run: %w", err)
	}
	t.logger.Info("workflow started",
		zap.String("tenant_id", tc.TenantID),
		zap.String("run_id", run.ID),
		zap.String("media_buy_id", mediaBuyID),
		zap.Strings("steps", steps))
	return run, nil
}

// Get returns the tenant's run. Runs of other tenants are not found.
func (t *Tracker) Get(ctx context.Context, tc *models.TenantContext, runID string) (*models.WorkflowRun, error) {
	if err := models.RequireTenant(tc); err != nil {
		return nil, err
	}
	run, err := t.store.GetRun(ctx, tc.TenantID, runID)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Latest returns the most recent run started for the tenant's media buy.
func (t *Tracker) Latest(ctx context.Context, tc *models.TenantContext, mediaBuyID string) (*models.WorkflowRun, error) {
	if err := models.RequireTenant(tc); err != nil {
		return nil, err
	}
	run, err := t.store.GetLatestRunForMediaBuy(ctx, tc.TenantID, mediaBuyID)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Step runs fn as the named step of run. A completed step is skipped
// without calling fn. The step moves to in_progress, then to completed or
// failed depending on fn's error, which is returned unchanged. Steps that
// failed must be reset by Resume before they run again.
func (t *Tracker) Step(ctx context.Context, tc *models.TenantContext, run *models.WorkflowRun, name string, fn StepFunc) error {
	if err := models.RequireTenant(tc); err != nil {
		return err
	}
	if run == nil || run.TenantID != tc.TenantID {
		return models.ErrNotFound
	}
	step := run.Step(name)
	if step == nil {
		return fmt.Errorf("workflow %s has no step %q", run.ID, name)
	}
	if step.Status == models.StatusCompleted {
		return nil
	}
	if !step.Status.CanTransition(models.StatusInProgress) {
		return fmt.Errorf("step %s %s -> %s: %w", name, step.Status, models.StatusInProgress, models.ErrInvalidTransition)
	}

	started := t.now().UTC()
	step.Status = models.StatusInProgress
	step.Detail = ""
	step.StartedAt = &started
	step.FinishedAt = nil
	if err := t.persist(ctx, run, step); err != nil {
		return err
	}

	detail, fnErr := fn(ctx)
	finished := t.now().UTC()
	step.FinishedAt = &finished
	if fnErr != nil {
		step.Status = models.StatusFailed
		step.Detail = fnErr.Error()
	} else {
		step.Status = models.StatusCompleted
		step.Detail = detail
	}
	if err := t.persist(ctx, run, step); err != nil {
		if fnErr != nil {
			return errors.Join(fnErr, err)
		}
		return err
	}

	if fnErr != nil {
		t.logger.Warn("workflow step failed",
			zap.String("tenant_id", run.TenantID),
			zap.String("run_id", run.ID),
			zap.String("step", name),
			zap.Error(fnErr))
	}
	if run.Terminal() {
		t.logger.Info("workflow finished",
			zap.String("tenant_id", run.TenantID),
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)))
		if err := t.audit.RecordWorkflow(ctx, *run); err != nil && !errors.Is(err, audit.ErrUnavailable) {
			t.logger.Warn("audit workflow failed", zap.Error(err))
		}
	}
	return fnErr
}

// Resume resets the failed steps of a run to pending and returns the run
// with the first non-completed step, which is nil when the run completed.
func (t *Tracker) Resume(ctx context.Context, tc *models.TenantContext, runID string) (*models.WorkflowRun, *models.WorkflowStep, error) {
	run, err := t.Get(ctx, tc, runID)
	if err != nil {
		return nil, nil, err
	}
	for i := range run.Steps {
		step := &run.Steps[i]
		if step.Status != models.StatusFailed {
			continue
		}
		step.Status = models.StatusPending
		step.StartedAt = nil
		step.FinishedAt = nil
		if err := t.persist(ctx, run, step); err != nil {
			return nil, nil, err
		}
	}
	next := run.NextStep()
	if next != nil {
		t.logger.Info("workflow resumed",
			zap.String("tenant_id", run.TenantID),
			zap.String("run_id", run.ID),
			zap.String("next_step", next.Name))
	}
	return run, next, nil
}

// persist writes step and the run status derived from all steps.
func (t *Tracker) persist(ctx context.Context, run *models.WorkflowRun, step *models.WorkflowStep) error {
	if err := t.store.UpdateStep(ctx, run.TenantID, run.ID, *step); err != nil {
		return fmt.Errorf("update step %s: %w", step.Name, err)
	}
	t.metrics.IncrementWorkflowStep(step.Name, string(step.Status))

	status := run.DeriveStatus()
	if status == run.Status {
		return nil
	}
	now := t.now().UTC()
	if err := t.store.UpdateRunStatus(ctx, run.TenantID, run.ID, status, now); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	run.Status = status
	run.UpdatedAt = now
	return nil
}
