package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

// CreateRun inserts a workflow run with its steps in order.
func (s *Store) CreateRun(ctx context.Context, run models.WorkflowRun) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, tenant_id, media_buy_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.TenantID, run.MediaBuyID, string(run.Status), run.CreatedAt.UTC(), run.UpdatedAt.UTC())
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("workflow run %s: %w", run.ID, models.ErrAlreadyExists)
		}
		return fmt.Errorf("insert workflow run: %w", err)
	}
	for i, step := range run.Steps {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO workflow_steps (run_id, position, name, status, detail, started_at, finished_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			run.ID, i, step.Name, string(step.Status), step.Detail, nullTime(step.StartedAt), nullTime(step.FinishedAt))
		if err != nil {
			return fmt.Errorf("insert workflow step %s: %w", step.Name, err)
		}
	}
	return tx.Commit()
}

// GetRun returns the tenant's run with its steps.
func (s *Store) GetRun(ctx context.Context, tenantID, runID string) (models.WorkflowRun, error) {
	return s.getRun(ctx, `tenant_id = $1 AND id = $2`, tenantID, runID)
}

// GetLatestRunForMediaBuy returns the most recent run started for a media buy.
func (s *Store) GetLatestRunForMediaBuy(ctx context.Context, tenantID, mediaBuyID string) (models.WorkflowRun, error) {
	return s.getRun(ctx, `tenant_id = $1 AND media_buy_id = $2 ORDER BY created_at DESC LIMIT 1`, tenantID, mediaBuyID)
}

func (s *Store) getRun(ctx context.Context, where string, args ...any) (models.WorkflowRun, error) {
	var (
		run    models.WorkflowRun
		status string
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, tenant_id, media_buy_id, status, created_at, updated_at FROM workflow_runs WHERE `+where, args...).
		Scan(&run.ID, &run.TenantID, &run.MediaBuyID, &status, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WorkflowRun{}, models.ErrNotFound
	}
	if err != nil {
		return models.WorkflowRun{}, fmt.Errorf("query workflow run: %w", err)
	}
	run.Status = models.WorkflowStatus(status)

	rows, err := s.DB.QueryContext(ctx,
		`SELECT name, status, detail, started_at, finished_at FROM workflow_steps
		 WHERE run_id = $1 ORDER BY position`, run.ID)
	if err != nil {
		return models.WorkflowRun{}, fmt.Errorf("query workflow steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			step              models.WorkflowStep
			stepStatus        string
			started, finished sql.NullTime
		)
		if err := rows.Scan(&step.Name, &stepStatus, &step.Detail, &started, &finished); err != nil {
			return models.WorkflowRun{}, fmt.Errorf("scan workflow step: %w", err)
		}
		step.Status = models.WorkflowStatus(stepStatus)
		step.StartedAt = timePtr(started)
		step.FinishedAt = timePtr(finished)
		run.Steps = append(run.Steps, step)
	}
	return run, rows.Err()
}

// UpdateStep overwrites one step's status, detail and timestamps.
func (s *Store) UpdateStep(ctx context.Context, tenantID, runID string, step models.WorkflowStep) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE workflow_steps SET status = $1, detail = $2, started_at = $3, finished_at = $4
		 WHERE run_id = $5 AND name = $6
		 AND EXISTS (SELECT 1 FROM workflow_runs WHERE id = $5 AND tenant_id = $7)`,
		string(step.Status), step.Detail, nullTime(step.StartedAt), nullTime(step.FinishedAt), runID, step.Name, tenantID)
	if err != nil {
		return fmt.Errorf("update workflow step: %w", err)
	}
	return expectOneRow(res)
}

// UpdateRunStatus sets the run status.
func (s *Store) UpdateRunStatus(ctx context.Context, tenantID, runID string, status models.WorkflowStatus, at time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE workflow_runs SET status = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		string(status), at.UTC(), tenantID, runID)
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	return expectOneRow(res)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
