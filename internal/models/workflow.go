package models

import "time"

// WorkflowStatus is shared by runs and their steps.
type WorkflowStatus string

const (
	StatusPending    WorkflowStatus = "pending"
	StatusInProgress WorkflowStatus = "in_progress"
	StatusCompleted  WorkflowStatus = "completed"
	StatusFailed     WorkflowStatus = "failed"
)

// Terminal reports whether s is completed or failed.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed. A failed
// status may move back to pending when the run is scheduled for retry.
func (s WorkflowStatus) CanTransition(next WorkflowStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusPending
	}
	return false
}

// WorkflowStep is one adapter call in a multi-call operation. Steps are
// written to be idempotent so a failed run resumes from its first
// non-completed step.
type WorkflowStep struct {
	Name       string         `json:"name"`
	Status     WorkflowStatus `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// WorkflowRun records the progress of one multi-call adapter operation.
type WorkflowRun struct {
	ID         string         `json:"run_id"`
	TenantID   string         `json:"tenant_id"`
	MediaBuyID string         `json:"media_buy_id"`
	Status     WorkflowStatus `json:"status"`
	Steps      []WorkflowStep `json:"steps"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Step returns a pointer to the named step, or nil.
func (r *WorkflowRun) Step(name string) *WorkflowStep {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// NextStep returns the first step that is not completed, or nil when every
// step has completed.
func (r *WorkflowRun) NextStep() *WorkflowStep {
	for i := range r.Steps {
		if r.Steps[i].Status != StatusCompleted {
			return &r.Steps[i]
		}
	}
	return nil
}

// DeriveStatus computes the run status from its steps.
func (r *WorkflowRun) DeriveStatus() WorkflowStatus {
	allDone := true
	started := false
	for _, s := range r.Steps {
		switch s.Status {
		case StatusFailed:
			return StatusFailed
		case StatusCompleted:
			started = true
		case StatusInProgress:
			started = true
			allDone = false
		default:
			allDone = false
		}
	}
	if allDone && len(r.Steps) > 0 {
		return StatusCompleted
	}
	if started {
		return StatusInProgress
	}
	return StatusPending
}

// Terminal reports whether the run has finished.
func (r *WorkflowRun) Terminal() bool {
	return r.DeriveStatus().Terminal()
}
