package audit

import (
	"context"
	"testing"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

func TestClickHouseUnavailable(t *testing.T) {
	var c *ClickHouse
	if err := c.RecordReconciliation(context.Background(), "t1", "mb1", models.AssignmentDiff{PackageID: "p1"}); err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := (&ClickHouse{}).EventsForMediaBuy(context.Background(), "t1", "mb1"); err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestWorkflowEventCarriesFailedStep(t *testing.T) {
	run := models.WorkflowRun{
		ID: "r1", TenantID: "t1", MediaBuyID: "mb1", Status: models.StatusFailed,
		Steps: []models.WorkflowStep{
			{Name: "create_order", Status: models.StatusCompleted},
			{Name: "apply_line_item_targeting", Status: models.StatusFailed, Detail: "permission denied"},
		},
	}
	ev := WorkflowEvent(run)
	if ev.Status != "failed" || ev.RunID != "r1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Detail != "apply_line_item_targeting: permission denied" {
		t.Fatalf("unexpected detail %q", ev.Detail)
	}
}

func TestRecorderFiltersByType(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	_ = r.RecordReconciliation(ctx, "t1", "mb1", models.AssignmentDiff{PackageID: "p1", Added: []string{"c1"}})
	_ = r.RecordWorkflow(ctx, models.WorkflowRun{ID: "r1", TenantID: "t1", Status: models.StatusCompleted})

	if got := len(r.Events("")); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
	recs := r.Events(EventReconciliation)
	if len(recs) != 1 || recs[0].PackageID != "p1" || recs[0].Added[0] != "c1" {
		t.Fatalf("unexpected reconciliation events %+v", recs)
	}
}
