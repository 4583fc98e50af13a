package audit

import (
	"context"
	"sync"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

var (
	_ Sink = (*ClickHouse)(nil)
	_ Sink = Nop{}
	_ Sink = (*Recorder)(nil)
)

// Nop discards every event. It is used when auditing is disabled.
type Nop struct{}

func (Nop) RecordReconciliation(context.Context, string, string, models.AssignmentDiff) error {
	return nil
}

func (Nop) RecordWorkflow(context.Context, models.WorkflowRun) error { return nil }

// Recorder keeps events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) RecordReconciliation(_ context.Context, tenantID, mediaBuyID string, diff models.AssignmentDiff) error {
	r.append(ReconciliationEvent(tenantID, mediaBuyID, diff))
	return nil
}

func (r *Recorder) RecordWorkflow(_ context.Context, run models.WorkflowRun) error {
	r.append(WorkflowEvent(run))
	return nil
}

func (r *Recorder) append(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events of the given type, or all
// events when eventType is empty.
func (r *Recorder) Events(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if eventType == "" || ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}
