// Package audit records reconciliation diffs and workflow outcomes to an
// append-only event store.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

// Event types written to the audit table.
const (
	EventReconciliation = "reconciliation"
	EventWorkflow       = "workflow"
)

// ErrUnavailable is returned when the audit DB is not configured.
var ErrUnavailable = fmt.Errorf("audit unavailable")

// Sink receives audit events. Implementations should return ErrUnavailable
// when the underlying storage is not configured.
type Sink interface {
	// RecordReconciliation records one package's applied assignment diff.
	RecordReconciliation(ctx context.Context, tenantID, mediaBuyID string, diff models.AssignmentDiff) error
	// RecordWorkflow records a run that reached a terminal status.
	RecordWorkflow(ctx context.Context, run models.WorkflowRun) error
}

// Event mirrors a row in the audit_events table.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  string    `json:"event_type"`
	TenantID   string    `json:"tenant_id"`
	MediaBuyID string    `json:"media_buy_id"`
	PackageID  string    `json:"package_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Added      []string  `json:"added,omitempty"`
	Removed    []string  `json:"removed,omitempty"`
	Current    []string  `json:"current,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// ClickHouse wraps a ClickHouse DB connection.
type ClickHouse struct {
	DB     *sql.DB
	logger *zap.Logger
}

// InitClickHouse connects to ClickHouse and ensures the audit table exists.
func InitClickHouse(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouse, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(10)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS audit_events (
       timestamp    DateTime,
       event_type   String,
       tenant_id    String,
       media_buy_id String,
       package_id   String,
       run_id       String,
       status       String,
       added        Array(String),
       removed      Array(String),
       current      Array(String),
       detail       String
   ) ENGINE=MergeTree() ORDER BY (tenant_id, media_buy_id, timestamp)`
	if _, err := db.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	logger.Info("Connected to ClickHouse")
	return &ClickHouse{DB: db, logger: logger}, nil
}

func (c *ClickHouse) insert(ctx context.Context, ev Event) error {
	if c == nil || c.DB == nil {
		return ErrUnavailable
	}
	stmt := `INSERT INTO audit_events (timestamp, event_type, tenant_id, media_buy_id, package_id, run_id, status, added, removed, current, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := c.DB.ExecContext(ctx, stmt, ev.Timestamp, ev.EventType, ev.TenantID, ev.MediaBuyID, ev.PackageID,
		ev.RunID, ev.Status, nonNil(ev.Added), nonNil(ev.Removed), nonNil(ev.Current), ev.Detail)
	if err != nil {
		c.logger.Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", ev.EventType))
		return fmt.Errorf("insert %s event: %w", ev.EventType, err)
	}
	return nil
}

func (c *ClickHouse) RecordReconciliation(ctx context.Context, tenantID, mediaBuyID string, diff models.AssignmentDiff) error {
	return c.insert(ctx, ReconciliationEvent(tenantID, mediaBuyID, diff))
}

func (c *ClickHouse) RecordWorkflow(ctx context.Context, run models.WorkflowRun) error {
	return c.insert(ctx, WorkflowEvent(run))
}

// EventsForMediaBuy returns the tenant's audit events for a media buy
// ordered by timestamp.
func (c *ClickHouse) EventsForMediaBuy(ctx context.Context, tenantID, mediaBuyID string) ([]Event, error) {
	if c == nil || c.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, event_type, tenant_id, media_buy_id, package_id, run_id, status, added, removed, current, detail FROM audit_events WHERE tenant_id=? AND media_buy_id=? ORDER BY timestamp`
	rows, err := c.DB.QueryContext(ctx, query, tenantID, mediaBuyID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			c.logger.Warn("rows close", zap.Error(err))
		}
	}()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Timestamp, &ev.EventType, &ev.TenantID, &ev.MediaBuyID, &ev.PackageID, &ev.RunID,
			&ev.Status, &ev.Added, &ev.Removed, &ev.Current, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// Close terminates the ClickHouse connection.
func (c *ClickHouse) Close() {
	if c != nil && c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.logger.Error("clickhouse close", zap.Error(err))
		}
	}
}

// ReconciliationEvent builds the audit row for one package diff.
func ReconciliationEvent(tenantID, mediaBuyID string, diff models.AssignmentDiff) Event {
	return Event{
		Timestamp:  time.Now().UTC(),
		EventType:  EventReconciliation,
		TenantID:   tenantID,
		MediaBuyID: mediaBuyID,
		PackageID:  diff.PackageID,
		Added:      diff.Added,
		Removed:    diff.Removed,
		Current:    diff.Current,
	}
}

// WorkflowEvent builds the audit row for a run. Detail carries the first
// failed step's detail, if any.
func WorkflowEvent(run models.WorkflowRun) Event {
	ev := Event{
		Timestamp:  time.Now().UTC(),
		EventType:  EventWorkflow,
		TenantID:   run.TenantID,
		MediaBuyID: run.MediaBuyID,
		RunID:      run.ID,
		Status:     string(run.Status),
	}
	for _, s := range run.Steps {
		if s.Status == models.StatusFailed {
			ev.Detail = s.Name + ": " + s.Detail
			break
		}
	}
	return ev
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
